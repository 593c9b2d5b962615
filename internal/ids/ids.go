// Package ids defines the identifier types used across the settlement
// coordinator: a time-ordered settlement id, random lock/message/rate-lock
// ids, and the participant/account identifiers that key every index in
// the system.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SettlementId is a time-ordered identifier: creation order is
// reconstructible from the id alone (UUIDv7).
type SettlementId uuid.UUID

// NewSettlementId allocates a fresh, time-ordered settlement id.
func NewSettlementId() SettlementId {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system entropy source is broken; a
		// random v4 is an acceptable degraded fallback, not a panic.
		return SettlementId(uuid.New())
	}
	return SettlementId(id)
}

// ParseSettlementId parses a settlement id from its canonical string form.
func ParseSettlementId(s string) (SettlementId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SettlementId{}, fmt.Errorf("parse settlement id: %w", err)
	}
	return SettlementId(id), nil
}

func (s SettlementId) String() string { return uuid.UUID(s).String() }

// LockId is a random (UUIDv4) identifier for a fund-reservation lock.
type LockId uuid.UUID

func NewLockId() LockId        { return LockId(uuid.New()) }
func (l LockId) String() string { return uuid.UUID(l).String() }

// MessageId is a random (UUIDv4) identifier for a dispatched notification.
type MessageId uuid.UUID

func NewMessageId() MessageId   { return MessageId(uuid.New()) }
func (m MessageId) String() string { return uuid.UUID(m).String() }

// RateLockId is a random (UUIDv4) identifier for a single-use FX rate lock.
type RateLockId uuid.UUID

func NewRateLockId() RateLockId    { return RateLockId(uuid.New()) }
func (r RateLockId) String() string { return uuid.UUID(r).String() }

// ParticipantId is a nonempty, alphanumeric-or-underscore string of at
// most 64 characters. Dashes are deliberately excluded, so an id like
// "bank-with-dash" is rejected.
type ParticipantId string

// IsValid reports whether the id satisfies the length and character-set
// constraints.
func (p ParticipantId) IsValid() bool {
	s := string(p)
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

func (p ParticipantId) String() string { return string(p) }

// AccountId identifies a specific account at a participant, denominated
// in a single currency.
type AccountId struct {
	ParticipantId ParticipantId
	AccountNumber string
	Currency      string
}

// NewAccountId builds an AccountId, uppercasing the currency code.
func NewAccountId(participantId ParticipantId, accountNumber, currency string) AccountId {
	return AccountId{
		ParticipantId: participantId,
		AccountNumber: accountNumber,
		Currency:      strings.ToUpper(currency),
	}
}

// Canonical returns the "<participant>:<account>:<currency>" string used
// as the account's canonical, human-auditable key.
func (a AccountId) Canonical() string {
	return fmt.Sprintf("%s:%s:%s", a.ParticipantId, a.AccountNumber, a.Currency)
}

func (a AccountId) String() string { return a.Canonical() }

// NodeId identifies a coordinator instance (used for diagnostics and as
// the owning authority of every settlement it accepts).
type NodeId string
