// Package ledger implements the coordinator's commit-time balance
// application: debiting the sending account and crediting the
// receiving account for each settlement leg, recorded through a
// pluggable Sink.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

// Movement is a single account balance change applied as part of
// committing one settlement leg: debit the sender's account, credit
// the receiver's, possibly in different currencies when an FX
// conversion was pinned for the leg.
type Movement struct {
	Account  string
	Currency money.Currency
	Delta    money.Money // signed: negative for a debit, positive for a credit
}

// Sink is the destination for committed ledger entries. Implementations
// must be safe for concurrent use.
type Sink interface {
	// Apply records the debit/credit pair for one leg. It must be
	// idempotent under the same (SettlementId, LegNumber) key so that a
	// retried commit does not double-apply.
	Apply(ctx context.Context, settlementId ids.SettlementId, legNumber int, debit, credit Movement) error

	// BalanceOf returns the current known balance for an account, or
	// zero if the account has never been touched.
	BalanceOf(ctx context.Context, account string, currency money.Currency) (money.Money, error)
}

// applied is the idempotency key for a committed leg.
type applied struct {
	settlementId ids.SettlementId
	legNumber    int
}

// MemorySink is an in-process reference Sink backed by a mutex-guarded
// map, suitable for tests and for deployments that don't require a
// durable commit journal.
type MemorySink struct {
	mu       sync.Mutex
	balances map[string]money.Money // key: "account:currency"
	done     map[applied]bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		balances: make(map[string]money.Money),
		done:     make(map[applied]bool),
	}
}

func balanceKey(account string, currency money.Currency) string {
	return fmt.Sprintf("%s:%s", account, currency)
}

func (s *MemorySink) Apply(_ context.Context, settlementId ids.SettlementId, legNumber int, debit, credit Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := applied{settlementId: settlementId, legNumber: legNumber}
	if s.done[key] {
		return nil
	}

	if err := s.adjust(debit); err != nil {
		return err
	}
	if err := s.adjust(credit); err != nil {
		return err
	}
	s.done[key] = true
	return nil
}

// adjust must be called with s.mu held.
func (s *MemorySink) adjust(m Movement) error {
	key := balanceKey(m.Account, m.Currency)
	current, ok := s.balances[key]
	if !ok {
		current = money.Zero(m.Currency)
	}
	updated, err := current.Add(m.Delta)
	if err != nil {
		return coordinatorerrors.New(coordinatorerrors.KindInternalError, "ledger.MemorySink.adjust", err)
	}
	s.balances[key] = updated
	return nil
}

func (s *MemorySink) BalanceOf(_ context.Context, account string, currency money.Currency) (money.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.balances[balanceKey(account, currency)]; ok {
		return bal, nil
	}
	return money.Zero(currency), nil
}
