package settlement

import (
	"time"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

// FxMode selects which side of a cross-currency leg performs the
// conversion. Only AtCoordinator is exercised by the processor in this
// module; AtSource/AtDestination are accepted and stored for forward
// compatibility with a participant-side conversion flow that remains
// out of scope.
type FxMode int

const (
	FxAtSource FxMode = iota
	FxAtDestination
	FxAtCoordinator
)

// FxInstruction describes how a cross-currency leg's conversion is to be
// performed.
type FxInstruction struct {
	Mode           FxMode
	TargetCurrency string
	LockedRate     *money.FxRate
	RateReference  string
}

// SettlementLeg is one directed transfer within a settlement.
type SettlementLeg struct {
	LegNumber       uint32
	FromParticipant ids.ParticipantId
	FromAccount     ids.AccountId
	ToParticipant   ids.ParticipantId
	ToAccount       ids.AccountId
	Amount          money.Money
	FxInstruction   *FxInstruction
	LockId          *ids.LockId
	ConvertedAmount *money.Money
}

// IsCrossCurrency reports whether the leg's source and destination
// accounts are denominated in different currencies.
func (l SettlementLeg) IsCrossCurrency() bool {
	return l.FromAccount.Currency != l.ToAccount.Currency
}

// ComplianceData is the optional ISO-20022-style compliance block. The
// core never screens this data itself — an upstream compliance system
// sets ReviewRequired before the settlement is submitted, and the
// processor only gates on that flag and on the later external verdict
// delivered through Coordinator.ResumeSettlement/RejectSettlement.
type ComplianceData struct {
	PurposeCode          string
	RemittanceInfo       string
	Debtor               PartyInfo
	Creditor             PartyInfo
	RegulatoryReporting  string
	ReviewRequired       bool
}

type PartyInfo struct {
	Name           string
	Identifier     string
	IdentifierType string
	Address        Address
}

type Address struct {
	Street     string
	City       string
	PostalCode string
	Country    string
}

// FxDetails is populated iff any leg is cross-currency.
type FxDetails struct {
	RateUsed            money.FxRate
	SourceAmount        money.Money
	ConvertedAmount     money.Money
	ConversionReference string
}

// Timing holds the set-once timestamps for each lifecycle entry.
type Timing struct {
	InitiatedAt time.Time
	ValidatedAt *time.Time
	LockedAt    *time.Time
	CommittedAt *time.Time
	SettledAt   *time.Time
	FailedAt    *time.Time
}

// TotalDurationMs returns the elapsed time from initiation to the
// latest lifecycle timestamp set so far (failed, settled, committed,
// locked or validated), or zero if only InitiatedAt is set.
func (t Timing) TotalDurationMs() int64 {
	end := t.latest()
	if end == nil {
		return 0
	}
	return end.Sub(t.InitiatedAt).Milliseconds()
}

func (t Timing) latest() *time.Time {
	for _, candidate := range []*time.Time{t.FailedAt, t.SettledAt, t.CommittedAt, t.LockedAt, t.ValidatedAt} {
		if candidate != nil {
			return candidate
		}
	}
	return nil
}

// Failure is populated iff status is Failed or Rejected.
type Failure struct {
	Code      coordinatorerrors.FailureCode
	Message   string
	FailedLeg *uint32
	FailedAt  time.Time
}

// Settlement is the root aggregate driven through the lifecycle state
// machine by the processor.
type Settlement struct {
	Id             ids.SettlementId
	IdempotencyKey string
	Status         Status
	Legs           []SettlementLeg
	Compliance     *ComplianceData
	FxDetails      *FxDetails
	Timing         Timing
	Failure        *Failure
	Metadata       map[string]string
}

// New constructs a fresh Settlement in the Initiated state.
func New(idempotencyKey string, legs []SettlementLeg) *Settlement {
	return &Settlement{
		Id:             ids.NewSettlementId(),
		IdempotencyKey: idempotencyKey,
		Status:         Initiated,
		Legs:           legs,
		Timing:         Timing{InitiatedAt: time.Now()},
		Metadata:       make(map[string]string),
	}
}

// IsCrossCurrency reports whether any leg requires FX conversion.
func (s *Settlement) IsCrossCurrency() bool {
	for _, leg := range s.Legs {
		if leg.IsCrossCurrency() {
			return true
		}
	}
	return false
}

// TotalAmount sums all legs' amounts if they share a single currency;
// returns ok=false if the legs span more than one currency.
func (s *Settlement) TotalAmount() (total money.Money, ok bool) {
	if len(s.Legs) == 0 {
		return money.Money{}, false
	}
	total = money.Zero(s.Legs[0].Amount.Currency())
	for _, leg := range s.Legs {
		var err error
		total, err = total.Add(leg.Amount)
		if err != nil {
			return money.Money{}, false
		}
	}
	return total, true
}

// TransitionTo validates and applies a status change, stamping the
// corresponding timing field on first entry to {Validated, Locked,
// Committed, Settled}. It never rewrites an already-set timing field.
func (s *Settlement) TransitionTo(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: s.Status, To: next}
	}
	s.Status = next
	now := time.Now()
	switch next {
	case Validated:
		if s.Timing.ValidatedAt == nil {
			s.Timing.ValidatedAt = &now
		}
	case Locked:
		if s.Timing.LockedAt == nil {
			s.Timing.LockedAt = &now
		}
	case Committed:
		if s.Timing.CommittedAt == nil {
			s.Timing.CommittedAt = &now
		}
	case Settled:
		if s.Timing.SettledAt == nil {
			s.Timing.SettledAt = &now
		}
	}
	return nil
}

// Fail transitions the settlement to Failed, attaching failure details.
// It is a no-op (returning an error) if the settlement is already in a
// final state — matching the processor's idempotent failure handler.
func (s *Settlement) Fail(failure Failure) error {
	if s.Status.IsFinal() {
		return &InvalidTransitionError{From: s.Status, To: Failed}
	}
	now := time.Now()
	failure.FailedAt = now
	s.Failure = &failure
	s.Status = Failed
	s.Timing.FailedAt = &now
	return nil
}

// Reject transitions the settlement to Rejected, attaching failure
// details — used both for structural/compliance rejections at intake
// and for an external compliance verdict rejecting a PendingReview
// settlement.
func (s *Settlement) Reject(failure Failure) error {
	if !s.Status.CanTransitionTo(Rejected) {
		return &InvalidTransitionError{From: s.Status, To: Rejected}
	}
	now := time.Now()
	failure.FailedAt = now
	s.Failure = &failure
	s.Status = Rejected
	s.Timing.FailedAt = &now
	return nil
}
