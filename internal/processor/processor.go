// Package processor drives a single Settlement through its lifecycle:
// validate (including a compliance-review gate), acquire per-leg fund
// locks, pin any required FX rates, commit balance movements to the
// ledger, and notify participants — releasing every acquired lock and
// notifying participants on most failures, except a ledger-commit
// failure, which leaves locks for the reaper instead of releasing them
// immediately.
package processor

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/fx"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/ledger"
	"github.com/settlecoord/coordinator/internal/locks"
	"github.com/settlecoord/coordinator/internal/money"
	"github.com/settlecoord/coordinator/internal/participants"
	"github.com/settlecoord/coordinator/internal/settlement"
)

var negOneRat = big.NewRat(-1, 1)

// errPendingReview is returned by validate to signal that a settlement
// must suspend in PendingReview rather than having failed outright.
var errPendingReview = errors.New("processor: settlement requires compliance review")

// Config holds the processor's tunables for the lock-acquisition wait.
type Config struct {
	LockPollInterval time.Duration
	LockAcquireDeadline time.Duration
}

// DefaultConfig returns a 100ms poll interval with a 10s deadline.
func DefaultConfig() Config {
	return Config{
		LockPollInterval:    100 * time.Millisecond,
		LockAcquireDeadline: 10 * time.Second,
	}
}

// Processor ties the lock manager, FX engine, ledger sink, and
// participant registry together to fully advance one settlement.
type Processor struct {
	locks        *locks.Manager
	fx           *fx.Engine
	ledgerSink   ledger.Sink
	participants *participants.Registry
	config       Config
}

func New(lockMgr *locks.Manager, fxEngine *fx.Engine, ledgerSink ledger.Sink, registry *participants.Registry, config Config) *Processor {
	if config.LockPollInterval <= 0 || config.LockAcquireDeadline <= 0 {
		config = DefaultConfig()
	}
	return &Processor{
		locks:        lockMgr,
		fx:           fxEngine,
		ledgerSink:   ledgerSink,
		participants: registry,
		config:       config,
	}
}

// Process runs a Settlement through Validate -> Acquire locks -> Pin FX
// -> Commit -> Notify. If validate finds the settlement flagged for
// compliance review, Process instead transitions it to PendingReview
// and returns, leaving it suspended until Resume or Reject is called.
// Any other validation failure moves it to Rejected. A failure in a
// later stage routes through fail, which releases whatever locks were
// acquired and marks the settlement Failed, except a ledger-commit
// failure, which goes through failLeaveLocks instead.
func (p *Processor) Process(ctx context.Context, s *settlement.Settlement) error {
	if err := p.validate(s); err != nil {
		if errors.Is(err, errPendingReview) {
			if terr := s.TransitionTo(settlement.PendingReview); terr != nil {
				return p.fail(s, 0, coordinatorerrors.FailureInvalidRequest, terr)
			}
			return nil
		}
		// No lock exists yet at this stage, so there is nothing to release.
		_ = s.Reject(settlement.Failure{Code: coordinatorerrors.FailureCodeFor(err), Message: err.Error()})
		p.notifySettled(s)
		return err
	}
	if err := s.TransitionTo(settlement.Validated); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureInvalidRequest, err)
	}
	return p.runFromValidated(ctx, s)
}

// Resume continues a settlement suspended in PendingReview after an
// external compliance verdict approves it, re-entering the pipeline at
// lock acquisition. If s is not currently PendingReview it returns an
// InvalidTransition error and leaves s unchanged.
func (p *Processor) Resume(ctx context.Context, s *settlement.Settlement) error {
	if s.Status != settlement.PendingReview {
		return coordinatorerrors.New(coordinatorerrors.KindInvalidTransition, "processor.Resume", nil)
	}
	if err := s.TransitionTo(settlement.Validated); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureInvalidRequest, err)
	}
	return p.runFromValidated(ctx, s)
}

// Reject terminates a settlement suspended in PendingReview after an
// external compliance verdict rejects it, notifying every touched
// participant of the final Rejected status. No locks have been
// acquired yet at this stage, so there is nothing to release.
func (p *Processor) Reject(s *settlement.Settlement, reason string) error {
	if s.Status != settlement.PendingReview {
		return coordinatorerrors.New(coordinatorerrors.KindInvalidTransition, "processor.Reject", nil)
	}
	if err := s.Reject(settlement.Failure{
		Code:    coordinatorerrors.FailureComplianceRejected,
		Message: reason,
	}); err != nil {
		return err
	}
	p.notifySettled(s)
	return nil
}

// runFromValidated carries a Validated settlement through Acquire locks
// -> Pin FX -> Commit -> Notify. Shared by Process's initial pass and by
// Resume's re-entry after a compliance approval.
func (p *Processor) runFromValidated(ctx context.Context, s *settlement.Settlement) error {
	if err := s.TransitionTo(settlement.Locking); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureInvalidRequest, err)
	}
	if err := p.acquireLocks(ctx, s); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureCodeFor(err), err)
	}
	if err := s.TransitionTo(settlement.Locked); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureLockTimeout, err)
	}

	if err := p.pinFx(ctx, s); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureCodeFor(err), err)
	}

	if err := s.TransitionTo(settlement.Committing); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureInvalidRequest, err)
	}
	if err := p.commit(ctx, s); err != nil {
		// Per the failure-handling contract, a ledger failure leaves
		// locks for the reaper rather than releasing them immediately:
		// the sink may have partially applied the settlement, and an
		// explicit release here could race its own atomicity guarantees.
		return p.failLeaveLocks(s, 0, coordinatorerrors.FailureCoordinatorError, err)
	}
	if err := s.TransitionTo(settlement.Committed); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureCoordinatorError, err)
	}

	p.locks.ConsumeAllForSettlement(s.Id)

	if err := s.TransitionTo(settlement.Settled); err != nil {
		return p.fail(s, 0, coordinatorerrors.FailureCoordinatorError, err)
	}

	p.notifySettled(s)
	return nil
}

// validate checks structural invariants the coordinator front door
// doesn't already enforce (at least one leg, every leg's amount
// positive), then gates on compliance review: if the settlement carries
// a ComplianceData block with ReviewRequired set, validate returns
// errPendingReview instead of succeeding.
func (p *Processor) validate(s *settlement.Settlement) error {
	if len(s.Legs) == 0 {
		return coordinatorerrors.New(coordinatorerrors.KindInvalidMessage, "processor.validate", nil)
	}
	for _, leg := range s.Legs {
		if !leg.Amount.IsPositive() {
			return coordinatorerrors.New(coordinatorerrors.KindInvalidMessage, "processor.validate", nil)
		}
	}
	if s.Compliance != nil && s.Compliance.ReviewRequired {
		return errPendingReview
	}
	return nil
}

// acquireLocks creates one lock per leg against the sending
// participant's account, then polls until every lock is confirmed or
// the acquire deadline elapses.
func (p *Processor) acquireLocks(ctx context.Context, s *settlement.Settlement) error {
	for i := range s.Legs {
		leg := &s.Legs[i]
		lock, err := p.locks.Create(s.Id, leg.FromParticipant, leg.Amount)
		if err != nil {
			return err
		}
		leg.LockId = &lock.Id

		p.participants.Notify(string(leg.FromParticipant), participants.Notification{
			Type: participants.NotifyLockRequest,
			LockRequest: &participants.LockRequest{
				LockId:       lock.Id.String(),
				SettlementId: s.Id.String(),
				Amount:       leg.Amount.DecimalString(),
				Currency:     string(leg.Amount.Currency()),
				ExpiresAt:    lock.ExpiresAt,
			},
		})
	}

	deadline := time.Now().Add(p.config.LockAcquireDeadline)
	ticker := time.NewTicker(p.config.LockPollInterval)
	defer ticker.Stop()

	for {
		if p.locks.AllConfirmed(s.Id) {
			return nil
		}
		if offline := p.firstOfflineParticipant(s); offline != "" {
			return coordinatorerrors.New(coordinatorerrors.KindParticipantOffline, "processor.acquireLocks", nil)
		}
		if time.Now().After(deadline) {
			return coordinatorerrors.New(coordinatorerrors.KindLockTimeout, "processor.acquireLocks", nil)
		}
		select {
		case <-ctx.Done():
			return coordinatorerrors.New(coordinatorerrors.KindTimeout, "processor.acquireLocks", ctx.Err())
		case <-ticker.C:
		}
	}
}

// firstOfflineParticipant returns the id of the first participant
// touched by s (as either sender or receiver on any leg) that the
// registry reports as not active, or "" if every touched participant
// the registry knows about is still active. A participant the registry
// has never heard of is not considered offline — only a registered
// participant going StateDisconnected/StateSuspended counts.
func (p *Processor) firstOfflineParticipant(s *settlement.Settlement) ids.ParticipantId {
	seen := make(map[ids.ParticipantId]bool)
	for _, leg := range s.Legs {
		for _, pid := range []ids.ParticipantId{leg.FromParticipant, leg.ToParticipant} {
			if seen[pid] {
				continue
			}
			seen[pid] = true
			if _, known := p.participants.Get(string(pid)); known && !p.participants.IsActive(string(pid)) {
				return pid
			}
		}
	}
	return ""
}

// pinFx converts every cross-currency leg at the FX engine's current
// rate (ConvertSimple), recording the converted amount, the rate used,
// and top-level FxDetails. A leg's FxInstruction.RateReference is not
// consulted: no previously issued rate lock is consumed here.
func (p *Processor) pinFx(ctx context.Context, s *settlement.Settlement) error {
	for i := range s.Legs {
		leg := &s.Legs[i]
		if !leg.IsCrossCurrency() {
			continue
		}

		conv, err := p.fx.ConvertSimple(ctx, leg.Amount, money.Currency(leg.ToAccount.Currency))
		if err != nil {
			return err
		}
		leg.ConvertedAmount = &conv.Output
		if leg.FxInstruction == nil {
			leg.FxInstruction = &settlement.FxInstruction{Mode: settlement.FxAtCoordinator}
		}
		leg.FxInstruction.TargetCurrency = leg.ToAccount.Currency
		leg.FxInstruction.LockedRate = &conv.Rate

		if s.FxDetails == nil {
			s.FxDetails = &settlement.FxDetails{
				RateUsed:        conv.Rate,
				SourceAmount:    conv.Source,
				ConvertedAmount: conv.Output,
			}
		}
	}
	return nil
}

// commit applies every leg's debit/credit pair to the ledger sink.
func (p *Processor) commit(ctx context.Context, s *settlement.Settlement) error {
	for i := range s.Legs {
		leg := s.Legs[i]

		creditAmount := leg.Amount
		creditCurrency := money.Currency(leg.ToAccount.Currency)
		if leg.ConvertedAmount != nil {
			creditAmount = *leg.ConvertedAmount
			creditCurrency = leg.ConvertedAmount.Currency()
		}

		debit := ledger.Movement{
			Account:  leg.FromAccount.Canonical(),
			Currency: money.Currency(leg.FromAccount.Currency),
			Delta:    leg.Amount.Abs().MulRat(negOneRat),
		}
		credit := ledger.Movement{
			Account:  leg.ToAccount.Canonical(),
			Currency: creditCurrency,
			Delta:    creditAmount,
		}

		if err := p.ledgerSink.Apply(ctx, s.Id, int(leg.LegNumber), debit, credit); err != nil {
			return err
		}
	}
	return nil
}

// notifySettled informs every participant touched by the settlement of
// its final status.
func (p *Processor) notifySettled(s *settlement.Settlement) {
	seen := make(map[ids.ParticipantId]bool)
	for _, leg := range s.Legs {
		for _, pid := range []ids.ParticipantId{leg.FromParticipant, leg.ToParticipant} {
			if seen[pid] {
				continue
			}
			seen[pid] = true
			p.participants.Notify(string(pid), participants.Notification{
				Type: participants.NotifySettlement,
				Settlement: &participants.SettlementNotification{
					SettlementId: s.Id.String(),
					Status:       s.Status.String(),
				},
			})
		}
	}
}

// fail marks s Failed (idempotently — a settlement already in a final
// state is left alone) and releases every lock it holds, notifying each
// lock's owning participant with a LockRelease and every leg participant
// with the final Failed status.
func (p *Processor) fail(s *settlement.Settlement, failedLeg uint32, code coordinatorerrors.FailureCode, cause error) error {
	p.markFailed(s, failedLeg, code, cause)

	for _, lock := range p.locks.ReleaseAllForSettlement(s.Id) {
		p.participants.Notify(string(lock.ParticipantId), participants.Notification{
			Type: participants.NotifyLockRelease,
			LockRelease: &participants.LockRelease{
				LockId:       lock.Id.String(),
				SettlementId: s.Id.String(),
			},
		})
	}

	p.notifySettled(s)
	return cause
}

// failLeaveLocks marks s Failed like fail, but does not release its
// locks — used for ledger-commit failures, where the sink may have
// partially applied the settlement and the reaper, not an explicit
// release, is left to reclaim the locks on its own schedule.
func (p *Processor) failLeaveLocks(s *settlement.Settlement, failedLeg uint32, code coordinatorerrors.FailureCode, cause error) error {
	p.markFailed(s, failedLeg, code, cause)
	p.notifySettled(s)
	return cause
}

func (p *Processor) markFailed(s *settlement.Settlement, failedLeg uint32, code coordinatorerrors.FailureCode, cause error) {
	_ = s.Fail(settlement.Failure{
		Code:      code,
		Message:   cause.Error(),
		FailedLeg: &failedLeg,
	})
}
