// Package coordinator implements the settlement coordinator's front
// door: idempotency-keyed acceptance of new settlement requests,
// instance lifecycle management, and the background tasks (lock
// reaper, FX rate-lock reaper, participant heartbeat checker) that keep
// the rest of the system healthy.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/fx"
	"github.com/settlecoord/coordinator/internal/ledger"
	"github.com/settlecoord/coordinator/internal/locks"
	"github.com/settlecoord/coordinator/internal/logging"
	"github.com/settlecoord/coordinator/internal/money"
	"github.com/settlecoord/coordinator/internal/participants"
	"github.com/settlecoord/coordinator/internal/processor"
	"github.com/settlecoord/coordinator/internal/settlement"
)

// InstanceState is the coordinator's own operating state, distinct
// from any individual Settlement's lifecycle status.
type InstanceState int

const (
	StateStarting InstanceState = iota
	StateRunning
	StateShuttingDown
	StateStopped
	StateRecovering
	StateFollower
)

func (s InstanceState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateStopped:
		return "Stopped"
	case StateRecovering:
		return "Recovering"
	case StateFollower:
		return "Follower"
	default:
		return "Unknown"
	}
}

// Config holds the coordinator's top-level tunables.
type Config struct {
	Locks       locks.Config
	Participants participants.Config
	Processor   processor.Config
	RateLockReapInterval time.Duration
	DrainTimeout time.Duration
	DrainPollInterval time.Duration
}

// DefaultConfig returns the documented defaults for every collaborator,
// a 1s FX rate-lock reap interval, and a 30s shutdown drain timeout.
func DefaultConfig() Config {
	return Config{
		Locks:                locks.DefaultConfig(),
		Participants:         participants.DefaultConfig(),
		Processor:            processor.DefaultConfig(),
		RateLockReapInterval: time.Second,
		DrainTimeout:         30 * time.Second,
		DrainPollInterval:    500 * time.Millisecond,
	}
}

// pendingResult is what an idempotency-key entry resolves to once its
// settlement has finished (successfully or not).
type pendingResult struct {
	settlement *settlement.Settlement
	err        error
	done       chan struct{}
}

// Coordinator is the single entry point for accepting settlement
// requests and the owner of every long-running background task.
type Coordinator struct {
	mu    sync.RWMutex
	state InstanceState

	locks        *locks.Manager
	fx           *fx.Engine
	participants *participants.Registry
	proc         *processor.Processor
	ledgerSink   ledger.Sink
	logger       *logging.Logger
	config       Config

	idempotency map[string]*pendingResult
	inFlight    int64

	stop chan struct{}
}

// New wires a Coordinator from its collaborators. ledgerSink is typically
// an *ledger.MemorySink for tests or a durable sink in production.
func New(fxEngine *fx.Engine, ledgerSink ledger.Sink, logger *logging.Logger, config Config) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	lockMgr := locks.New(config.Locks)
	registry := participants.New(config.Participants)
	proc := processor.New(lockMgr, fxEngine, ledgerSink, registry, config.Processor)

	return &Coordinator{
		state:        StateStarting,
		locks:        lockMgr,
		fx:           fxEngine,
		participants: registry,
		proc:         proc,
		ledgerSink:   ledgerSink,
		logger:       logger,
		config:       config,
		idempotency:  make(map[string]*pendingResult),
		stop:         make(chan struct{}),
	}
}

// Participants exposes the participant registry for registration by
// the transport layer.
func (c *Coordinator) Participants() *participants.Registry { return c.participants }

// State returns the coordinator's current instance state.
func (c *Coordinator) State() InstanceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s InstanceState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start spawns the lock reaper, the FX rate-lock reaper, and the
// participant heartbeat checker, then marks the instance Running.
func (c *Coordinator) Start() {
	go c.locks.RunReaper(c.stop, func(lock *locks.Lock) {
		c.participants.Notify(string(lock.ParticipantId), participants.Notification{
			Type: participants.NotifyLockRelease,
			LockRelease: &participants.LockRelease{
				LockId:       lock.Id.String(),
				SettlementId: lock.SettlementId.String(),
			},
		})
	})
	go c.fx.RunRateLockReaper(c.stop, c.config.RateLockReapInterval)
	go c.participants.RunHeartbeatChecker(c.stop)

	c.setState(StateRunning)
	c.logger.Infof("coordinator started")
}

// Stop signals every background task to exit, then polls every
// DrainPollInterval for up to DrainTimeout waiting for in-flight
// settlements to finish, and marks the instance Stopped regardless of
// whether the drain completed.
func (c *Coordinator) Stop() {
	c.setState(StateShuttingDown)
	close(c.stop)

	deadline := time.Now().Add(c.config.DrainTimeout)
	ticker := time.NewTicker(c.config.DrainPollInterval)
	defer ticker.Stop()

	for atomic.LoadInt64(&c.inFlight) > 0 && time.Now().Before(deadline) {
		<-ticker.C
	}
	if n := atomic.LoadInt64(&c.inFlight); n > 0 {
		c.logger.Warnf("coordinator shutdown drain timed out with %d settlement(s) still in flight", n)
	} else {
		c.logger.Infof("coordinator drained cleanly")
	}
	c.setState(StateStopped)
}

// HandleSettlement accepts a new settlement request, with an optional
// ISO-20022-style compliance block. If idempotencyKey has already been
// seen, it blocks until the original request's processing completes
// (or suspends in PendingReview) and returns that outcome rather than
// reprocessing. Otherwise it registers the settlement, accepts
// immediately, and processes it in the background — callers get an
// Accepted settlement back without waiting for the full pipeline. If
// compliance.ReviewRequired is set, the settlement instead suspends in
// PendingReview until ResumeSettlement or RejectSettlement is called.
func (c *Coordinator) HandleSettlement(ctx context.Context, legs []settlement.SettlementLeg, idempotencyKey string, compliance *settlement.ComplianceData) (*settlement.Settlement, error) {
	if c.State() != StateRunning {
		return nil, coordinatorerrors.New(coordinatorerrors.KindCoordinatorBusy, "coordinator.HandleSettlement", nil)
	}

	c.mu.Lock()
	if existing, ok := c.idempotency[idempotencyKey]; ok {
		c.mu.Unlock()
		<-existing.done
		return existing.settlement, existing.err
	}

	s := settlement.New(idempotencyKey, legs)
	s.Compliance = compliance
	result := &pendingResult{settlement: s, done: make(chan struct{})}
	c.idempotency[idempotencyKey] = result
	c.mu.Unlock()

	atomic.AddInt64(&c.inFlight, 1)
	go func() {
		defer atomic.AddInt64(&c.inFlight, -1)
		defer close(result.done)
		result.err = c.proc.Process(ctx, s)
	}()

	return s, nil
}

// GetSettlement returns the settlement previously accepted under
// idempotencyKey, if any is known.
func (c *Coordinator) GetSettlement(idempotencyKey string) (*settlement.Settlement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.idempotency[idempotencyKey]
	if !ok {
		return nil, false
	}
	return result.settlement, true
}

// pendingReviewSettlement looks up the settlement registered under
// idempotencyKey and confirms it is currently suspended in
// PendingReview, as required by both ResumeSettlement and
// RejectSettlement.
func (c *Coordinator) pendingReviewSettlement(idempotencyKey, op string) (*settlement.Settlement, error) {
	c.mu.RLock()
	result, ok := c.idempotency[idempotencyKey]
	c.mu.RUnlock()
	if !ok {
		return nil, coordinatorerrors.New(coordinatorerrors.KindSettlementNotFound, op, nil)
	}
	if result.settlement.Status != settlement.PendingReview {
		return nil, coordinatorerrors.New(coordinatorerrors.KindInvalidTransition, op, nil)
	}
	return result.settlement, nil
}

// ResumeSettlement re-enters the pipeline for a settlement suspended in
// PendingReview after an external compliance system approves it. It
// blocks until the settlement reaches its next terminal status.
func (c *Coordinator) ResumeSettlement(ctx context.Context, idempotencyKey string) (*settlement.Settlement, error) {
	s, err := c.pendingReviewSettlement(idempotencyKey, "coordinator.ResumeSettlement")
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&c.inFlight, 1)
	defer atomic.AddInt64(&c.inFlight, -1)
	return s, c.proc.Resume(ctx, s)
}

// RejectSettlement terminates a settlement suspended in PendingReview
// after an external compliance system rejects it.
func (c *Coordinator) RejectSettlement(idempotencyKey, reason string) (*settlement.Settlement, error) {
	s, err := c.pendingReviewSettlement(idempotencyKey, "coordinator.RejectSettlement")
	if err != nil {
		return nil, err
	}
	return s, c.proc.Reject(s, reason)
}

// GetBalance reports the current known balance for an account in a
// given currency, as tracked by the coordinator's ledger sink.
func (c *Coordinator) GetBalance(ctx context.Context, account string, currency money.Currency) (money.Money, error) {
	return c.ledgerSink.BalanceOf(ctx, account, currency)
}
