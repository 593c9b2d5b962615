package coordinator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/fx"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/ledger"
	"github.com/settlecoord/coordinator/internal/logging"
	"github.com/settlecoord/coordinator/internal/money"
	"github.com/settlecoord/coordinator/internal/settlement"
)

type staticProvider struct{ rate money.FxRate }

func (p staticProvider) Name() string { return "STATIC" }
func (p staticProvider) GetRate(_ context.Context, _ money.CurrencyPair) (money.FxRate, error) {
	return p.rate, nil
}
func (p staticProvider) SupportsPair(_ money.CurrencyPair) bool { return true }
func (p staticProvider) SupportedPairs() []money.CurrencyPair   { return nil }

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	pair := money.CurrencyPair{Base: "USD", Quote: "EUR"}
	rate := money.NewFxRate(pair, big.NewRat(919, 1000), big.NewRat(921, 1000), time.Minute, "STATIC")
	engine := fx.NewEngine(staticProvider{rate: rate}, fx.DefaultEngineConfig())

	cfg := DefaultConfig()
	cfg.Locks.DefaultDuration = 5 * time.Second
	cfg.Processor.LockPollInterval = 5 * time.Millisecond
	cfg.Processor.LockAcquireDeadline = 200 * time.Millisecond
	cfg.RateLockReapInterval = 10 * time.Millisecond
	cfg.Participants.HeartbeatInterval = 10 * time.Millisecond
	cfg.Participants.HeartbeatTimeout = time.Hour
	cfg.DrainTimeout = time.Second

	c := New(engine, ledger.NewMemorySink(), logging.Default(), cfg)
	c.Participants().Register("BANK_A")
	_ = c.Participants().Activate("BANK_A")
	c.Participants().Register("BANK_B")
	_ = c.Participants().Activate("BANK_B")
	c.setState(StateRunning)
	return c
}

func confirmEventually(c *Coordinator, settlementId ids.SettlementId) {
	go func() {
		time.Sleep(15 * time.Millisecond)
		for _, lock := range c.locks.LocksForSettlement(settlementId) {
			c.locks.Confirm(lock.Id)
		}
	}()
}

func TestCoordinator_HandleSettlement_HappyPath(t *testing.T) {
	c := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	amount, _ := money.New("250.00", "USD")
	legs := []settlement.SettlementLeg{{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "1", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "2", "USD"),
		Amount:          amount,
	}}

	s, err := c.HandleSettlement(context.Background(), legs, "idem-key-1", nil)
	if err != nil {
		t.Fatalf("HandleSettlement: %v", err)
	}
	confirmEventually(c, s.Id)

	deadline := time.After(time.Second)
	for s.Status != settlement.Settled {
		select {
		case <-deadline:
			t.Fatalf("settlement did not reach Settled, stuck at %s", s.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCoordinator_HandleSettlement_IdempotentReplay(t *testing.T) {
	c := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	amount, _ := money.New("10.00", "USD")
	legs := []settlement.SettlementLeg{{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "1", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "2", "USD"),
		Amount:          amount,
	}}

	first, err := c.HandleSettlement(context.Background(), legs, "idem-key-2", nil)
	if err != nil {
		t.Fatalf("first HandleSettlement: %v", err)
	}
	confirmEventually(c, first.Id)

	second, err := c.HandleSettlement(context.Background(), legs, "idem-key-2", nil)
	if err != nil {
		t.Fatalf("second HandleSettlement: %v", err)
	}
	if first.Id != second.Id {
		t.Errorf("expected the same settlement to be returned for a repeated idempotency key")
	}
}

func TestCoordinator_HandleSettlement_ComplianceReviewThenResume(t *testing.T) {
	c := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	amount, _ := money.New("75.00", "USD")
	legs := []settlement.SettlementLeg{{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "1", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "2", "USD"),
		Amount:          amount,
	}}

	s, err := c.HandleSettlement(context.Background(), legs, "idem-key-review", &settlement.ComplianceData{ReviewRequired: true})
	if err != nil {
		t.Fatalf("HandleSettlement: %v", err)
	}

	deadline := time.After(time.Second)
	for s.Status != settlement.PendingReview {
		select {
		case <-deadline:
			t.Fatalf("settlement did not reach PendingReview, stuck at %s", s.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	confirmEventually(c, s.Id)

	resumed, err := c.ResumeSettlement(context.Background(), "idem-key-review")
	if err != nil {
		t.Fatalf("ResumeSettlement: %v", err)
	}
	if resumed.Status != settlement.Settled {
		t.Fatalf("expected Settled after resume, got %s", resumed.Status)
	}
}

func TestCoordinator_HandleSettlement_ComplianceReviewThenReject(t *testing.T) {
	c := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	amount, _ := money.New("75.00", "USD")
	legs := []settlement.SettlementLeg{{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "1", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "2", "USD"),
		Amount:          amount,
	}}

	s, err := c.HandleSettlement(context.Background(), legs, "idem-key-reject", &settlement.ComplianceData{ReviewRequired: true})
	if err != nil {
		t.Fatalf("HandleSettlement: %v", err)
	}

	deadline := time.After(time.Second)
	for s.Status != settlement.PendingReview {
		select {
		case <-deadline:
			t.Fatalf("settlement did not reach PendingReview, stuck at %s", s.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	rejected, err := c.RejectSettlement("idem-key-reject", "sanctions match")
	if err != nil {
		t.Fatalf("RejectSettlement: %v", err)
	}
	if rejected.Status != settlement.Rejected {
		t.Fatalf("expected Rejected, got %s", rejected.Status)
	}
	if rejected.Failure == nil || rejected.Failure.Code != coordinatorerrors.FailureComplianceRejected {
		t.Fatalf("expected a ComplianceRejected failure record, got %+v", rejected.Failure)
	}
}

func TestCoordinator_ResumeSettlement_RejectsWhenNotPendingReview(t *testing.T) {
	c := newTestCoordinator(t)
	c.Start()
	defer c.Stop()

	amount, _ := money.New("5.00", "USD")
	legs := []settlement.SettlementLeg{{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "1", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "2", "USD"),
		Amount:          amount,
	}}

	s, err := c.HandleSettlement(context.Background(), legs, "idem-key-not-review", nil)
	if err != nil {
		t.Fatalf("HandleSettlement: %v", err)
	}
	confirmEventually(c, s.Id)

	if _, err := c.ResumeSettlement(context.Background(), "idem-key-not-review"); err == nil {
		t.Fatalf("expected ResumeSettlement to reject a settlement not in PendingReview")
	}
}
