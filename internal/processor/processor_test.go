package processor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/settlecoord/coordinator/internal/fx"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/ledger"
	"github.com/settlecoord/coordinator/internal/locks"
	"github.com/settlecoord/coordinator/internal/money"
	"github.com/settlecoord/coordinator/internal/participants"
	"github.com/settlecoord/coordinator/internal/settlement"
)

// failingSink always errors on Apply, simulating a ledger-commit failure
// after locks have already been acquired.
type failingSink struct{}

func (failingSink) Apply(context.Context, ids.SettlementId, int, ledger.Movement, ledger.Movement) error {
	return context.DeadlineExceeded
}
func (failingSink) BalanceOf(context.Context, string, money.Currency) (money.Money, error) {
	return money.Money{}, nil
}

type fakeProvider struct {
	rate money.FxRate
}

func (f fakeProvider) Name() string { return "FAKE" }
func (f fakeProvider) GetRate(_ context.Context, _ money.CurrencyPair) (money.FxRate, error) {
	return f.rate, nil
}
func (f fakeProvider) SupportsPair(_ money.CurrencyPair) bool { return true }
func (f fakeProvider) SupportedPairs() []money.CurrencyPair   { return nil }

func newTestProcessor() (*Processor, *locks.Manager, *participants.Registry) {
	lockCfg := locks.DefaultConfig()
	lockCfg.DefaultDuration = 5 * time.Second
	lockMgr := locks.New(lockCfg)

	pair := money.CurrencyPair{Base: "USD", Quote: "EUR"}
	rate := money.NewFxRate(pair, big.NewRat(919, 1000), big.NewRat(921, 1000), time.Minute, "FAKE")
	engine := fx.NewEngine(fakeProvider{rate: rate}, fx.DefaultEngineConfig())

	registry := participants.New(participants.DefaultConfig())
	registry.Register("BANK_A")
	_ = registry.Activate("BANK_A")
	registry.Register("BANK_B")
	_ = registry.Activate("BANK_B")

	cfg := Config{LockPollInterval: 5 * time.Millisecond, LockAcquireDeadline: time.Second}
	return New(lockMgr, engine, ledger.NewMemorySink(), registry, cfg), lockMgr, registry
}

func confirmAllShortly(mgr *locks.Manager, settlementId ids.SettlementId) {
	go func() {
		time.Sleep(10 * time.Millisecond)
		for _, lock := range mgr.LocksForSettlement(settlementId) {
			mgr.Confirm(lock.Id)
		}
	}()
}

func TestProcessor_HappyPathSameCurrency(t *testing.T) {
	proc, lockMgr, _ := newTestProcessor()

	amount, _ := money.New("500.00", "USD")
	leg := settlement.SettlementLeg{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "111", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "222", "USD"),
		Amount:          amount,
	}
	s := settlement.New("idem-1", []settlement.SettlementLeg{leg})

	confirmAllShortly(lockMgr, s.Id)

	if err := proc.Process(context.Background(), s); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if s.Status != settlement.Settled {
		t.Fatalf("expected Settled, got %s", s.Status)
	}
}

func TestProcessor_CrossCurrencyPinsRate(t *testing.T) {
	proc, lockMgr, _ := newTestProcessor()

	amount, _ := money.New("1000", "USD")
	leg := settlement.SettlementLeg{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "111", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "222", "EUR"),
		Amount:          amount,
	}
	s := settlement.New("idem-2", []settlement.SettlementLeg{leg})

	confirmAllShortly(lockMgr, s.Id)

	if err := proc.Process(context.Background(), s); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if s.Status != settlement.Settled {
		t.Fatalf("expected Settled, got %s", s.Status)
	}
	if s.FxDetails == nil {
		t.Fatalf("expected FxDetails to be populated for a cross-currency settlement")
	}
	if got := s.FxDetails.ConvertedAmount.DecimalString(); got != "920.00" {
		t.Errorf("converted amount = %s, want 920.00", got)
	}
}

func TestProcessor_LockTimeoutFailsAndReleases(t *testing.T) {
	proc, lockMgr, _ := newTestProcessor()
	proc.config.LockAcquireDeadline = 20 * time.Millisecond

	amount, _ := money.New("100.00", "USD")
	leg := settlement.SettlementLeg{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "111", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "222", "USD"),
		Amount:          amount,
	}
	s := settlement.New("idem-3", []settlement.SettlementLeg{leg})
	// deliberately never confirm the lock

	err := proc.Process(context.Background(), s)
	if err == nil {
		t.Fatalf("expected a lock-timeout failure")
	}
	if s.Status != settlement.Failed {
		t.Fatalf("expected Failed, got %s", s.Status)
	}

	for _, lock := range lockMgr.LocksForSettlement(s.Id) {
		if lock.IsActive() {
			t.Errorf("expected lock %s to be released after failure", lock.Id)
		}
	}
}

func TestProcessor_CommitFailureLeavesLocksForReaper(t *testing.T) {
	lockCfg := locks.DefaultConfig()
	lockCfg.DefaultDuration = 5 * time.Second
	lockMgr := locks.New(lockCfg)

	pair := money.CurrencyPair{Base: "USD", Quote: "EUR"}
	rate := money.NewFxRate(pair, big.NewRat(919, 1000), big.NewRat(921, 1000), time.Minute, "FAKE")
	engine := fx.NewEngine(fakeProvider{rate: rate}, fx.DefaultEngineConfig())

	registry := participants.New(participants.DefaultConfig())
	registry.Register("BANK_A")
	_ = registry.Activate("BANK_A")
	registry.Register("BANK_B")
	_ = registry.Activate("BANK_B")

	cfg := Config{LockPollInterval: 5 * time.Millisecond, LockAcquireDeadline: time.Second}
	proc := New(lockMgr, engine, failingSink{}, registry, cfg)

	amount, _ := money.New("100.00", "USD")
	leg := settlement.SettlementLeg{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "111", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "222", "USD"),
		Amount:          amount,
	}
	s := settlement.New("idem-commit-fail", []settlement.SettlementLeg{leg})

	confirmAllShortly(lockMgr, s.Id)

	err := proc.Process(context.Background(), s)
	if err == nil {
		t.Fatalf("expected a commit failure")
	}
	if s.Status != settlement.Failed {
		t.Fatalf("expected Failed, got %s", s.Status)
	}

	for _, lock := range lockMgr.LocksForSettlement(s.Id) {
		if !lock.IsActive() {
			t.Errorf("expected lock %s to remain active after a commit failure, left for the reaper instead of released", lock.Id)
		}
	}
}

func TestProcessor_ParticipantOfflineMidFlightFailsAndReleases(t *testing.T) {
	proc, lockMgr, registry := newTestProcessor()
	proc.config.LockAcquireDeadline = time.Second

	amount, _ := money.New("100.00", "USD")
	leg := settlement.SettlementLeg{
		LegNumber:       1,
		FromParticipant: "BANK_A",
		FromAccount:     ids.NewAccountId("BANK_A", "111", "USD"),
		ToParticipant:   "BANK_B",
		ToAccount:       ids.NewAccountId("BANK_B", "222", "USD"),
		Amount:          amount,
	}
	s := settlement.New("idem-4", []settlement.SettlementLeg{leg})

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = registry.Suspend("BANK_B")
	}()

	err := proc.Process(context.Background(), s)
	if err == nil {
		t.Fatalf("expected a participant-offline failure")
	}
	if s.Status != settlement.Failed {
		t.Fatalf("expected Failed, got %s", s.Status)
	}
	if s.Failure.Code.String() != "ParticipantUnavailable" {
		t.Errorf("expected ParticipantUnavailable failure code, got %s", s.Failure.Code)
	}

	for _, lock := range lockMgr.LocksForSettlement(s.Id) {
		if lock.IsActive() {
			t.Errorf("expected lock %s (BANK_A) to be released after failure", lock.Id)
		}
	}
}
