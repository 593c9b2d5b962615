package locks

import (
	"testing"
	"time"

	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

func mustMoney(t *testing.T, v string) money.Money {
	t.Helper()
	m, err := money.New(v, "USD")
	if err != nil {
		t.Fatalf("money.New: %v", err)
	}
	return m
}

func TestManager_CreateAndConfirm(t *testing.T) {
	m := New(DefaultConfig())
	settlementId := ids.NewSettlementId()

	lock, err := m.Create(settlementId, "BANK_A", mustMoney(t, "1000"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if lock.Status != Active {
		t.Errorf("expected new lock to be Active")
	}

	if !m.Confirm(lock.Id) {
		t.Errorf("expected Confirm to succeed")
	}
	got, _ := m.Get(lock.Id)
	if got.ConfirmedAt == nil {
		t.Errorf("expected confirmedAt to be set")
	}
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	m := New(DefaultConfig())
	settlementId := ids.NewSettlementId()
	lock, _ := m.Create(settlementId, "BANK_A", mustMoney(t, "1000"))

	if !m.Release(lock.Id) {
		t.Fatalf("expected first Release to effect a change")
	}
	if m.Release(lock.Id) {
		t.Errorf("expected second Release to be a no-op")
	}
}

func TestManager_AllConfirmed(t *testing.T) {
	m := New(DefaultConfig())
	settlementId := ids.NewSettlementId()

	lockA, _ := m.Create(settlementId, "BANK_A", mustMoney(t, "1000"))
	lockB, _ := m.Create(settlementId, "BANK_B", mustMoney(t, "1000"))

	if m.AllConfirmed(settlementId) {
		t.Fatalf("expected AllConfirmed to be false before any confirmation")
	}

	m.Confirm(lockA.Id)
	if m.AllConfirmed(settlementId) {
		t.Fatalf("expected AllConfirmed to be false with only one leg confirmed")
	}

	m.Confirm(lockB.Id)
	if !m.AllConfirmed(settlementId) {
		t.Fatalf("expected AllConfirmed to be true once both legs confirmed")
	}
}

func TestManager_CapacityGuard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentPerParticipant = 1
	m := New(cfg)

	if _, err := m.Create(ids.NewSettlementId(), "BANK_A", mustMoney(t, "100")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := m.Create(ids.NewSettlementId(), "BANK_A", mustMoney(t, "100")); err == nil {
		t.Fatalf("expected second Create for the same participant to hit the capacity guard")
	}
}

func TestManager_ReaperExpiresOverdueLocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultDuration = 10 * time.Millisecond
	cfg.CleanupInterval = 5 * time.Millisecond
	m := New(cfg)

	lock, _ := m.Create(ids.NewSettlementId(), "BANK_A", mustMoney(t, "100"))

	stop := make(chan struct{})
	var expired *Lock
	done := make(chan struct{})
	go func() {
		m.RunReaper(stop, func(l *Lock) { expired = l; close(done) })
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reaper to expire the overdue lock")
	}
	close(stop)

	if expired == nil || expired.Id != lock.Id {
		t.Errorf("expected reaper to expire lock %s", lock.Id)
	}
	got, _ := m.Get(lock.Id)
	if got.Status != Expired {
		t.Errorf("expected lock status Expired, got %s", got.Status)
	}
}
