package participants

import (
	"testing"
	"time"
)

func TestRegistry_RegisterAndActivate(t *testing.T) {
	r := New(DefaultConfig())
	r.Register("BANK_A")

	info, ok := r.Get("BANK_A")
	if !ok || info.State != StatePending {
		t.Fatalf("expected pending participant, got %+v ok=%v", info, ok)
	}

	if err := r.Activate("BANK_A"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !r.IsActive("BANK_A") {
		t.Errorf("expected BANK_A to be active")
	}
}

func TestRegistry_ActivateUnknownFails(t *testing.T) {
	r := New(DefaultConfig())
	if err := r.Activate("GHOST"); err == nil {
		t.Fatalf("expected error activating an unregistered participant")
	}
}

func TestRegistry_NotifyIsNonBlockingWhenFull(t *testing.T) {
	r := New(DefaultConfig())
	r.Register("BANK_A")

	for i := 0; i < NotificationChannelCapacity+10; i++ {
		r.Notify("BANK_A", Notification{Type: NotifyHeartbeat})
	}

	ch, ok := r.Channel("BANK_A")
	if !ok {
		t.Fatalf("expected channel to exist")
	}
	if len(ch) != NotificationChannelCapacity {
		t.Errorf("expected channel to be capped at %d, got %d", NotificationChannelCapacity, len(ch))
	}
}

func TestRegistry_CheckLivenessDisconnectsStaleParticipants(t *testing.T) {
	r := New(Config{HeartbeatInterval: time.Millisecond, HeartbeatTimeout: 5 * time.Millisecond})
	r.Register("BANK_A")
	_ = r.Activate("BANK_A")

	time.Sleep(10 * time.Millisecond)
	disconnected := r.CheckLiveness()
	if len(disconnected) != 1 || disconnected[0] != "BANK_A" {
		t.Fatalf("expected BANK_A to be disconnected, got %v", disconnected)
	}

	info, _ := r.Get("BANK_A")
	if info.State != StateDisconnected {
		t.Errorf("expected StateDisconnected, got %v", info.State)
	}
}

func TestRegistry_HeartbeatReactivatesDisconnected(t *testing.T) {
	r := New(Config{HeartbeatInterval: time.Millisecond, HeartbeatTimeout: 5 * time.Millisecond})
	r.Register("BANK_A")
	_ = r.Activate("BANK_A")
	time.Sleep(10 * time.Millisecond)
	r.CheckLiveness()

	if err := r.UpdateHeartbeat("BANK_A"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	if !r.IsActive("BANK_A") {
		t.Errorf("expected heartbeat to reactivate BANK_A")
	}
}
