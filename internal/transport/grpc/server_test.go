package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/settlecoord/coordinator/internal/coordinator"
	"github.com/settlecoord/coordinator/internal/fx"
	"github.com/settlecoord/coordinator/internal/ledger"
	"github.com/settlecoord/coordinator/internal/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := coordinator.DefaultConfig()
	cfg.Locks.DefaultDuration = 5 * time.Second
	c := coordinator.New(fx.NewEngine(nil, fx.DefaultEngineConfig()), ledger.NewMemorySink(), logging.Default(), cfg)
	c.Participants().Register("BANK_A")
	_ = c.Participants().Activate("BANK_A")
	c.Participants().Register("BANK_B")
	_ = c.Participants().Activate("BANK_B")

	srv, err := NewServer(nil, c)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestServer_SubmitSettlement_RejectsEmptyLegs(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.SubmitSettlement(context.Background(), &SubmitSettlementRequest{IdempotencyKey: "k1"})
	if err == nil {
		t.Fatalf("expected an error for a settlement with no legs")
	}
}

func TestServer_SubmitSettlement_RejectsMissingIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.SubmitSettlement(context.Background(), &SubmitSettlementRequest{
		Legs: []SettlementLegRequest{{LegNumber: 1, FromParticipant: "BANK_A", ToParticipant: "BANK_B", Amount: "10.00", FromCurrency: "USD", ToCurrency: "USD"}},
	})
	if err == nil {
		t.Fatalf("expected an error for a missing idempotency key")
	}
}

func TestServer_GetSettlement_NotFound(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.GetSettlement(context.Background(), &GetSettlementRequest{IdempotencyKey: "nope"})
	if err == nil {
		t.Fatalf("expected a not-found error")
	}
}

// waitForStatus polls GetSettlement until the settlement reaches want or
// the deadline elapses, mirroring HandleSettlement's accept-then-process
// background flow.
func waitForStatus(t *testing.T, srv *Server, idempotencyKey, want string) *SubmitSettlementResponse {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		resp, err := srv.GetSettlement(context.Background(), &GetSettlementRequest{IdempotencyKey: idempotencyKey})
		if err != nil {
			t.Fatalf("GetSettlement: %v", err)
		}
		if resp.Status == want {
			return resp
		}
		select {
		case <-deadline:
			t.Fatalf("settlement did not reach %s, stuck at %s", want, resp.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServer_SubmitSettlement_ComplianceReviewThenReject(t *testing.T) {
	srv := newTestServer(t)
	srv.coordinator.Start()
	defer srv.coordinator.Stop()

	if _, err := srv.SubmitSettlement(context.Background(), &SubmitSettlementRequest{
		IdempotencyKey: "k-reject",
		Legs:           []SettlementLegRequest{{LegNumber: 1, FromParticipant: "BANK_A", ToParticipant: "BANK_B", Amount: "10.00", FromCurrency: "USD", ToCurrency: "USD"}},
		Compliance:     &ComplianceRequest{ReviewRequired: true},
	}); err != nil {
		t.Fatalf("SubmitSettlement: %v", err)
	}
	waitForStatus(t, srv, "k-reject", "PendingReview")

	rejected, err := srv.RejectSettlement(context.Background(), &ReviewVerdictRequest{IdempotencyKey: "k-reject", Reason: "sanctions match"})
	if err != nil {
		t.Fatalf("RejectSettlement: %v", err)
	}
	if rejected.Status != "Rejected" {
		t.Fatalf("expected Rejected, got %s", rejected.Status)
	}
	if rejected.FailureCode != "ComplianceRejected" {
		t.Fatalf("expected ComplianceRejected failure code, got %s", rejected.FailureCode)
	}
}
