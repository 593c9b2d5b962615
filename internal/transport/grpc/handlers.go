package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
	"github.com/settlecoord/coordinator/internal/settlement"
)

// SettlementLegRequest is one directed transfer within a submission.
type SettlementLegRequest struct {
	LegNumber         uint32
	FromParticipant   string
	FromAccountNumber string
	FromCurrency      string
	ToParticipant     string
	ToAccountNumber   string
	ToCurrency        string
	Amount            string
}

// ComplianceRequest is the optional ISO-20022-style compliance block
// attached to a settlement submission. ReviewRequired is set by the
// caller's own upstream compliance screening, not computed here — the
// coordinator only gates on the flag and on a later external verdict.
type ComplianceRequest struct {
	PurposeCode         string
	RemittanceInfo      string
	RegulatoryReporting string
	ReviewRequired      bool
}

// SubmitSettlementRequest is a request to initiate a new settlement.
type SubmitSettlementRequest struct {
	IdempotencyKey string
	Legs           []SettlementLegRequest
	Compliance     *ComplianceRequest
}

// SettlementLegResponse mirrors the accepted or completed state of one leg.
type SettlementLegResponse struct {
	LegNumber       uint32
	FromParticipant string
	ToParticipant   string
	Amount          string
	Currency        string
	ConvertedAmount string
	LockId          string
}

// SubmitSettlementResponse carries the settlement's id and its status
// at the time the RPC returns — for a new submission, whatever status
// background processing has reached so far (typically Initiated); for a
// replayed idempotency key, the status the original request had reached
// when its processing returned.
type SubmitSettlementResponse struct {
	SettlementId string
	Status       string
	Legs         []SettlementLegResponse
	FailureCode  string
	FailureMsg   string
}

// SubmitSettlement accepts a new settlement request, or returns the
// prior outcome if IdempotencyKey has already been seen.
func (s *Server) SubmitSettlement(ctx context.Context, req *SubmitSettlementRequest) (*SubmitSettlementResponse, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.Internal, "coordinator not available")
	}
	if req.IdempotencyKey == "" {
		return nil, status.Error(codes.InvalidArgument, "idempotency_key is required")
	}
	if len(req.Legs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one leg is required")
	}

	legs := make([]settlement.SettlementLeg, 0, len(req.Legs))
	for _, l := range req.Legs {
		amount, err := money.New(l.Amount, money.NewCurrency(l.FromCurrency))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid leg amount: "+err.Error())
		}
		legs = append(legs, settlement.SettlementLeg{
			LegNumber:       l.LegNumber,
			FromParticipant: ids.ParticipantId(l.FromParticipant),
			FromAccount:     ids.NewAccountId(ids.ParticipantId(l.FromParticipant), l.FromAccountNumber, l.FromCurrency),
			ToParticipant:   ids.ParticipantId(l.ToParticipant),
			ToAccount:       ids.NewAccountId(ids.ParticipantId(l.ToParticipant), l.ToAccountNumber, l.ToCurrency),
			Amount:          amount,
		})
	}

	var compliance *settlement.ComplianceData
	if req.Compliance != nil {
		compliance = &settlement.ComplianceData{
			PurposeCode:         req.Compliance.PurposeCode,
			RemittanceInfo:      req.Compliance.RemittanceInfo,
			RegulatoryReporting: req.Compliance.RegulatoryReporting,
			ReviewRequired:      req.Compliance.ReviewRequired,
		}
	}

	result, err := s.coordinator.HandleSettlement(ctx, legs, req.IdempotencyKey, compliance)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return settlementToResponse(result), nil
}

// ReviewVerdictRequest carries an external compliance system's decision
// on a settlement suspended in PendingReview.
type ReviewVerdictRequest struct {
	IdempotencyKey string
	Reason         string
}

// ResumeSettlement re-enters the pipeline for a settlement suspended in
// PendingReview after compliance approval.
func (s *Server) ResumeSettlement(ctx context.Context, req *ReviewVerdictRequest) (*SubmitSettlementResponse, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.Internal, "coordinator not available")
	}
	result, err := s.coordinator.ResumeSettlement(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return settlementToResponse(result), nil
}

// RejectSettlement terminates a settlement suspended in PendingReview
// after compliance rejection.
func (s *Server) RejectSettlement(ctx context.Context, req *ReviewVerdictRequest) (*SubmitSettlementResponse, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.Internal, "coordinator not available")
	}
	result, err := s.coordinator.RejectSettlement(req.IdempotencyKey, req.Reason)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return settlementToResponse(result), nil
}

// GetSettlementRequest looks up a previously submitted settlement by
// its idempotency key.
type GetSettlementRequest struct {
	IdempotencyKey string
}

// GetSettlement returns the current state of a previously submitted
// settlement.
func (s *Server) GetSettlement(ctx context.Context, req *GetSettlementRequest) (*SubmitSettlementResponse, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.Internal, "coordinator not available")
	}
	result, ok := s.coordinator.GetSettlement(req.IdempotencyKey)
	if !ok {
		return nil, status.Error(codes.NotFound, "settlement not found")
	}
	return settlementToResponse(result), nil
}

// GetBalanceRequest queries the current known balance of an account.
type GetBalanceRequest struct {
	Account  string
	Currency string
}

// GetBalanceResponse carries the account's current balance.
type GetBalanceResponse struct {
	Account  string
	Currency string
	Balance  string
}

// GetBalance returns the current known balance for an account.
func (s *Server) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	if s.coordinator == nil {
		return nil, status.Error(codes.Internal, "coordinator not available")
	}
	balance, err := s.coordinator.GetBalance(ctx, req.Account, money.NewCurrency(req.Currency))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &GetBalanceResponse{
		Account:  req.Account,
		Currency: req.Currency,
		Balance:  balance.DecimalString(),
	}, nil
}

func settlementToResponse(s *settlement.Settlement) *SubmitSettlementResponse {
	resp := &SubmitSettlementResponse{
		SettlementId: s.Id.String(),
		Status:       s.Status.String(),
	}
	for _, leg := range s.Legs {
		lr := SettlementLegResponse{
			LegNumber:       leg.LegNumber,
			FromParticipant: string(leg.FromParticipant),
			ToParticipant:   string(leg.ToParticipant),
			Amount:          leg.Amount.DecimalString(),
			Currency:        string(leg.Amount.Currency()),
		}
		if leg.ConvertedAmount != nil {
			lr.ConvertedAmount = leg.ConvertedAmount.DecimalString()
		}
		if leg.LockId != nil {
			lr.LockId = leg.LockId.String()
		}
		resp.Legs = append(resp.Legs, lr)
	}
	if s.Failure != nil {
		resp.FailureCode = s.Failure.Code.String()
		resp.FailureMsg = s.Failure.Message
	}
	return resp
}

// toGRPCError maps a CoordinatorError's Kind to the closest standard
// gRPC status code.
func toGRPCError(err error) error {
	kind, ok := coordinatorerrors.KindOf(err)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	switch kind {
	case coordinatorerrors.KindInvalidMessage, coordinatorerrors.KindInvalidTransition:
		return status.Error(codes.InvalidArgument, err.Error())
	case coordinatorerrors.KindInvalidSignature, coordinatorerrors.KindCryptoError:
		return status.Error(codes.Unauthenticated, err.Error())
	case coordinatorerrors.KindUnknownParticipant, coordinatorerrors.KindSettlementNotFound, coordinatorerrors.KindLockNotFound:
		return status.Error(codes.NotFound, err.Error())
	case coordinatorerrors.KindDuplicateRequest:
		return status.Error(codes.AlreadyExists, err.Error())
	case coordinatorerrors.KindRateLimited, coordinatorerrors.KindCoordinatorBusy, coordinatorerrors.KindCapacityExceeded:
		return status.Error(codes.ResourceExhausted, err.Error())
	case coordinatorerrors.KindTimeout, coordinatorerrors.KindLockTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case coordinatorerrors.KindComplianceRejected, coordinatorerrors.KindInsufficientFunds:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
