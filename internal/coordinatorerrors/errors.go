// Package coordinatorerrors defines the error taxonomy shared by every
// component of the settlement coordinator: a closed set of error kinds,
// each carrying a stable wire code and retry metadata, plus a wrapper
// type that attaches the failing operation and participant/settlement
// context the way internal/peermanagement/errors.go attaches peer
// context to network errors.
package coordinatorerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of coordinator error categories.
type Kind int

const (
	KindInvalidMessage Kind = iota
	KindInvalidSignature
	KindUnknownParticipant
	KindParticipantOffline
	KindRateLimited
	KindCoordinatorBusy
	KindSettlementNotFound
	KindLockNotFound
	KindDuplicateRequest
	KindInvalidTransition
	KindInsufficientFunds
	KindLockFailed
	KindLockExpired
	KindLockTimeout
	KindFxRateExpired
	KindRateNotAvailable
	KindRateDeviation
	KindSpreadTooWide
	KindInvalidRateLock
	KindComplianceRejected
	KindNetworkError
	KindTimeout
	KindDatabaseError
	KindCryptoError
	KindCapacityExceeded
	KindInternalError
)

type meta struct {
	code         string
	retryable    bool
	retryAfterMs int
}

var kindMeta = map[Kind]meta{
	KindInvalidMessage:     {"INVALID_MESSAGE", false, 0},
	KindInvalidSignature:   {"INVALID_SIGNATURE", false, 0},
	KindUnknownParticipant: {"UNKNOWN_PARTICIPANT", false, 0},
	KindParticipantOffline: {"PARTICIPANT_OFFLINE", true, 1000},
	KindRateLimited:        {"RATE_LIMITED", true, 0}, // retryAfterMs carried per-instance
	KindCoordinatorBusy:    {"COORDINATOR_BUSY", true, 0},
	KindSettlementNotFound: {"SETTLEMENT_NOT_FOUND", false, 0},
	KindLockNotFound:       {"LOCK_NOT_FOUND", false, 0},
	KindDuplicateRequest:   {"DUPLICATE_REQUEST", false, 0},
	KindInvalidTransition:  {"INVALID_TRANSITION", false, 0},
	KindInsufficientFunds:  {"INSUFFICIENT_FUNDS", false, 0},
	KindLockFailed:         {"LOCK_FAILED", false, 0},
	KindLockExpired:        {"LOCK_EXPIRED", false, 0},
	KindLockTimeout:        {"LOCK_TIMEOUT", false, 0},
	KindFxRateExpired:      {"FX_RATE_EXPIRED", false, 0},
	KindRateNotAvailable:   {"RATE_NOT_AVAILABLE", false, 0},
	KindRateDeviation:      {"RATE_DEVIATION", false, 0},
	KindSpreadTooWide:      {"SPREAD_TOO_WIDE", false, 0},
	KindInvalidRateLock:    {"INVALID_RATE_LOCK", false, 0},
	KindComplianceRejected: {"COMPLIANCE_REJECTED", false, 0},
	KindNetworkError:       {"NETWORK_ERROR", true, 500},
	KindTimeout:            {"TIMEOUT", true, 1000},
	KindDatabaseError:      {"DATABASE_ERROR", false, 0},
	KindCryptoError:        {"CRYPTO_ERROR", false, 0},
	KindCapacityExceeded:   {"CAPACITY_EXCEEDED", false, 0},
	KindInternalError:      {"INTERNAL_ERROR", false, 0},
}

// Code returns the stable SCREAMING_SNAKE_CASE wire code for the kind.
func (k Kind) Code() string { return kindMeta[k].code }

// Retryable reports whether callers should retry errors of this kind.
func (k Kind) Retryable() bool { return kindMeta[k].retryable }

// DefaultRetryAfterMs returns the kind's default suggested retry delay.
func (k Kind) DefaultRetryAfterMs() int { return kindMeta[k].retryAfterMs }

// CoordinatorError wraps an underlying error with the kind, the
// operation that produced it, and an optional carried retry-after
// override (used by RateLimited/CoordinatorBusy, whose delay is
// instance-specific rather than a fixed per-kind constant).
type CoordinatorError struct {
	Kind         Kind
	Op           string
	Err          error
	RetryAfterMs int
}

// New builds a CoordinatorError wrapping err (which may be nil) for the
// given kind and operation name.
func New(kind Kind, op string, err error) *CoordinatorError {
	return &CoordinatorError{Kind: kind, Op: op, Err: err, RetryAfterMs: kindMeta[kind].retryAfterMs}
}

// WithRetryAfterMs overrides the retry-after delay carried by the error.
func (e *CoordinatorError) WithRetryAfterMs(ms int) *CoordinatorError {
	e.RetryAfterMs = ms
	return e
}

func (e *CoordinatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.Code(), e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind.Code())
}

func (e *CoordinatorError) Unwrap() error { return e.Err }

// Retryable reports whether this error instance should be retried.
func (e *CoordinatorError) Retryable() bool { return e.Kind.Retryable() }

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *CoordinatorError; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var ce *CoordinatorError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// FailureCode is the closed set of settlement-failure codes attached to
// a terminal Failed settlement.
type FailureCode int

const (
	FailureLockTimeout FailureCode = iota
	FailureParticipantUnavailable
	FailureCoordinatorError
	FailureComplianceRejected
	FailureFxRateExpired
	FailureNettingFailure // carried for wire compatibility; never produced — see SPEC_FULL.md §1 Non-goals
	FailureInsufficientFunds
	FailureInvalidRequest
)

func (f FailureCode) String() string {
	switch f {
	case FailureLockTimeout:
		return "LockTimeout"
	case FailureParticipantUnavailable:
		return "ParticipantUnavailable"
	case FailureCoordinatorError:
		return "CoordinatorError"
	case FailureComplianceRejected:
		return "ComplianceRejected"
	case FailureFxRateExpired:
		return "FxRateExpired"
	case FailureNettingFailure:
		return "NettingFailure"
	case FailureInsufficientFunds:
		return "InsufficientFunds"
	case FailureInvalidRequest:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}

// FailureCodeFor maps an error's Kind to the FailureCode stamped onto a
// settlement's failure record, per the fixed table:
// Timeout and LockTimeout -> LockTimeout, ParticipantOffline ->
// ParticipantUnavailable, InsufficientFunds -> InsufficientFunds,
// ComplianceRejected -> ComplianceRejected, FxRateExpired ->
// FxRateExpired, InvalidMessage -> InvalidRequest, anything else ->
// CoordinatorError.
func FailureCodeFor(err error) FailureCode {
	kind, ok := KindOf(err)
	if !ok {
		return FailureCoordinatorError
	}
	switch kind {
	case KindTimeout, KindLockTimeout:
		return FailureLockTimeout
	case KindParticipantOffline:
		return FailureParticipantUnavailable
	case KindInsufficientFunds:
		return FailureInsufficientFunds
	case KindComplianceRejected:
		return FailureComplianceRejected
	case KindFxRateExpired:
		return FailureFxRateExpired
	case KindInvalidMessage:
		return FailureInvalidRequest
	default:
		return FailureCoordinatorError
	}
}
