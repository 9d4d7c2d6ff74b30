package escrow

import (
	"errors"
	"fmt"
)

// ErrorKind is the caller-facing category of a failure. Callers branch on the
// kind; only KindTransient is eligible for automatic retry.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindStateConflict ErrorKind = "state_conflict"
	KindIdempotency   ErrorKind = "idempotency_conflict"
	KindNotFound      ErrorKind = "not_found"
	KindTransient     ErrorKind = "transient"
	KindInternal      ErrorKind = "internal"
)

// Common error codes
const (
	ErrCodeInvalidAddress      = "invalid_address"
	ErrCodeInvalidParty        = "invalid_party"
	ErrCodeInvalidRequirements = "invalid_requirements"
	ErrCodeInvalidAmount       = "invalid_amount"
	ErrCodeInsufficientFunds   = "insufficient_funds"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeInvalidState        = "invalid_state"
	ErrCodeRequirementNotFound = "requirement_not_found"
	ErrCodeAlreadyCompleted    = "already_completed"
	ErrCodeNotFound            = "agreement_not_found"
	ErrCodeTransient           = "transient_failure"
	ErrCodeExecutionFailed     = "execution_failed"
	ErrCodeAborted             = "aborted"
	ErrCodeWaitAborted         = "wait_aborted"
	ErrCodeInternal            = "internal_error"
)

// Error is the escrow-specific error carried from the state machine through
// the orchestrator to the external surfaces
type Error struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so sentinels work with errors.Is
// regardless of message or details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e with key set in Details
func (e *Error) WithDetail(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Details: details, Err: e.Err}
}

// NewError creates a new escrow error
func NewError(kind ErrorKind, code, message string, details map[string]interface{}) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Sentinel errors. Compare with errors.Is.
var (
	ErrInvalidAddress      = NewError(KindValidation, ErrCodeInvalidAddress, "malformed or zero address", nil)
	ErrInvalidParty        = NewError(KindValidation, ErrCodeInvalidParty, "payer and beneficiary must be distinct non-zero addresses", nil)
	ErrInvalidRequirements = NewError(KindValidation, ErrCodeInvalidRequirements, fmt.Sprintf("requirement list must hold between 1 and %d entries", MaxRequirements), nil)
	ErrInvalidAmount       = NewError(KindValidation, ErrCodeInvalidAmount, "amount must be greater than zero", nil)
	ErrInsufficientFunds   = NewError(KindValidation, ErrCodeInsufficientFunds, "insufficient funds", nil)
	ErrUnauthorized        = NewError(KindAuthorization, ErrCodeUnauthorized, "caller is not authorized for this operation", nil)
	ErrInvalidState        = NewError(KindStateConflict, ErrCodeInvalidState, "operation not allowed in the current state", nil)
	ErrRequirementNotFound = NewError(KindValidation, ErrCodeRequirementNotFound, "requirement index out of range", nil)
	ErrAlreadyCompleted    = NewError(KindIdempotency, ErrCodeAlreadyCompleted, "requirement already completed", nil)
	ErrNotFound            = NewError(KindNotFound, ErrCodeNotFound, "no agreement at address", nil)
	ErrExecutionFailed     = NewError(KindTransient, ErrCodeExecutionFailed, "transaction failed during execution", nil)
	ErrWaitAborted         = NewError(KindTransient, ErrCodeWaitAborted, "stopped waiting for confirmation, the transaction may still be mined", nil)
)

// NewTransientError wraps an infrastructure failure (connectivity, congestion)
func NewTransientError(message string, err error) *Error {
	return &Error{Kind: KindTransient, Code: ErrCodeTransient, Message: message, Err: err}
}

// NewInternalError wraps an unexpected failure that is neither caller-fixable
// nor worth retrying
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: ErrCodeInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err may succeed if the operation is resubmitted
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// WaitAbortedError reports that the caller stopped waiting for transaction
// hash. The transaction was submitted and may still confirm; callers poll the
// hash or repeat the operation with the same idempotency key.
func WaitAbortedError(hash string, cause error) *Error {
	e := ErrWaitAborted.WithDetail("transaction", hash)
	e.Err = cause
	return e
}

func stateError(current State) *Error {
	return ErrInvalidState.WithDetail("state", current.String())
}
