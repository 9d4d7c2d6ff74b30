package escrow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// Submission Hook Context Types
// ============================================================================

// SubmitContext contains information passed to submission hooks
type SubmitContext struct {
	Ctx              context.Context
	OperationID      string
	Operation        Operation
	Agreement        common.Address // zero for deployments
	Identity         common.Address
	RequirementIndex *uint64
	Amount           *big.Int
	Timestamp        time.Time
}

// SubmitResultContext contains a confirmed submission result and context
type SubmitResultContext struct {
	SubmitContext
	Result   *TxResult
	Duration time.Duration
}

// SubmitFailureContext contains a submission failure and context
type SubmitFailureContext struct {
	SubmitContext
	Error    error
	Duration time.Duration
}

// RetryContext describes a transient failure that is about to be retried
type RetryContext struct {
	SubmitContext
	Attempt int
	Error   error
	Delay   time.Duration
}

// ============================================================================
// Submission Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the operation will be aborted with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Submission Hook Function Types
// ============================================================================

// BeforeSubmitHook is called after the pre-check and before any transaction is
// built. If it returns a result with Abort=true, nothing is submitted and the
// operation fails with the provided reason
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// AfterSubmitHook is called after a submission is confirmed and post-checked
// Any error returned will be logged but will not affect the result
type AfterSubmitHook func(SubmitResultContext) error

// OnSubmitFailureHook is called when an operation fails for good
// Any error returned will be logged but will not affect the returned error
type OnSubmitFailureHook func(SubmitFailureContext) error

// OnRetryHook is called before each retry of a transient failure
type OnRetryHook func(RetryContext)

// AbortedError builds the error returned when a before hook aborts
func AbortedError(reason string) *Error {
	return NewError(KindValidation, ErrCodeAborted, "operation aborted: "+reason, map[string]interface{}{"reason": reason})
}
