package ledgerpay

import (
	"context"
	"time"
)

// ============================================================================
// Verification Hook Context Types
// ============================================================================

// VerifyContext contains information passed to verification hooks
type VerifyContext struct {
	Ctx        context.Context
	Reference  SettlementReference
	Expected   Expectation
	Confidence Confidence
	Timestamp  time.Time
}

// VerifyAttemptContext describes one lookup of a reference
type VerifyAttemptContext struct {
	VerifyContext
	Attempt int
	Found   bool
	Error   error
}

// VerifyResultContext contains the verification result and context
type VerifyResultContext struct {
	VerifyContext
	Result   VerifyResult
	Duration time.Duration
}

// VerifyFailureContext contains a verification error and context
type VerifyFailureContext struct {
	VerifyContext
	Error    error
	Duration time.Duration
}

// SubmitContext contains information passed to submission hooks
type SubmitContext struct {
	Ctx       context.Context
	Envelope  SignedEnvelope
	Timestamp time.Time
}

// SubmitResultContext contains the submission outcome
type SubmitResultContext struct {
	SubmitContext
	Reference SettlementReference
	Error     error
	Duration  time.Duration
}

// ============================================================================
// Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the operation will be aborted with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Hook Function Types
// ============================================================================

// BeforeVerifyHook is called before a verification starts
// If it returns a result with Abort=true, the ledger is not queried
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// VerifyAttemptHook is called after every reference lookup
type VerifyAttemptHook func(VerifyAttemptContext)

// AfterVerifyHook is called when a verification reaches an outcome
// Any error returned will be ignored
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook is called when verification ends with an error
type OnVerifyFailureHook func(VerifyFailureContext)

// BeforeSubmitHook is called before the envelope goes to the network
// If it returns a result with Abort=true, nothing is submitted
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// AfterSubmitHook is called after the single submission attempt, accepted or not
type AfterSubmitHook func(SubmitResultContext)
