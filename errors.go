package ledgerpay

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is matches any *PaymentError carrying the same code, so sentinels work with errors.Is
func (e *PaymentError) Is(target error) bool {
	var t *PaymentError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeConstruction         = "construction_error"
	ErrCodeSignerUnavailable    = "signer_unavailable"
	ErrCodeUserRejected         = "user_rejected"
	ErrCodeSignerError          = "signer_error"
	ErrCodeSubmissionRejected   = "submission_rejected"
	ErrCodeVerificationFailed   = "verification_failed"
	ErrCodeVerificationTimedOut = "verification_timed_out"
	ErrCodeServiceUnavailable   = "service_unavailable"
	ErrCodeNotFound             = "not_found"
	ErrCodeRateLimited          = "rate_limited"
)

// Sentinels for errors.Is. Ledger and Signer implementations return (or wrap) these.
var (
	ErrNotFound             = &PaymentError{Code: ErrCodeNotFound}
	ErrRateLimited          = &PaymentError{Code: ErrCodeRateLimited}
	ErrServiceUnavailable   = &PaymentError{Code: ErrCodeServiceUnavailable}
	ErrSignerUnavailable    = &PaymentError{Code: ErrCodeSignerUnavailable}
	ErrUserRejected         = &PaymentError{Code: ErrCodeUserRejected}
	ErrSignerError          = &PaymentError{Code: ErrCodeSignerError}
	ErrSubmissionRejected   = &PaymentError{Code: ErrCodeSubmissionRejected}
	ErrConstruction         = &PaymentError{Code: ErrCodeConstruction}
	ErrVerificationFailed   = &PaymentError{Code: ErrCodeVerificationFailed}
	ErrVerificationTimedOut = &PaymentError{Code: ErrCodeVerificationTimedOut}
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewSubmissionRejectedError is returned by Ledger implementations when the network refuses an envelope
func NewSubmissionRejectedError(reason string, details map[string]interface{}) *PaymentError {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["reason"] = reason
	return &PaymentError{
		Code:    ErrCodeSubmissionRejected,
		Message: reason,
		Details: details,
	}
}

func wrapPaymentError(code string, err error, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: err.Error(),
		Details: details,
		Err:     err,
	}
}

func constructionError(format string, args ...interface{}) *PaymentError {
	return &PaymentError{
		Code:    ErrCodeConstruction,
		Message: fmt.Sprintf(format, args...),
	}
}

// isTransientQueryError reports errors a verification retry may outlive
func isTransientQueryError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServiceUnavailable)
}

// ErrorCode extracts the code of a *PaymentError anywhere in the chain, or "" if there is none
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
