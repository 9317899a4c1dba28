package types

// errors.go defines the error taxonomy shared by every component. Errors
// surfaced through the API carry one of these codes; internal errors are
// wrapped into a coded error at the boundary where they become user-visible.

import (
	"errors"
	"fmt"
	"net/http"
)

// An ErrorCode classifies a failure for propagation policy and HTTP mapping.
type ErrorCode string

const (
	// ErrCodeValidation marks malformed input or schema violations.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeAuth marks missing or invalid signatures and tokens.
	ErrCodeAuth ErrorCode = "AUTH"
	// ErrCodeNotFound marks unknown ids.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict marks replays, duplicate nonces, and receipts that are
	// already included.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeEscrow marks insufficient balances and escrow entries in the
	// wrong state.
	ErrCodeEscrow ErrorCode = "ESCROW"
	// ErrCodeDependency marks unreachable remote components.
	ErrCodeDependency ErrorCode = "DEPENDENCY"
	// ErrCodeConsensus marks invalid blocks and reorg policy violations.
	ErrCodeConsensus ErrorCode = "CONSENSUS"
	// ErrCodeIntegrity marks failed signature or proof verification.
	ErrCodeIntegrity ErrorCode = "INTEGRITY"
	// ErrCodeRateLimit marks exhausted token buckets.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT"
)

// A CodedError pairs an error code with a message. It implements error and
// unwraps to its cause.
type CodedError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (ce *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", ce.Code, ce.Message)
}

// Unwrap returns the wrapped cause, if any.
func (ce *CodedError) Unwrap() error {
	return ce.Cause
}

// NewCodedError builds a CodedError from a code and message.
func NewCodedError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// WrapCoded attaches a code to an existing error.
func WrapCoded(code ErrorCode, err error) *CodedError {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Message: err.Error(), Cause: err}
}

// CodeOf extracts the error code from err, defaulting to VALIDATION for
// uncoded errors.
func CodeOf(err error) ErrorCode {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeValidation
}

// HTTPStatus maps an error code to the status the API layer responds with.
func (code ErrorCode) HTTPStatus() int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAuth:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeEscrow:
		return http.StatusPaymentRequired
	case ErrCodeDependency:
		return http.StatusServiceUnavailable
	case ErrCodeConsensus, ErrCodeIntegrity:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
