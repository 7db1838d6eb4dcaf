// Package domain defines the error taxonomy shared by every core service.
// Each error carries a stable machine-readable code so the HTTP boundary can
// map it to a transport status without string matching.
package domain

import (
	"errors"
	"fmt"
)

// Code identifies a category of failure.
type Code string

// Error codes distinguishable by callers.
const (
	CodeUnauthorized           Code = "unauthorized"
	CodeNotFound               Code = "not_found"
	CodeIllegalTransition      Code = "illegal_transition"
	CodePreconditionFailed     Code = "precondition_failed"
	CodeValidationFailed       Code = "validation_failed"
	CodeAlreadyCompleted       Code = "already_completed"
	CodeCooldownActive         Code = "cooldown_active"
	CodeUnlockNotMet           Code = "unlock_not_met"
	CodeInsufficientFunds      Code = "insufficient_funds"
	CodeVoucherExpired         Code = "voucher_expired"
	CodeVoucherAlreadyRedeemed Code = "voucher_already_redeemed"
	CodeVoucherNotOwned        Code = "voucher_not_owned"
	CodeRevisionsExhausted     Code = "revisions_exhausted"
	CodeIntegrityVoided        Code = "integrity_voided"
	CodeCancelled              Code = "cancelled"
	CodeInternal               Code = "internal"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a coded error with a formatted message.
func E(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around an underlying cause.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether the caller may legitimately retry the operation.
// Only optimistic-concurrency conflicts qualify.
func Retryable(err error) bool {
	return IsCode(err, CodePreconditionFailed)
}
