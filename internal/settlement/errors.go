package settlement

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-visible reason for a settlement failure. Raw
// ledger and banking error text never leaves the server unbounded; callers
// key off these codes.
type Code string

const (
	CodeValidation           Code = "VALIDATION"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
	CodeAlreadyProcessed     Code = "ALREADY_PROCESSED"
	CodeNoActiveVault        Code = "NO_ACTIVE_VAULT"
	CodeInvalidWalletAddress Code = "INVALID_WALLET_ADDRESS"
	CodeFarmNotFound         Code = "FARM_NOT_FOUND"
	CodeReleaseFailed        Code = "RELEASE_FAILED"
	CodeWithdrawFailed       Code = "WITHDRAW_FAILED"
)

// Error carries a stable code alongside the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the settlement code from an error chain, or empty string.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
