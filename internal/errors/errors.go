package errors

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error class for pipeline failures.
// User-facing messages are derived from the code so that distinct failure
// modes (insufficient balance vs. insufficient allowance vs. rejected
// signature) never collapse into one another.
type Code int

const (
	CodeInternal              Code = 1
	CodeValidation            Code = 2
	CodeUnsupportedChain      Code = 3
	CodeNoQuoteAvailable      Code = 4
	CodeInsufficientAllowance Code = 5
	CodeInsufficientBalance   Code = 6
	CodeWalletRejected        Code = 7
	CodeRateLimited           Code = 8
	CodeUpstreamUnavailable   Code = 9
	CodeDeliveryExhausted     Code = 10
)

// Error is a typed pipeline error carrying a stable code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

// TypeOf returns the wire name for the error's code.
func TypeOf(err error) string {
	typed, ok := As(err)
	if !ok {
		return "internal"
	}
	switch typed.Code {
	case CodeValidation:
		return "validation"
	case CodeUnsupportedChain:
		return "unsupported_chain"
	case CodeNoQuoteAvailable:
		return "no_quote_available"
	case CodeInsufficientAllowance:
		return "insufficient_allowance"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeWalletRejected:
		return "wallet_rejected"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUpstreamUnavailable:
		return "upstream_unavailable"
	case CodeDeliveryExhausted:
		return "delivery_exhausted"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the status the tool endpoint should return.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	typed, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch typed.Code {
	case CodeValidation, CodeUnsupportedChain:
		return http.StatusBadRequest
	case CodeNoQuoteAvailable:
		return http.StatusNotFound
	case CodeInsufficientAllowance, CodeInsufficientBalance, CodeWalletRejected:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	case CodeDeliveryExhausted:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
