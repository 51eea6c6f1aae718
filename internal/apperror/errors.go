// Package apperror defines the error kinds surfaced by billing operations.
//
// Every error returned to a caller wraps exactly one kind, so handlers can map
// errors to transport codes with errors.Is regardless of how deeply they were wrapped.
package apperror

import "errors"

var (
	ErrValidation    = errors.New("validation error")
	ErrStateConflict = errors.New("state conflict")
	ErrNotFound      = errors.New("not found")
	ErrGateway       = errors.New("payment gateway error")
	ErrSignature     = errors.New("webhook signature verification failed")
)

var (
	// ErrGatewayUnavailable is transient and safe to retry.
	ErrGatewayUnavailable = New(ErrGateway, "payment provider unavailable")
	// ErrGatewayRejected is permanent; the provider refused the request.
	ErrGatewayRejected = New(ErrGateway, "payment provider rejected the request")
)

type Error struct {
	kind    error
	message string
}

func New(kind error, message string) *Error {
	return &Error{kind: kind, message: message}
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.kind
}

func (e *Error) Kind() error {
	return e.kind
}

// Message returns the message of the outermost *Error in err's chain,
// falling back to err.Error().
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.message
	}
	return err.Error()
}
