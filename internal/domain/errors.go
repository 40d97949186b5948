package domain

import "errors"

// Error kinds. Callers match them with errors.Is; the HTTP layer maps each
// kind to a status code.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrStateConflict   = errors.New("state conflict")
	ErrPaymentDeclined = errors.New("payment declined")
	ErrProvider        = errors.New("payment provider error")
)

// Error carries a message that is safe to show to the client next to its
// kind and, optionally, the internal cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Validation(msg string) *Error { return &Error{Kind: ErrValidation, Message: msg} }

func NotFound(msg string) *Error { return &Error{Kind: ErrNotFound, Message: msg} }

func Conflict(msg string) *Error { return &Error{Kind: ErrStateConflict, Message: msg} }

func Declined(msg string) *Error { return &Error{Kind: ErrPaymentDeclined, Message: msg} }

func Provider(msg string, cause error) *Error {
	return &Error{Kind: ErrProvider, Message: msg, Err: cause}
}

var (
	ErrEmptyCart         = Validation("Cart is empty")
	ErrOutOfStock        = Conflict("Selected items are out of stock")
	ErrOrderNotFound     = NotFound("Order not found")
	ErrAlreadyCancelled  = Conflict("Order is already cancelled")
	ErrNotCancellable    = Conflict("Cannot cancel order that has already been shipped or delivered")
	ErrIllegalTransition = Conflict("Illegal delivery status transition")
)

// PublicMessage returns the client-facing message of err, if it has one.
func PublicMessage(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}
