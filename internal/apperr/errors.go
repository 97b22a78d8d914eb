// Package apperr defines the failure kinds returned by the order engine.
// Callers switch on Kind; the HTTP layer maps kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAccessDenied
	KindInvalidArgument
	KindInvalidAddress
	KindEmptyCart
	KindInsufficientStock
	KindLimitExceeded
	KindInvalidTransition
	KindAlreadyCancelled
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindAccessDenied:
		return "ACCESS_DENIED"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindInvalidAddress:
		return "INVALID_ADDRESS"
	case KindEmptyCart:
		return "EMPTY_CART"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindLimitExceeded:
		return "LIMIT_EXCEEDED"
	case KindInvalidTransition:
		return "INVALID_TRANSITION"
	case KindAlreadyCancelled:
		return "ALREADY_CANCELLED"
	case KindConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// Error is a failure with a stable kind and a human-readable message.
// ProductID is set for stock and availability failures.
type Error struct {
	Kind      Kind
	Message   string
	ProductID int64
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAccessDenied      = &Error{Kind: KindAccessDenied}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrInvalidAddress    = &Error{Kind: KindInvalidAddress}
	ErrEmptyCart         = &Error{Kind: KindEmptyCart}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrLimitExceeded     = &Error{Kind: KindLimitExceeded}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAlreadyCancelled  = &Error{Kind: KindAlreadyCancelled}
	ErrConflict          = &Error{Kind: KindConflict}
)

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func AccessDenied(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAccessDenied, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func InvalidAddress(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidAddress, Message: fmt.Sprintf(format, args...)}
}

func EmptyCart() *Error {
	return &Error{Kind: KindEmptyCart, Message: "cart is empty"}
}

func InsufficientStock(productID int64, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Message: fmt.Sprintf(format, args...)}
}

func LimitExceeded(format string, args ...interface{}) *Error {
	return &Error{Kind: KindLimitExceeded, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func AlreadyCancelled(orderID int64) *Error {
	return &Error{Kind: KindAlreadyCancelled, Message: fmt.Sprintf("order %d already cancelled", orderID)}
}

func Conflict(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Err: err}
}

func Internal(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ProductOf returns the product id attached to err, if any.
func ProductOf(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.ProductID
	}
	return 0
}
