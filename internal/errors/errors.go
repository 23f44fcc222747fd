package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category. Routing and retry
// decisions key off Kind, never off message text.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindNotRoutable
	KindPoolNotFound
	KindRouteUnavailable
	KindExecutionFailed
	KindSlippageExhausted
	KindNetworkFault
	KindInvalidInput
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindNotRoutable:
		return "not_routable"
	case KindPoolNotFound:
		return "pool_not_found"
	case KindRouteUnavailable:
		return "route_unavailable"
	case KindExecutionFailed:
		return "execution_failed"
	case KindSlippageExhausted:
		return "slippage_exhausted"
	case KindNetworkFault:
		return "network_fault"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error is a typed error that carries a stable kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind carried by err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if typed, ok := As(err); ok {
		return typed.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
