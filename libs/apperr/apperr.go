// Package apperr is the error taxonomy shared by the booking services.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind. The
// kind decides propagation: only Transient is retried, everything else surfaces
// immediately.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Kind string

const (
	KindInternal          Kind = "internal"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindTransient         Kind = "transient"
	KindAuthorization     Kind = "authorization"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

func NotFound(op, what string) *Error {
	return New(KindNotFound, op, what+" not found")
}

func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, fmt.Sprintf(format, args...))
}

func Unauthorized(op, format string, args ...any) *Error {
	return New(KindAuthorization, op, fmt.Sprintf(format, args...))
}

func Transient(op string, err error) *Error {
	return Wrap(KindTransient, op, err)
}

// InvalidTransition names both the current and the requested state.
func InvalidTransition(op string, from, to fmt.Stringer) *Error {
	return New(KindInvalidTransition, op, fmt.Sprintf("cannot move booking from %s to %s", from, to))
}

// KindOf returns the kind of the outermost *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsTransient(err error) bool { return Is(err, KindTransient) }

// Message returns the human readable part of err without the op prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition:
		return http.StatusConflict
	case KindConflict:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus is used when a response carries no typed error body.
func FromHTTPStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthorization
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindInvalidTransition
	case http.StatusUnprocessableEntity:
		return KindConflict
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindTransient
	default:
		return KindInternal
	}
}

// FromGRPC classifies a gRPC status error. Non-status errors are returned as-is.
func FromGRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.Aborted, codes.ResourceExhausted, codes.DeadlineExceeded:
		return Transient(op, err)
	case codes.NotFound:
		return &Error{Kind: KindNotFound, Op: op, Message: st.Message(), Err: err}
	case codes.InvalidArgument:
		return &Error{Kind: KindValidation, Op: op, Message: st.Message(), Err: err}
	case codes.PermissionDenied, codes.Unauthenticated:
		return &Error{Kind: KindAuthorization, Op: op, Message: st.Message(), Err: err}
	default:
		return Wrap(KindInternal, op, err)
	}
}

func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case KindValidation, KindNotFound, KindInvalidTransition, KindConflict, KindTransient, KindAuthorization:
		return k
	default:
		return KindInternal
	}
}
