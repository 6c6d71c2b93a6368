package tracking

import "errors"

// ErrorKind classifies tracking failures. The zero value means no error.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindPositionUnavailable ErrorKind = "position_unavailable"
	KindInvalidCoordinate   ErrorKind = "invalid_coordinate"
	KindRouteUnavailable    ErrorKind = "route_unavailable"
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	return string(k)
}

// Error is a classified tracking failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewError creates a tracking error of the given kind wrapping an optional cause.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any tracking error of the same kind, so errors.Is(err, ErrRouteUnavailable) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrPositionUnavailable = &Error{Kind: KindPositionUnavailable}
	ErrInvalidCoordinate   = &Error{Kind: KindInvalidCoordinate}
	ErrRouteUnavailable    = &Error{Kind: KindRouteUnavailable}
)

// KindOf returns the kind of the first tracking error in err's chain, or KindNone.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
