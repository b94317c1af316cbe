package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable class of a failure.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNoDevice
	KindOutOfRange
	KindTooMany
	KindInvalidRequest
	KindUnsupported
	KindDuplicateID
	KindProtocolParse
	KindAssetNotFound
	KindInvalidType
)

// String returns the wire code of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNoDevice:
		return "NO_DEVICE"
	case KindOutOfRange:
		return "OUT_OF_RANGE"
	case KindTooMany:
		return "TOO_MANY"
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindUnsupported:
		return "UNSUPPORTED"
	case KindDuplicateID:
		return "DUPLICATE_ID"
	case KindProtocolParse:
		return "PROTOCOL_PARSE_ERROR"
	case KindAssetNotFound:
		return "ASSET_NOT_FOUND"
	case KindInvalidType:
		return "INVALID_TYPE"
	default:
		return "INTERNAL_ERROR"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNoDevice       = &Error{Kind: KindNoDevice}
	ErrOutOfRange     = &Error{Kind: KindOutOfRange}
	ErrTooMany        = &Error{Kind: KindTooMany}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrInternal       = &Error{Kind: KindInternal}
	ErrDuplicateID    = &Error{Kind: KindDuplicateID}
	ErrProtocolParse  = &Error{Kind: KindProtocolParse}
	ErrAssetNotFound  = &Error{Kind: KindAssetNotFound}
	ErrInvalidType    = &Error{Kind: KindInvalidType}
)

// Error is a classified failure returned to callers of the agent.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// KindOf returns the kind of a classified error, or KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Wrap adds call-site context in the form "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}
