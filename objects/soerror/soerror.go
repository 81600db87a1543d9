// Package soerror defines the typed failures of the saved-object layer.
// Every repository operation fails with one of the kinds below; the kind
// carries an HTTP-ish status code and, where it applies, the offending
// (type, id) pair.
package soerror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnsupportedType Kind = iota + 1
	KindNotFound
	KindConflict
	KindBadRequest
	KindInvalidID
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedType:
		return "unsupported type"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad request"
	case KindInvalidID:
		return "invalid id"
	default:
		return "internal error"
	}
}

func (k Kind) StatusCode() int {
	switch k {
	case KindUnsupportedType, KindBadRequest, KindInvalidID:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error type of the saved-object layer.
type Error struct {
	Kind Kind
	Type string
	ID   string
	// IsNotOverwritable marks a conflict caused by a legacy alias record
	// rather than by the object itself.
	IsNotOverwritable bool

	msg string
	err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Type != "" {
		if e.ID != "" {
			msg = fmt.Sprintf("%s [%s/%s]", msg, e.Type, e.ID)
		} else {
			msg = fmt.Sprintf("%s [%s]", msg, e.Type)
		}
	}
	if e.msg != "" {
		msg += ": " + e.msg
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any *Error of the same kind, so errors.Is(err, soerror.NotFound)
// works regardless of the (type, id) the error carries.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Type != "" && t.Type != e.Type {
		return false
	}
	if t.ID != "" && t.ID != e.ID {
		return false
	}
	return true
}

func (e *Error) StatusCode() int {
	return e.Kind.StatusCode()
}

// Kind sentinels for errors.Is.
var (
	UnsupportedType = &Error{Kind: KindUnsupportedType}
	NotFound        = &Error{Kind: KindNotFound}
	Conflict        = &Error{Kind: KindConflict}
	BadRequest      = &Error{Kind: KindBadRequest}
	InvalidID       = &Error{Kind: KindInvalidID}
	Internal        = &Error{Kind: KindInternal}
)

func NewUnsupportedType(typ string) *Error {
	return &Error{Kind: KindUnsupportedType, Type: typ}
}

func NewNotFound(typ, id string) *Error {
	return &Error{Kind: KindNotFound, Type: typ, ID: id}
}

func NewConflict(typ, id string) *Error {
	return &Error{Kind: KindConflict, Type: typ, ID: id}
}

func NewAliasConflict(typ, id string) *Error {
	return &Error{Kind: KindConflict, Type: typ, ID: id, IsNotOverwritable: true}
}

func NewConflictMsg(typ, id, msg string) *Error {
	return &Error{Kind: KindConflict, Type: typ, ID: id, msg: msg}
}

func NewBadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, msg: msg}
}

func NewBadRequestf(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, msg: fmt.Sprintf(format, args...)}
}

func NewInvalidID(typ, id, msg string) *Error {
	return &Error{Kind: KindInvalidID, Type: typ, ID: id, msg: msg}
}

// NewInternal wraps an unclassified store failure, keeping the raw cause
// for diagnosis.
func NewInternal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, msg: msg, err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, NotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, Conflict)
}

func IsBadRequest(err error) bool {
	return errors.Is(err, BadRequest)
}

func IsUnsupportedType(err error) bool {
	return errors.Is(err, UnsupportedType)
}
