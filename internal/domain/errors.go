package domain

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindBusy
	KindNotRunning
	KindRuntimeUnavailable
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindBusy:
		return "busy"
	case KindNotRunning:
		return "not running"
	case KindRuntimeUnavailable:
		return "runtime unavailable"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrBusy               = &Error{Kind: KindBusy}
	ErrNotRunning         = &Error{Kind: KindNotRunning}
	ErrRuntimeUnavailable = &Error{Kind: KindRuntimeUnavailable}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrInternal           = &Error{Kind: KindInternal}
)

// Error carries an orchestration error kind. Two errors match under
// errors.Is when their kinds match; a Conflict also matches ErrValidation
// and a NotRunning also matches ErrRuntimeUnavailable.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	switch {
	case e.Kind == KindConflict && t.Kind == KindValidation:
		return true
	case e.Kind == KindNotRunning && t.Kind == KindRuntimeUnavailable:
		return true
	}
	return false
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Busyf(format string, args ...any) error {
	return &Error{Kind: KindBusy, Msg: fmt.Sprintf(format, args...)}
}

func NotRunningf(format string, args ...any) error {
	return &Error{Kind: KindNotRunning, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable wraps err as RuntimeUnavailable.
func Unavailable(msg string, err error) error {
	return &Error{Kind: KindRuntimeUnavailable, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
