package status

import (
	"errors"
	"fmt"
)

// Kind discriminates the failure classes an action can end with.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindNotFound   Kind = "NotFoundError"
	KindForbidden  Kind = "ForbiddenError"
	KindConflict   Kind = "ConflictError"
	KindInternal   Kind = "InternalError"
)

// InternalMessage is what clients see in place of a non-visible error.
const InternalMessage = "A server error has been occurred."

var (
	ErrQueueNotFound = NotFound("queue not found")
	ErrLaneNotFound  = NotFound("lane not found")
	ErrBellNotFound  = NotFound("bell not found")
	ErrNotManager    = Forbidden("you are not a manager of this queue")
	ErrWrongSecret   = Forbidden("manager secret does not match")
	ErrWrongCode     = Forbidden("join code does not match")
	ErrNotInQueue    = Forbidden("you are not in this queue")
	ErrAlreadyJoined = Conflict("you are already in this queue")
	ErrAlreadyManage = Conflict("you are already a manager of this queue")
	ErrLaneOccupied  = Conflict("lane is already occupied")
	ErrLaneEmpty     = Conflict("lane has no occupant")
	ErrQueueEmpty    = Conflict("nobody is waiting")
)

type Error struct {
	Kind    Kind
	Visible bool
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and message so that sentinels survive wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Visible: true, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Visible: true, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Visible: true, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Visible: true, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. Its message never reaches clients
// outside of debug mode.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err, treating anything untagged as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsVisible reports whether err may be echoed verbatim to the requesting client.
func IsVisible(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Visible
}

// PublicMessage returns the text sent to clients for err.
func PublicMessage(err error, debug bool) string {
	var e *Error
	if errors.As(err, &e) && e.Visible {
		return e.Message
	}
	if debug && err != nil {
		return err.Error()
	}
	return InternalMessage
}
