package service

import (
	"errors"
	"fmt"
)

// Kind classifies the failures that the room coordinator reports to its
// callers.  Every Kind is recoverable at the API boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindForbidden
	KindRoomFull
	KindSessionConflict
	KindBadRequest
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindForbidden:
		return "forbidden"
	case KindRoomFull:
		return "room_full"
	case KindSessionConflict:
		return "session_conflict"
	case KindBadRequest:
		return "bad_request"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// ConflictReason tells a client how to resolve a SessionConflict.
type ConflictReason string

const (
	SameDevice      ConflictReason = "SAME_DEVICE"
	DifferentDevice ConflictReason = "DIFFERENT_DEVICE"
)

// Error is the error type returned by every service operation.
type Error struct {
	Kind   Kind
	Reason ConflictReason // set only for KindSessionConflict
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal when err did not come
// from this package.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

func notFound(msg string) *Error     { return newErr(KindNotFound, msg) }
func invalidState(msg string) *Error { return newErr(KindInvalidState, msg) }
func forbidden(msg string) *Error    { return newErr(KindForbidden, msg) }
func badRequest(msg string) *Error   { return newErr(KindBadRequest, msg) }

func conflict(reason ConflictReason, msg string) *Error {
	return &Error{Kind: KindSessionConflict, Reason: reason, Msg: msg}
}

func unavailable(cause error) *Error {
	return &Error{Kind: KindUnavailable, Msg: "service busy, try again", Err: cause}
}
