package service

import (
	"context"
	"time"
)

// ActivityKind names an audited room event.
type ActivityKind string

const (
	ActivitySessionOpened ActivityKind = "SESSION_OPENED"
	ActivitySessionClosed ActivityKind = "SESSION_CLOSED"
	ActivityPINRejected   ActivityKind = "PIN_REJECTED"
)

// Close causes recorded with ActivitySessionClosed.
const (
	CauseLeave      = "leave"
	CauseDisconnect = "disconnect"
	CauseSweep      = "sweep"
)

// Activity is one audit record.
type Activity struct {
	Kind      ActivityKind
	RoomID    uint64
	RoomCode  string
	UserID    uint64
	SessionID uint64
	DeviceID  string
	IPAddress string
	Cause     string
	At        time.Time
}

// ActivityRecorder receives audit records.  Implementations must not block
// the caller for long and must swallow their own failures.
type ActivityRecorder interface {
	Record(ctx context.Context, a Activity)
}

// NopRecorder discards every record.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Activity) {}
