// Package queue carries room activity audit events over RabbitMQ.
package queue

import "github.com/iliyamo/chat-realtime/internal/service"

// ActivityQueueName is the durable queue that receives room activity.
const ActivityQueueName = "room.activity"

// RoomActivityEvent is the broker payload for one audited room event.  It
// holds enough to write an audit line without querying the database.
type RoomActivityEvent struct {
    Kind       string `json:"kind"`
    RoomID     uint64 `json:"room_id,omitempty"`
    RoomCode   string `json:"room_code,omitempty"`
    UserID     uint64 `json:"user_id"`
    SessionID  uint64 `json:"session_id,omitempty"`
    DeviceID   string `json:"device_id,omitempty"`
    IPAddress  string `json:"ip_address,omitempty"`
    Cause      string `json:"cause,omitempty"`
    OccurredAt string `json:"occurred_at"`
}

func eventFrom(a service.Activity) RoomActivityEvent {
    return RoomActivityEvent{
        Kind:       string(a.Kind),
        RoomID:     a.RoomID,
        RoomCode:   a.RoomCode,
        UserID:     a.UserID,
        SessionID:  a.SessionID,
        DeviceID:   a.DeviceID,
        IPAddress:  a.IPAddress,
        Cause:      a.Cause,
        OccurredAt: a.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
    }
}
