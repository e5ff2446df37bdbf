package model

import "time"

// Session is one device's membership interval in a room, stored in the
// `user_sessions` table.  A row is created on a successful join and is
// closed (IsActive=false, LeftAt set) by an explicit leave, a transport
// disconnect or the reconciliation sweep.  Rows are never deleted.
type Session struct {
    ID        uint64     // user_sessions.id
    UserID    uint64     // user_sessions.user_id
    RoomID    uint64     // user_sessions.room_id
    DeviceID  string     // user_sessions.device_id
    IPAddress string     // user_sessions.ip_address
    UserAgent string     // user_sessions.user_agent
    IsActive  bool       // user_sessions.is_active
    JoinedAt  time.Time  // user_sessions.joined_at
    LeftAt    *time.Time // user_sessions.left_at (nullable)
}

// SameDevice reports whether the session was opened from the given device
// identifier and address.
func (s Session) SameDevice(deviceID, ip string) bool {
    return s.DeviceID == deviceID && s.IPAddress == ip
}

// Member is an active session joined with its owner, used to render the
// occupant list of a room.
type Member struct {
    Session Session
    User    User
}
