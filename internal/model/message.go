package model

import "time"

// MessageType distinguishes plain text from attachments and announcements.
type MessageType string

const (
    MessageText   MessageType = "TEXT"
    MessageFile   MessageType = "FILE"
    MessageSystem MessageType = "SYSTEM"
)

// Message represents a row in the `messages` table.  SessionID points at the
// session that was active when the message was sent so that the sender's
// device can be attributed later.
type Message struct {
    ID        uint64
    RoomID    uint64
    UserID    uint64
    SessionID uint64
    Content   string
    Type      MessageType
    SentAt    time.Time
    IsEdited  bool
    EditedAt  *time.Time
    IsDeleted bool
    DeletedAt *time.Time
}

// Authored pairs a message with its sender so that summaries can carry a
// display name.
type Authored struct {
    Message Message
    Sender  User
}
