package service

import (
	"time"

	"github.com/iliyamo/chat-realtime/internal/model"
)

// recentMessageLimit bounds the message history returned with room details.
const recentMessageLimit = 50

type RoomSummary struct {
	ID            uint64    `json:"id"`
	Code          string    `json:"room_code"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Type          string    `json:"type"`
	MaxUsers      int       `json:"max_users"`
	CurrentUsers  int       `json:"current_users"`
	MaxFileSizeMB int       `json:"max_file_size_mb"`
	IsActive      bool      `json:"is_active"`
	IsFull        bool      `json:"is_full"`
	CreatorID     uint64    `json:"creator_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type SessionView struct {
	ID          uint64    `json:"id"`
	UserID      uint64    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
	IsActive    bool      `json:"is_active"`
	IPAddress   string    `json:"ip_address"`
}

// MessageView is the wire form of a message.  Deleted messages are
// redacted: Content is emptied and IsDeleted is set.
type MessageView struct {
	ID         uint64     `json:"id"`
	RoomID     uint64     `json:"room_id"`
	SenderID   uint64     `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	Content    string     `json:"content"`
	Type       string     `json:"message_type"`
	SentAt     time.Time  `json:"sent_at"`
	IsEdited   bool       `json:"is_edited"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	IsDeleted  bool       `json:"is_deleted"`
}

// RoomDetail is what a successful join returns.
type RoomDetail struct {
	Room             RoomSummary   `json:"room"`
	ActiveSessions   []SessionView `json:"active_sessions"`
	RecentMessages   []MessageView `json:"recent_messages"`
	ActiveUsersCount int           `json:"active_users_count"`
}

func summarize(r model.Room) RoomSummary {
	return RoomSummary{
		ID:            r.ID,
		Code:          r.Code,
		Name:          r.Name,
		Description:   r.Description,
		Type:          string(r.Type),
		MaxUsers:      r.MaxUsers,
		CurrentUsers:  r.CurrentUsers,
		MaxFileSizeMB: r.MaxFileSizeMB,
		IsActive:      r.IsActive,
		IsFull:        r.IsFull(),
		CreatorID:     r.CreatorID,
		CreatedAt:     r.CreatedAt,
	}
}

func sessionView(m model.Member) SessionView {
	return SessionView{
		ID:          m.Session.ID,
		UserID:      m.User.ID,
		DisplayName: model.DisplayName(m.User),
		JoinedAt:    m.Session.JoinedAt,
		IsActive:    m.Session.IsActive,
		IPAddress:   m.Session.IPAddress,
	}
}

func messageView(a model.Authored) MessageView {
	m := a.Message
	v := MessageView{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.UserID,
		SenderName: model.DisplayName(a.Sender),
		Content:    m.Content,
		Type:       string(m.Type),
		SentAt:     m.SentAt,
		IsEdited:   m.IsEdited,
		EditedAt:   m.EditedAt,
		IsDeleted:  m.IsDeleted,
	}
	if m.IsDeleted {
		v.Content = ""
	}
	return v
}
