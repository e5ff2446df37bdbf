package service

import (
	"fmt"
	"time"

	"github.com/iliyamo/chat-realtime/internal/metrics"
	"github.com/iliyamo/chat-realtime/internal/model"
)

// Publisher delivers a payload to every current subscriber of destination.
// Delivery is at-most-once.
type Publisher interface {
	Publish(destination string, payload any)
}

// Destinations.
const StatusTopic = "/topic/user-status"

func RoomTopic(roomID uint64) string { return fmt.Sprintf("/topic/room/%d", roomID) }
func RoomUsersTopic(roomID uint64) string { return RoomTopic(roomID) + "/users" }
func RoomSystemTopic(roomID uint64) string { return RoomTopic(roomID) + "/system" }
func RoomTypingTopic(roomID uint64) string { return RoomTopic(roomID) + "/typing" }
func RoomDeletedTopic(roomID uint64) string { return RoomTopic(roomID) + "/deleted" }
func RoomUpdateTopic(roomID uint64) string { return RoomTopic(roomID) + "/update" }
func UserErrorQueue(userID uint64) string { return fmt.Sprintf("/user/%d/queue/errors", userID) }

const (
	ActionJoined = "JOINED"
	ActionLeft   = "LEFT"

	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"

	SystemCategory  = "SYSTEM"
	InfoCategory    = "INFO"
	WarningCategory = "WARNING"
)

type PresenceEvent struct {
	UserID      uint64    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
}

type SystemEvent struct {
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingEvent struct {
	UserID      uint64 `json:"user_id"`
	DisplayName string `json:"display_name"`
	RoomID      uint64 `json:"room_id"`
	IsTyping    bool   `json:"is_typing"`
}

type StatusEvent struct {
	UserID      uint64    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type DeletedEvent struct {
	MessageID uint64    `json:"message_id"`
	RoomID    uint64    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier turns domain events into payloads on the right destinations.
type Notifier struct {
	pub Publisher
	now func() time.Time
}

func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

func (n *Notifier) publish(kind, dest string, payload any) {
	metrics.EventsPublished.WithLabelValues(kind).Inc()
	n.pub.Publish(dest, payload)
}

func (n *Notifier) Message(v MessageView) { n.publish("message", RoomTopic(v.RoomID), v) }

func (n *Notifier) UserJoined(roomID uint64, u model.User) { n.presence(roomID, u, ActionJoined) }
func (n *Notifier) UserLeft(roomID uint64, u model.User) { n.presence(roomID, u, ActionLeft) }

func (n *Notifier) presence(roomID uint64, u model.User, action string) {
	n.publish("presence", RoomUsersTopic(roomID), PresenceEvent{
		UserID:      u.ID,
		DisplayName: model.DisplayName(u),
		Action:      action,
		Timestamp:   n.now(),
	})
}

func (n *Notifier) System(roomID uint64, category, text string) {
	n.publish("system", RoomSystemTopic(roomID), SystemEvent{Content: text, Type: category, Timestamp: n.now()})
}

func (n *Notifier) Typing(roomID uint64, u model.User, typing bool) {
	n.publish("typing", RoomTypingTopic(roomID), TypingEvent{
		UserID:      u.ID,
		DisplayName: model.DisplayName(u),
		RoomID:      roomID,
		IsTyping:    typing,
	})
}

func (n *Notifier) Status(u model.User, status string) {
	n.publish("status", StatusTopic, StatusEvent{
		UserID:      u.ID,
		DisplayName: model.DisplayName(u),
		Status:      status,
		Timestamp:   n.now(),
	})
}

func (n *Notifier) MessageDeleted(roomID, messageID uint64) {
	n.publish("deleted", RoomDeletedTopic(roomID), DeletedEvent{MessageID: messageID, RoomID: roomID, Timestamp: n.now()})
}

func (n *Notifier) ErrorToUser(userID uint64, text string) {
	n.publish("error", UserErrorQueue(userID), ErrorEvent{Message: text, Timestamp: n.now()})
}

func (n *Notifier) RoomUpdated(roomID uint64, snapshot any) {
	n.publish("update", RoomUpdateTopic(roomID), snapshot)
}
