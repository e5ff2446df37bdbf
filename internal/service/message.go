package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/metrics"
	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/repository"
)

// MessageStore is the persistence surface used by MessageService.
type MessageStore interface {
	User(ctx context.Context, id uint64) (model.User, error)
	ActiveSession(ctx context.Context, userID, roomID uint64) (model.Session, error)
	CreateMessage(ctx context.Context, m *model.Message) error
	Message(ctx context.Context, id uint64) (model.Authored, error)
	EditMessage(ctx context.Context, id uint64, content string, at time.Time) error
	DeleteMessage(ctx context.Context, id uint64, at time.Time) error
	RecentMessages(ctx context.Context, roomID uint64, limit int) ([]model.Authored, error)
}

const (
	maxMessageLen   = 5000
	maxHistoryLimit = 200
)

// MessageService stores chat messages and fans them out to the room.  Every
// message is tied to the sender's active session in the room.
type MessageService struct {
	store  MessageStore
	events *Notifier
	now    func() time.Time
	log    zerolog.Logger
}

func NewMessageService(store MessageStore, events *Notifier) *MessageService {
	return &MessageService{
		store:  store,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("module", "service.message").Logger(),
	}
}

// SendText stores a text message from a connected user and publishes it to
// the room.
func (s *MessageService) SendText(ctx context.Context, roomID, userID uint64, content string) (MessageView, error) {
	content, err := validContent(content)
	if err != nil {
		return MessageView{}, err
	}
	sess, err := s.session(ctx, userID, roomID)
	if err != nil {
		return MessageView{}, err
	}
	sender, err := s.store.User(ctx, userID)
	if err != nil {
		return MessageView{}, err
	}
	m := model.Message{
		RoomID:    roomID,
		UserID:    userID,
		SessionID: sess.ID,
		Content:   content,
		Type:      model.MessageText,
		SentAt:    s.now(),
	}
	if err := s.store.CreateMessage(ctx, &m); err != nil {
		return MessageView{}, err
	}
	metrics.MessagesSent.Inc()
	v := messageView(model.Authored{Message: m, Sender: sender})
	s.events.Message(v)
	return v, nil
}

// Edit replaces the content of the caller's own message.
func (s *MessageService) Edit(ctx context.Context, messageID, userID uint64, content string) (MessageView, error) {
	content, err := validContent(content)
	if err != nil {
		return MessageView{}, err
	}
	a, err := s.authored(ctx, messageID, userID)
	if err != nil {
		return MessageView{}, err
	}
	at := s.now()
	if err := s.store.EditMessage(ctx, messageID, content, at); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return MessageView{}, notFound("message not found")
		}
		return MessageView{}, err
	}
	a.Message.Content = content
	a.Message.IsEdited = true
	a.Message.EditedAt = &at
	v := messageView(a)
	s.events.Message(v)
	return v, nil
}

// Delete soft-deletes the caller's own message.  Subscribers receive the
// redacted message and a deletion notice.
func (s *MessageService) Delete(ctx context.Context, messageID, userID uint64) error {
	a, err := s.authored(ctx, messageID, userID)
	if err != nil {
		return err
	}
	at := s.now()
	if err := s.store.DeleteMessage(ctx, messageID, at); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return notFound("message not found")
		}
		return err
	}
	a.Message.IsDeleted = true
	a.Message.DeletedAt = &at
	s.events.Message(messageView(a))
	s.events.MessageDeleted(a.Message.RoomID, messageID)
	return nil
}

// ListRoom returns up to limit recent messages, newest first, to a user
// connected to the room.
func (s *MessageService) ListRoom(ctx context.Context, roomID, userID uint64, limit int) ([]MessageView, error) {
	if _, err := s.session(ctx, userID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = recentMessageLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	msgs, err := s.store.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m))
	}
	return out, nil
}

// Typing relays a typing indicator for a connected user.
func (s *MessageService) Typing(ctx context.Context, roomID, userID uint64, typing bool) error {
	if _, err := s.session(ctx, userID, roomID); err != nil {
		return err
	}
	u, err := s.store.User(ctx, userID)
	if err != nil {
		return err
	}
	s.events.Typing(roomID, u, typing)
	return nil
}

// ReportError delivers text to the user's private error queue.
func (s *MessageService) ReportError(userID uint64, text string) {
	s.events.ErrorToUser(userID, text)
}

func (s *MessageService) session(ctx context.Context, userID, roomID uint64) (model.Session, error) {
	sess, err := s.store.ActiveSession(ctx, userID, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return model.Session{}, badRequest("not connected to this room")
		}
		return model.Session{}, err
	}
	return sess, nil
}

func (s *MessageService) authored(ctx context.Context, messageID, userID uint64) (model.Authored, error) {
	a, err := s.store.Message(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return model.Authored{}, notFound("message not found")
		}
		return model.Authored{}, err
	}
	if a.Message.IsDeleted {
		return model.Authored{}, notFound("message not found")
	}
	if a.Message.UserID != userID {
		return model.Authored{}, forbidden("you can only change your own messages")
	}
	return a, nil
}

func validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", badRequest("message content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLen {
		return "", badRequest("message is too long")
	}
	return content, nil
}

// Post is SendText for callers that only need the outcome.
func (s *MessageService) Post(ctx context.Context, roomID, userID uint64, content string) error {
	_, err := s.SendText(ctx, roomID, userID, content)
	return err
}
