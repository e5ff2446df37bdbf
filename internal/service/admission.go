package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/metrics"
	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/repository"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

// Hasher is the credential hashing collaborator.
type Hasher interface {
	Hash(plain string) (string, error)
	Matches(plain, hash string) bool
}

// JoinRequest carries one admission attempt.  DeviceID may be empty.
type JoinRequest struct {
	RoomCode  string
	PIN       string
	UserID    uint64
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Coordinator admits users into rooms and releases them again.  All
// occupancy and session writes go through its transactions.
type Coordinator struct {
	store      repository.Store
	hasher     Hasher
	validator  *Validator
	events     *Notifier
	activity   ActivityRecorder
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewCoordinator wires the admission controller.  maxRetries bounds how
// often a transaction that hit a deadlock or lock timeout is re-run.
func NewCoordinator(store repository.Store, hasher Hasher, validator *Validator, events *Notifier, activity ActivityRecorder, maxRetries int) *Coordinator {
	if activity == nil {
		activity = NopRecorder{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Coordinator{
		store:      store,
		hasher:     hasher,
		validator:  validator,
		events:     events,
		activity:   activity,
		maxRetries: maxRetries,
		backoff:    25 * time.Millisecond,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.With().Str("module", "service.admission").Logger(),
	}
}

// Join admits the user into the room identified by RoomCode and returns
// the room as seen right after the admission.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (RoomDetail, error) {
	code := strings.ToUpper(strings.TrimSpace(req.RoomCode))
	if code == "" || req.PIN == "" {
		return RoomDetail{}, badRequest("room code and PIN are required")
	}
	if len(req.DeviceID) > 100 {
		return RoomDetail{}, badRequest("device id is too long")
	}
	user, err := c.loadUser(ctx, req.UserID)
	if err != nil {
		return RoomDetail{}, err
	}

	// The PIN is checked against an unlocked read first so that the bcrypt
	// comparison stays outside the room lock.  Inside the transaction it is
	// only repeated when the hash changed in between.
	pre, err := c.store.RoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			err = notFound("room not found")
		}
		metrics.JoinsTotal.WithLabelValues(KindOf(err).String()).Inc()
		return RoomDetail{}, err
	}
	if !pre.IsActive {
		err = invalidState("room is not active")
		metrics.JoinsTotal.WithLabelValues(KindOf(err).String()).Inc()
		return RoomDetail{}, err
	}
	if !c.hasher.Matches(req.PIN, pre.PinHash) {
		return RoomDetail{}, c.rejectPIN(ctx, code, user, req)
	}

	var (
		room      model.Room
		sess      model.Session
		pinFailed bool
	)
	err = c.inTx(ctx, func(tx repository.Tx) error {
		pinFailed = false
		r, err := tx.LockRoomByCode(ctx, code)
		if err != nil {
			if errors.Is(err, repository.ErrRoomNotFound) {
				return notFound("room not found")
			}
			return err
		}
		if !r.IsActive {
			return invalidState("room is not active")
		}
		if r.PinHash != pre.PinHash && !c.hasher.Matches(req.PIN, r.PinHash) {
			pinFailed = true
			return forbidden("incorrect PIN")
		}
		if r.IsFull() {
			return &Error{Kind: KindRoomFull, Msg: "room is full"}
		}
		deviceID := req.DeviceID
		if deviceID == "" {
			deviceID = utils.DeviceFingerprint(req.UserAgent, req.IPAddress, c.now())
		}
		if err := tx.LockUser(ctx, user.ID); err != nil {
			return err
		}
		if err := c.validator.Validate(ctx, tx, user.ID, deviceID, req.IPAddress, r.ID); err != nil {
			return err
		}
		s := model.Session{
			UserID:    user.ID,
			RoomID:    r.ID,
			DeviceID:  deviceID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			JoinedAt:  c.now(),
		}
		if err := tx.CreateSession(ctx, &s); err != nil {
			return err
		}
		if err := tx.AdjustOccupancy(ctx, r.ID, 1); err != nil {
			return err
		}
		r.CurrentUsers++
		room, sess = r, s
		return nil
	})
	if err != nil {
		if pinFailed {
			return RoomDetail{}, c.rejectPIN(ctx, code, user, req)
		}
		metrics.JoinsTotal.WithLabelValues(KindOf(err).String()).Inc()
		return RoomDetail{}, err
	}

	metrics.JoinsTotal.WithLabelValues("ok").Inc()
	c.log.Info().Uint64("room_id", room.ID).Uint64("user_id", user.ID).Uint64("session_id", sess.ID).Msg("user joined room")
	c.events.UserJoined(room.ID, user)
	c.events.System(room.ID, SystemCategory, model.DisplayName(user)+" joined the room")
	c.activity.Record(ctx, Activity{
		Kind:      ActivitySessionOpened,
		RoomID:    room.ID,
		RoomCode:  room.Code,
		UserID:    user.ID,
		SessionID: sess.ID,
		DeviceID:  sess.DeviceID,
		IPAddress: sess.IPAddress,
		At:        sess.JoinedAt,
	})
	return c.GetRoomDetail(ctx, room.ID)
}

// Leave closes the user's active session in the room.  Disabled accounts
// and expired guests may still leave.
func (c *Coordinator) Leave(ctx context.Context, roomID, userID uint64) error {
	user, err := c.resolveUser(ctx, userID)
	if err != nil {
		return err
	}
	room, sess, err := c.release(ctx, roomID, userID)
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return notFound("room not found")
	case errors.Is(err, repository.ErrSessionNotFound):
		return badRequest("not connected to this room")
	case err != nil:
		return err
	}
	c.announceLeft(ctx, room, sess, user, CauseLeave)
	return nil
}

// GetRoomDetail returns the room summary, its active members, the most
// recent messages (newest first) and the active session count.
func (c *Coordinator) GetRoomDetail(ctx context.Context, roomID uint64) (RoomDetail, error) {
	room, err := c.store.Room(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return RoomDetail{}, notFound("room not found")
		}
		return RoomDetail{}, err
	}
	members, err := c.store.ActiveMembers(ctx, roomID)
	if err != nil {
		return RoomDetail{}, err
	}
	msgs, err := c.store.RecentMessages(ctx, roomID, recentMessageLimit)
	if err != nil {
		return RoomDetail{}, err
	}
	d := RoomDetail{
		Room:             summarize(room),
		ActiveSessions:   make([]SessionView, 0, len(members)),
		RecentMessages:   make([]MessageView, 0, len(msgs)),
		ActiveUsersCount: len(members),
	}
	for _, m := range members {
		d.ActiveSessions = append(d.ActiveSessions, sessionView(m))
	}
	for _, m := range msgs {
		d.RecentMessages = append(d.RecentMessages, messageView(m))
	}
	return d, nil
}

// GetActiveSessionCount returns how many sessions are active in the room.
func (c *Coordinator) GetActiveSessionCount(ctx context.Context, roomID uint64) (int, error) {
	if _, err := c.store.Room(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return 0, notFound("room not found")
		}
		return 0, err
	}
	return c.store.CountActiveSessions(ctx, roomID)
}

// release closes the user's active session in roomID and decrements the
// occupancy under the room lock.  It returns repository.ErrRoomNotFound or
// repository.ErrSessionNotFound untranslated so that each caller can
// decide what those mean.
func (c *Coordinator) release(ctx context.Context, roomID, userID uint64) (model.Room, model.Session, error) {
	var (
		room model.Room
		sess model.Session
	)
	err := c.inTx(ctx, func(tx repository.Tx) error {
		r, err := tx.LockRoomByID(ctx, roomID)
		if err != nil {
			return err
		}
		s, err := tx.ActiveSessionInRoom(ctx, userID, roomID)
		if err != nil {
			return err
		}
		left := c.now()
		if err := tx.CloseSession(ctx, s.ID, left); err != nil {
			return err
		}
		if err := tx.AdjustOccupancy(ctx, r.ID, -1); err != nil {
			return err
		}
		if r.CurrentUsers > 0 {
			r.CurrentUsers--
		}
		s.IsActive = false
		s.LeftAt = &left
		room, sess = r, s
		return nil
	})
	return room, sess, err
}

// announceLeft publishes the events and audit record for a closed session.
// It runs only after the closing transaction committed.
func (c *Coordinator) announceLeft(ctx context.Context, room model.Room, sess model.Session, user model.User, cause string) {
	metrics.LeavesTotal.WithLabelValues(cause).Inc()
	c.log.Info().Uint64("room_id", room.ID).Uint64("user_id", user.ID).Uint64("session_id", sess.ID).Str("cause", cause).Msg("user left room")
	c.events.UserLeft(room.ID, user)
	c.events.System(room.ID, SystemCategory, model.DisplayName(user)+" left the room")
	at := c.now()
	if sess.LeftAt != nil {
		at = *sess.LeftAt
	}
	c.activity.Record(ctx, Activity{
		Kind:      ActivitySessionClosed,
		RoomID:    room.ID,
		RoomCode:  room.Code,
		UserID:    user.ID,
		SessionID: sess.ID,
		DeviceID:  sess.DeviceID,
		IPAddress: sess.IPAddress,
		Cause:     cause,
		At:        at,
	})
}

// rejectPIN records a failed PIN attempt and returns the error for it.
func (c *Coordinator) rejectPIN(ctx context.Context, code string, user model.User, req JoinRequest) error {
	metrics.JoinsTotal.WithLabelValues(KindForbidden.String()).Inc()
	c.log.Warn().Str("room_code", code).Uint64("user_id", user.ID).Str("ip", req.IPAddress).Msg("join rejected: wrong PIN")
	c.activity.Record(ctx, Activity{
		Kind:      ActivityPINRejected,
		RoomCode:  code,
		UserID:    user.ID,
		DeviceID:  req.DeviceID,
		IPAddress: req.IPAddress,
		At:        c.now(),
	})
	return forbidden("incorrect PIN")
}

// resolveUser loads the user without the account gates of loadUser.
func (c *Coordinator) resolveUser(ctx context.Context, id uint64) (model.User, error) {
	u, err := c.store.User(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.User{}, notFound("user not found")
		}
		return model.User{}, err
	}
	return u, nil
}

// loadUser resolves the user and refuses disabled accounts and expired
// guests.
func (c *Coordinator) loadUser(ctx context.Context, id uint64) (model.User, error) {
	u, err := c.resolveUser(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if !u.IsActive {
		return model.User{}, forbidden("account is disabled")
	}
	if gp, ok := u.Profile.(model.GuestProfile); ok && gp.Expired(c.now()) {
		return model.User{}, forbidden("guest access has expired")
	}
	return u, nil
}

// inTx runs fn in a store transaction, re-running the whole unit when the
// database reports a deadlock or lock wait timeout.  fn must therefore be
// free of side effects outside the transaction.
func (c *Coordinator) inTx(ctx context.Context, fn func(repository.Tx) error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.TxRetries.Inc()
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("retrying transaction")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
		err = c.store.InTx(ctx, fn)
		if err == nil || !repository.IsTransient(err) {
			return err
		}
	}
	return unavailable(err)
}
