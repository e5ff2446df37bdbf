package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/metrics"
	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/realtime"
	"github.com/iliyamo/chat-realtime/internal/repository"
)

// Presence resolves a live connection to the user behind it.
type Presence interface {
	UserOf(conn string) (uint64, bool)
}

type livePair struct{ userID, roomID uint64 }

// Sweeper periodically closes active sessions that have no live connection
// in this process, such as those orphaned by a restart.  Sessions younger
// than the grace period are left alone so a client has time to open its
// connection after joining over HTTP.
type Sweeper struct {
	coord    *Coordinator
	registry *realtime.Registry
	presence Presence
	interval time.Duration
	grace    time.Duration
	log      zerolog.Logger
}

func NewSweeper(coord *Coordinator, registry *realtime.Registry, presence Presence, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		coord:    coord,
		registry: registry,
		presence: presence,
		interval: interval,
		grace:    grace,
		log:      log.With().Str("module", "service.sweeper").Logger(),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info().Msg("sweeper disabled")
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			} else if n > 0 {
				s.log.Info().Int("closed", n).Msg("sweep closed orphaned sessions")
			}
		}
	}
}

// Sweep performs one pass and returns the number of sessions it closed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.coord.store.StaleSessions(ctx, s.coord.now().Add(-s.grace))
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	live := s.livePairs()
	closed := 0
	for _, sess := range stale {
		if _, ok := live[livePair{sess.UserID, sess.RoomID}]; ok {
			continue
		}
		room, done, err := s.coord.release(ctx, sess.RoomID, sess.UserID)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrRoomNotFound), errors.Is(err, repository.ErrSessionNotFound):
			continue
		default:
			s.log.Warn().Err(err).Uint64("session_id", sess.ID).Msg("could not close orphaned session")
			continue
		}
		closed++
		metrics.SweptSessions.Inc()
		user, err := s.coord.store.User(ctx, sess.UserID)
		if err != nil {
			user = model.User{ID: sess.UserID}
		}
		s.coord.announceLeft(ctx, room, done, user, CauseSweep)
	}
	return closed, nil
}

func (s *Sweeper) livePairs() map[livePair]struct{} {
	out := make(map[livePair]struct{})
	for conn, roomID := range s.registry.Snapshot() {
		if uid, ok := s.presence.UserOf(conn); ok {
			out[livePair{uid, roomID}] = struct{}{}
		}
	}
	return out
}
