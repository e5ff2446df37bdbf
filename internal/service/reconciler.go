package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/realtime"
	"github.com/iliyamo/chat-realtime/internal/repository"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

// Reconciler keeps the session ledger in line with transport lifecycle
// signals.  It implements realtime.Lifecycle.
type Reconciler struct {
	coord    *Coordinator
	registry *realtime.Registry
	log      zerolog.Logger
}

func NewReconciler(coord *Coordinator, registry *realtime.Registry) *Reconciler {
	return &Reconciler{
		coord:    coord,
		registry: registry,
		log:      log.With().Str("module", "service.reconciler").Logger(),
	}
}

// OnConnect announces the user as online.  Unauthenticated connections are
// ignored.
func (r *Reconciler) OnConnect(ctx context.Context, conn string, p *utils.Principal) {
	if p == nil {
		return
	}
	r.coord.events.Status(r.user(ctx, p), StatusOnline)
}

// OnSubscribe records the room behind a room-scoped destination.  Other
// destinations are ignored.
func (r *Reconciler) OnSubscribe(_ context.Context, conn string, _ *utils.Principal, destination string) {
	roomID, ok := realtime.ParseRoomDestination(destination)
	if !ok {
		return
	}
	r.registry.Subscribe(conn, destination, roomID)
}

// OnUnsubscribe unmaps the connection only when it dropped its last
// destination in the mapped room.  Dropping a sub-topic such as /typing
// keeps the mapping.  The session stays open either way.
func (r *Reconciler) OnUnsubscribe(_ context.Context, conn string, destination string) {
	roomID, ok := realtime.ParseRoomDestination(destination)
	if !ok {
		return
	}
	if r.registry.Unsubscribe(conn, destination) {
		r.log.Debug().Str("conn", conn).Uint64("room_id", roomID).Msg("last room subscription dropped")
	}
}

// OnDisconnect closes the user's session in the connection's room, then
// announces the user as offline.  The connection is unmapped on every path,
// including persistence failures, and a repeated call finds no active
// session and closes nothing.
func (r *Reconciler) OnDisconnect(ctx context.Context, conn string, p *utils.Principal) {
	if p == nil {
		r.registry.Unmap(conn)
		return
	}
	user := r.user(ctx, p)
	roomID, mapped := r.registry.Lookup(conn)
	if mapped {
		room, sess, err := r.coord.release(ctx, roomID, p.UserID)
		switch {
		case err == nil:
			r.coord.announceLeft(ctx, room, sess, user, CauseDisconnect)
		case errors.Is(err, repository.ErrRoomNotFound), errors.Is(err, repository.ErrSessionNotFound):
			r.log.Debug().Str("conn", conn).Uint64("room_id", roomID).Msg("nothing to clean up")
		default:
			r.log.Error().Err(err).Str("conn", conn).Uint64("room_id", roomID).Uint64("user_id", p.UserID).Msg("disconnect cleanup failed")
		}
		r.registry.Unmap(conn)
	}
	r.coord.events.Status(user, StatusOffline)
}

// user loads the principal's user for display purposes, falling back to
// the token claims when the store is unreachable.
func (r *Reconciler) user(ctx context.Context, p *utils.Principal) model.User {
	u, err := r.coord.store.User(ctx, p.UserID)
	if err != nil {
		r.log.Warn().Err(err).Uint64("user_id", p.UserID).Msg("user lookup failed")
		return model.User{ID: p.UserID, Username: p.Username, Role: model.Role(p.Role)}
	}
	return u
}
