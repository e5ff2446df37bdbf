package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/repository"
)

// Scope decides whether an existing active session of a user blocks a new
// admission into roomID from deviceID.
type Scope func(existing model.Session, roomID uint64, deviceID string) bool

// ScopeUser allows one active session per user across the whole system.
func ScopeUser(model.Session, uint64, string) bool { return true }

// ScopeRoomDevice allows one active session per (user, room, device).
func ScopeRoomDevice(existing model.Session, roomID uint64, deviceID string) bool {
	return existing.RoomID == roomID && existing.DeviceID == deviceID
}

// ParseScope maps a configuration value to a Scope.  The empty string
// selects ScopeUser.
func ParseScope(name string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "user":
		return ScopeUser, nil
	case "room_device":
		return ScopeRoomDevice, nil
	}
	return nil, fmt.Errorf("unknown session scope %q", name)
}

// Validator enforces the uniqueness scope at admission time.  It must run
// inside the admission transaction after the user row has been locked so
// that two concurrent joins by the same user cannot both pass.
type Validator struct {
	scope Scope
}

func NewValidator(scope Scope) *Validator {
	if scope == nil {
		scope = ScopeUser
	}
	return &Validator{scope: scope}
}

// Validate returns a SessionConflict error when one of the user's active
// sessions falls inside the scope.
func (v *Validator) Validate(ctx context.Context, tx repository.Tx, userID uint64, deviceID, ip string, roomID uint64) error {
	active, err := tx.ActiveSessionsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, s := range active {
		if !v.scope(s, roomID, deviceID) {
			continue
		}
		if s.SameDevice(deviceID, ip) {
			return conflict(SameDevice,
				"you already have an active session on this device; close the other tab or leave that room first")
		}
		return conflict(DifferentDevice,
			"you have an active session on another device; end that session before joining")
	}
	return nil
}
