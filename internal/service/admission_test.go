package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

func TestJoinReturnsRoomDetail(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMAAA111", "1234", 5)
	ana := f.store.addGuest("ana")

	d, err := f.coord.Join(context.Background(), joinReq("roomaaa111", "1234", ana.ID, "dev-1"))
	require.NoError(t, err)

	assert.Equal(t, room.ID, d.Room.ID)
	assert.Equal(t, 1, d.Room.CurrentUsers)
	assert.Equal(t, 1, d.ActiveUsersCount)
	require.Len(t, d.ActiveSessions, 1)
	assert.Equal(t, "ana", d.ActiveSessions[0].DisplayName)
	assert.Empty(t, d.RecentMessages)

	assert.Equal(t, 1, f.store.room(room.ID).CurrentUsers)
	require.Len(t, f.events.to(RoomUsersTopic(room.ID)), 1)
	joined := f.events.to(RoomUsersTopic(room.ID))[0].(PresenceEvent)
	assert.Equal(t, ActionJoined, joined.Action)
	sys := f.events.to(RoomSystemTopic(room.ID))
	require.Len(t, sys, 1)
	assert.Equal(t, "ana joined the room", sys[0].(SystemEvent).Content)
	assert.Equal(t, []ActivityKind{ActivitySessionOpened}, f.activity.kinds())
}

func TestJoinFingerprintsDeviceWhenMissing(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMFP0001", "1234", 5)
	ana := f.store.addGuest("ana")

	_, err := f.coord.Join(context.Background(), joinReq("ROOMFP0001", "1234", ana.ID, ""))
	require.NoError(t, err)

	sessions := f.store.activeIn(room.ID)
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].DeviceID, 32)
}

func TestJoinFingerprintUsesCoordinatorClock(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMFP0002", "1234", 5)
	ana := f.store.addGuest("ana")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.coord.now = func() time.Time { return fixed }

	req := joinReq(room.Code, "1234", ana.ID, "")
	_, err := f.coord.Join(context.Background(), req)
	require.NoError(t, err)

	sessions := f.store.activeIn(room.ID)
	require.Len(t, sessions, 1)
	assert.Equal(t, utils.DeviceFingerprint(req.UserAgent, req.IPAddress, fixed), sessions[0].DeviceID)
	assert.Equal(t, fixed, sessions[0].JoinedAt)
}

// lockAwareHasher counts PIN comparisons made while the store transaction
// holds its lock.
type lockAwareHasher struct {
	plainHasher
	store     *memStore
	calls     int
	underLock int
	onMatch   func()
}

func (h *lockAwareHasher) Matches(plain, hash string) bool {
	h.calls++
	if h.store.mu.TryLock() {
		h.store.mu.Unlock()
	} else {
		h.underLock++
	}
	if h.onMatch != nil {
		h.onMatch()
		h.onMatch = nil
	}
	return h.plainHasher.Matches(plain, hash)
}

func TestJoinComparesPINOutsideRoomLock(t *testing.T) {
	f := newFixture(ScopeUser)
	h := &lockAwareHasher{store: f.store}
	f.coord.hasher = h
	room := f.room("ROOMBC0001", "1234", 5)
	ana := f.store.addGuest("ana")
	bob := f.store.addGuest("bob")

	_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", ana.ID, "dev-1"))
	require.NoError(t, err)
	_, err = f.coord.Join(context.Background(), joinReq(room.Code, "0000", bob.ID, "dev-2"))
	assert.Equal(t, KindForbidden, KindOf(err))

	assert.Equal(t, 2, h.calls)
	assert.Zero(t, h.underLock)
	assert.Equal(t, 1, f.store.txCalls)
}

func TestJoinRechecksPINResetBeforeLock(t *testing.T) {
	f := newFixture(ScopeUser)
	h := &lockAwareHasher{store: f.store}
	f.coord.hasher = h
	room := f.room("ROOMBC0002", "1234", 5)
	ana := f.store.addGuest("ana")
	h.onMatch = func() {
		f.store.mu.Lock()
		r := f.store.rooms[room.ID]
		r.PinHash = "plain:9999"
		f.store.rooms[room.ID] = r
		f.store.mu.Unlock()
	}

	_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", ana.ID, "dev-1"))
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Equal(t, 2, h.calls)
	assert.Equal(t, 0, f.store.room(room.ID).CurrentUsers)
	assert.Empty(t, f.store.activeOf(ana.ID))
	assert.Equal(t, []ActivityKind{ActivityPINRejected}, f.activity.kinds())
}

func TestJoinWrongPINLeavesCountUnchanged(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMPIN001", "1234", 5)
	ana := f.store.addGuest("ana")

	_, err := f.coord.Join(context.Background(), joinReq("ROOMPIN001", "0000", ana.ID, "dev-1"))
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Equal(t, 0, f.store.room(room.ID).CurrentUsers)
	assert.Empty(t, f.store.activeOf(ana.ID))
	assert.Equal(t, []ActivityKind{ActivityPINRejected}, f.activity.kinds())
	assert.Empty(t, f.events.to(RoomUsersTopic(room.ID)))
}

func TestJoinRejections(t *testing.T) {
	f := newFixture(ScopeUser)
	f.room("ROOMOK0001", "1234", 5)
	inactive := f.room("ROOMOFF001", "1234", 5)
	f.store.mu.Lock()
	r := f.store.rooms[inactive.ID]
	r.IsActive = false
	f.store.rooms[inactive.ID] = r
	f.store.mu.Unlock()

	ana := f.store.addGuest("ana")
	expired := f.store.addGuest("old")
	f.store.mu.Lock()
	u := f.store.users[expired.ID]
	u.Profile = model.GuestProfile{Nickname: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	f.store.users[expired.ID] = u
	f.store.mu.Unlock()

	tests := []struct {
		name string
		req  JoinRequest
		kind Kind
	}{
		{"unknown room", joinReq("ROOMNOPE01", "1234", ana.ID, "d"), KindNotFound},
		{"inactive room", joinReq("ROOMOFF001", "1234", ana.ID, "d"), KindInvalidState},
		{"empty code", joinReq("  ", "1234", ana.ID, "d"), KindBadRequest},
		{"empty pin", joinReq("ROOMOK0001", "", ana.ID, "d"), KindBadRequest},
		{"unknown user", joinReq("ROOMOK0001", "1234", 9999, "d"), KindNotFound},
		{"expired guest", joinReq("ROOMOK0001", "1234", expired.ID, "d"), KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Join(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestJoinRoomFull(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMFULL01", "1234", 2)
	for i := 0; i < 2; i++ {
		u := f.store.addGuest(fmt.Sprintf("g%d", i))
		_, err := f.coord.Join(context.Background(), joinReq("ROOMFULL01", "1234", u.ID, "d"))
		require.NoError(t, err)
	}
	late := f.store.addGuest("late")

	_, err := f.coord.Join(context.Background(), joinReq("ROOMFULL01", "1234", late.ID, "d"))
	require.Error(t, err)
	assert.Equal(t, KindRoomFull, KindOf(err))
	assert.Equal(t, 2, f.store.room(room.ID).CurrentUsers)
	assert.Len(t, f.store.activeIn(room.ID), 2)
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMRACE01", "1234", 5)
	const n = 20
	users := make([]model.User, n)
	for i := range users {
		users[i] = f.store.addGuest(fmt.Sprintf("g%d", i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		full     int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u model.User) {
			defer wg.Done()
			_, err := f.coord.Join(context.Background(), joinReq("ROOMRACE01", "1234", u.ID, "d"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case KindOf(err) == KindRoomFull:
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
	assert.Equal(t, n-5, full)
	assert.Equal(t, 5, f.store.room(room.ID).CurrentUsers)
	assert.Len(t, f.store.activeIn(room.ID), 5)
}

func TestConcurrentJoinsBySameUserAdmitOnce(t *testing.T) {
	f := newFixture(ScopeUser)
	a := f.room("ROOMDUPA01", "1234", 10)
	b := f.room("ROOMDUPB01", "1234", 10)
	ana := f.store.addGuest("ana")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := a.Code
			if i%2 == 1 {
				code = b.Code
			}
			_, errs[i] = f.coord.Join(context.Background(), joinReq(code, "1234", ana.ID, fmt.Sprintf("dev-%d", i)))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, KindSessionConflict, KindOf(err))
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.store.activeOf(ana.ID), 1)
	assert.Equal(t, 1, f.store.room(a.ID).CurrentUsers+f.store.room(b.ID).CurrentUsers)
}

func TestUserScopeConflicts(t *testing.T) {
	f := newFixture(ScopeUser)
	f.room("ROOMSCA001", "1234", 5)
	other := f.room("ROOMSCB001", "1234", 5)
	ana := f.store.addGuest("ana")
	_, err := f.coord.Join(context.Background(), joinReq("ROOMSCA001", "1234", ana.ID, "dev-1"))
	require.NoError(t, err)

	_, err = f.coord.Join(context.Background(), joinReq("ROOMSCB001", "1234", ana.ID, "dev-1"))
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindSessionConflict, se.Kind)
	assert.Equal(t, SameDevice, se.Reason)

	_, err = f.coord.Join(context.Background(), joinReq("ROOMSCB001", "1234", ana.ID, "dev-2"))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, DifferentDevice, se.Reason)
	assert.Equal(t, 0, f.store.room(other.ID).CurrentUsers)
}

func TestRoomDeviceScope(t *testing.T) {
	f := newFixture(ScopeRoomDevice)
	a := f.room("ROOMRDA001", "1234", 5)
	b := f.room("ROOMRDB001", "1234", 5)
	ana := f.store.addGuest("ana")

	_, err := f.coord.Join(context.Background(), joinReq(a.Code, "1234", ana.ID, "dev-1"))
	require.NoError(t, err)
	_, err = f.coord.Join(context.Background(), joinReq(b.Code, "1234", ana.ID, "dev-1"))
	require.NoError(t, err, "another room is outside the scope")
	_, err = f.coord.Join(context.Background(), joinReq(a.Code, "1234", ana.ID, "dev-2"))
	require.NoError(t, err, "another device is outside the scope")

	_, err = f.coord.Join(context.Background(), joinReq(a.Code, "1234", ana.ID, "dev-1"))
	assert.Equal(t, KindSessionConflict, KindOf(err))

	assert.Equal(t, 2, f.store.room(a.ID).CurrentUsers)
	assert.Equal(t, 1, f.store.room(b.ID).CurrentUsers)
}

func TestLeave(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMLV0001", "1234", 5)
	ana := f.store.addGuest("ana")
	_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", ana.ID, "dev-1"))
	require.NoError(t, err)
	f.events.reset()

	require.NoError(t, f.coord.Leave(context.Background(), room.ID, ana.ID))
	assert.Equal(t, 0, f.store.room(room.ID).CurrentUsers)
	assert.Empty(t, f.store.activeOf(ana.ID))
	left := f.events.to(RoomUsersTopic(room.ID))
	require.Len(t, left, 1)
	assert.Equal(t, ActionLeft, left[0].(PresenceEvent).Action)

	err = f.coord.Leave(context.Background(), room.ID, ana.ID)
	assert.Equal(t, KindBadRequest, KindOf(err))
	assert.Equal(t, 0, f.store.room(room.ID).CurrentUsers)

	err = f.coord.Leave(context.Background(), 424242, ana.ID)
	assert.Equal(t, KindNotFound, KindOf(err))

	// After leaving, the user may join again.
	_, err = f.coord.Join(context.Background(), joinReq(room.Code, "1234", ana.ID, "dev-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.room(room.ID).CurrentUsers)
}

func TestLeaveAfterAccountLapsed(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMLV0002", "1234", 5)
	ana := f.store.addGuest("ana")
	bob := f.store.addGuest("bob")
	for _, u := range []model.User{ana, bob} {
		_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", u.ID, "dev-1"))
		require.NoError(t, err)
	}
	f.store.mu.Lock()
	u := f.store.users[ana.ID]
	u.Profile = model.GuestProfile{Nickname: "ana", ExpiresAt: time.Now().Add(-time.Minute)}
	f.store.users[ana.ID] = u
	u = f.store.users[bob.ID]
	u.IsActive = false
	f.store.users[bob.ID] = u
	f.store.mu.Unlock()

	require.NoError(t, f.coord.Leave(context.Background(), room.ID, ana.ID))
	require.NoError(t, f.coord.Leave(context.Background(), room.ID, bob.ID))
	assert.Equal(t, 0, f.store.room(room.ID).CurrentUsers)
	assert.Empty(t, f.store.activeIn(room.ID))

	// Joining again is still refused.
	_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", ana.ID, "dev-1"))
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestJoinRetriesTransientFailures(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMRT0001", "1234", 5)
	ana := f.store.addGuest("ana")
	f.store.transientFailures = 2

	_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", ana.ID, "dev-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.txCalls)
	assert.Equal(t, 1, f.store.room(room.ID).CurrentUsers)
}

func TestJoinUnavailableAfterRetriesExhausted(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMRT0002", "1234", 5)
	ana := f.store.addGuest("ana")
	f.store.transientFailures = 100

	_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", ana.ID, "dev-1"))
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, 4, f.store.txCalls)
	assert.Equal(t, 0, f.store.room(room.ID).CurrentUsers)
	assert.Empty(t, f.store.activeOf(ana.ID))
}

func TestGetActiveSessionCount(t *testing.T) {
	f := newFixture(ScopeUser)
	room := f.room("ROOMCNT001", "1234", 5)
	for i := 0; i < 3; i++ {
		u := f.store.addGuest(fmt.Sprintf("g%d", i))
		_, err := f.coord.Join(context.Background(), joinReq(room.Code, "1234", u.ID, "d"))
		require.NoError(t, err)
	}
	n, err := f.coord.GetActiveSessionCount(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.coord.GetActiveSessionCount(context.Background(), 77777)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestParseScope(t *testing.T) {
	for _, name := range []string{"", "user", "USER", " room_device "} {
		s, err := ParseScope(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	_, err := ParseScope("device")
	assert.Error(t, err)
}
