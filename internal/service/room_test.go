package service

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	roomCodeRe = regexp.MustCompile(`^ROOM[0-9A-F]{6}$`)
	pinRe      = regexp.MustCompile(`^[0-9]{4}$`)
)

func newRoomFixture() (*fixture, *RoomService) {
	f := newFixture(ScopeUser)
	return f, NewRoomService(f.store, plainHasher{}, NewNotifier(f.events))
}

func TestCreateRoomIssuesCodeAndPIN(t *testing.T) {
	f, svc := newRoomFixture()
	admin := f.store.addAdmin("Ada")

	created, err := svc.CreateRoom(context.Background(), admin.ID, CreateRoomInput{
		Name:     "  Standup  ",
		MaxUsers: 4,
	})
	require.NoError(t, err)

	assert.Regexp(t, roomCodeRe, created.Code)
	assert.Regexp(t, pinRe, created.PIN)
	assert.Equal(t, "Standup", created.Name)
	assert.Equal(t, "TEXT", created.Type)
	assert.Equal(t, 10, created.MaxFileSizeMB)
	assert.Equal(t, admin.ID, created.CreatorID)
	assert.True(t, created.IsActive)

	stored := f.store.room(created.ID)
	assert.Equal(t, "plain:"+created.PIN, stored.PinHash)

	// The issued PIN admits a user.
	guest := f.store.addGuest("gus")
	_, err = f.coord.Join(context.Background(), joinReq(created.Code, created.PIN, guest.ID, "d"))
	require.NoError(t, err)
}

func TestCreateRoomValidation(t *testing.T) {
	f, svc := newRoomFixture()
	admin := f.store.addAdmin("Ada")
	tests := []struct {
		name string
		in   CreateRoomInput
	}{
		{"short name", CreateRoomInput{Name: "ab", MaxUsers: 4}},
		{"long name", CreateRoomInput{Name: strings.Repeat("x", 101), MaxUsers: 4}},
		{"long description", CreateRoomInput{Name: "Room", Description: strings.Repeat("x", 501), MaxUsers: 4}},
		{"bad type", CreateRoomInput{Name: "Room", Type: "VIDEO", MaxUsers: 4}},
		{"one user", CreateRoomInput{Name: "Room", MaxUsers: 1}},
		{"too many users", CreateRoomInput{Name: "Room", MaxUsers: 101}},
		{"file size", CreateRoomInput{Name: "Room", MaxUsers: 4, MaxFileSizeMB: 51}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRoom(context.Background(), admin.ID, tt.in)
			assert.Equal(t, KindBadRequest, KindOf(err))
		})
	}
}

func TestListAndLookupRooms(t *testing.T) {
	f, svc := newRoomFixture()
	ada := f.store.addAdmin("Ada")
	bea := f.store.addAdmin("Bea")
	r1, err := svc.CreateRoom(context.Background(), ada.ID, CreateRoomInput{Name: "First", MaxUsers: 4})
	require.NoError(t, err)
	_, err = svc.CreateRoom(context.Background(), bea.ID, CreateRoomInput{Name: "Second", MaxUsers: 4, Type: "multimedia"})
	require.NoError(t, err)

	all, err := svc.ListActiveRooms(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.ListMyRooms(context.Background(), ada.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, r1.ID, mine[0].ID)

	got, err := svc.GetRoomByCode(context.Background(), strings.ToLower(r1.Code))
	require.NoError(t, err)
	assert.Equal(t, r1.ID, got.ID)

	_, err = svc.GetRoomByCode(context.Background(), "ROOM000000")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestResetPin(t *testing.T) {
	f, svc := newRoomFixture()
	ada := f.store.addAdmin("Ada")
	bea := f.store.addAdmin("Bea")
	r, err := svc.CreateRoom(context.Background(), ada.ID, CreateRoomInput{Name: "Room", MaxUsers: 4})
	require.NoError(t, err)

	_, err = svc.ResetPin(context.Background(), r.ID, bea.ID)
	assert.Equal(t, KindForbidden, KindOf(err))

	pin, err := svc.ResetPin(context.Background(), r.ID, ada.ID)
	require.NoError(t, err)
	assert.Regexp(t, pinRe, pin)
	assert.Equal(t, "plain:"+pin, f.store.room(r.ID).PinHash)
}

func TestDeleteRoomClosesSessions(t *testing.T) {
	f, svc := newRoomFixture()
	ada := f.store.addAdmin("Ada")
	r, err := svc.CreateRoom(context.Background(), ada.ID, CreateRoomInput{Name: "Room", MaxUsers: 4})
	require.NoError(t, err)
	gus := f.store.addGuest("gus")
	_, err = f.coord.Join(context.Background(), joinReq(r.Code, r.PIN, gus.ID, "d"))
	require.NoError(t, err)
	f.events.reset()

	require.NoError(t, svc.DeleteRoom(context.Background(), r.ID, ada.ID))

	assert.Empty(t, f.store.activeOf(gus.ID))
	require.Len(t, f.events.to(RoomSystemTopic(r.ID)), 1)
	update := f.events.to(RoomUpdateTopic(r.ID))
	require.Len(t, update, 1)
	assert.False(t, update[0].(RoomSummary).IsActive)

	_, err = svc.GetRoomByCode(context.Background(), r.Code)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, KindNotFound, KindOf(svc.DeleteRoom(context.Background(), r.ID, ada.ID)))

	// Freed from the deleted room, the guest can join elsewhere.
	other, err := svc.CreateRoom(context.Background(), ada.ID, CreateRoomInput{Name: "Other", MaxUsers: 4})
	require.NoError(t, err)
	_, err = f.coord.Join(context.Background(), joinReq(other.Code, other.PIN, gus.ID, "d"))
	require.NoError(t, err)
}
