package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"admin", User{Username: "ada@x.io", Profile: AdminProfile{FirstName: "Ada", LastName: "Lovelace"}}, "Ada Lovelace (Admin)"},
		{"admin without last name", User{Username: "ada@x.io", Profile: AdminProfile{FirstName: "Ada"}}, "Ada (Admin)"},
		{"guest", User{Username: "Guest_1", Profile: GuestProfile{Nickname: "gus"}}, "gus"},
		{"no profile", User{Username: "Guest_2"}, "Guest_2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.user))
		})
	}
}

func TestGuestProfileExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, GuestProfile{}.Expired(now))
	assert.False(t, GuestProfile{ExpiresAt: now.Add(time.Hour)}.Expired(now))
	assert.True(t, GuestProfile{ExpiresAt: now.Add(-time.Hour)}.Expired(now))
}

func TestRoomAndSessionPredicates(t *testing.T) {
	r := Room{MaxUsers: 2, CurrentUsers: 1}
	assert.False(t, r.IsFull())
	r.CurrentUsers = 2
	assert.True(t, r.IsFull())
	assert.False(t, r.IsDeleted())
	now := time.Now()
	r.DeletedAt = &now
	assert.True(t, r.IsDeleted())

	s := Session{DeviceID: "d1", IPAddress: "10.0.0.1"}
	assert.True(t, s.SameDevice("d1", "10.0.0.1"))
	assert.False(t, s.SameDevice("d1", "10.0.0.2"))
	assert.False(t, s.SameDevice("d2", "10.0.0.1"))
}
