package model

import (
    "strings"
    "time"
)

// Role is the coarse permission class of a user.
type Role string

const (
    RoleAdmin Role = "ADMIN"
    RoleGuest Role = "GUEST"
)

// User represents an application user record as stored in the `users`
// table together with its optional profile.  Admins authenticate with an
// email and password; guests are created on demand with a nickname and
// expire after a fixed time.
type User struct {
    ID           uint64    // users.id
    Username     string    // users.username
    PasswordHash string    // users.password_hash (empty for guests)
    Role         Role      // users.role
    IsActive     bool      // users.is_active
    CreatedAt    time.Time // users.created_at
    UpdatedAt    time.Time // users.updated_at
    Profile      Profile   // admin_profiles or guest_profiles row, may be nil
}

// Profile is the closed set of per-role profile records.  The only
// implementations are AdminProfile and GuestProfile.
type Profile interface {
    profile()
}

// AdminProfile mirrors the `admin_profiles` table.
type AdminProfile struct {
    FirstName string
    LastName  string
    Email     string
    Phone     string
}

// GuestProfile mirrors the `guest_profiles` table.
type GuestProfile struct {
    Nickname  string
    ExpiresAt time.Time
}

func (AdminProfile) profile() {}
func (GuestProfile) profile() {}

// FullName joins first and last name.
func (p AdminProfile) FullName() string {
    return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Expired reports whether the guest profile is past its expiry at t.
func (p GuestProfile) Expired(t time.Time) bool {
    return !p.ExpiresAt.IsZero() && t.After(p.ExpiresAt)
}

// DisplayName is the name shown to other room members: admins carry an
// "(Admin)" suffix, guests show their nickname, and users without a profile
// fall back to the username.
func DisplayName(u User) string {
    switch p := u.Profile.(type) {
    case AdminProfile:
        return p.FullName() + " (Admin)"
    case GuestProfile:
        return p.Nickname
    default:
        return u.Username
    }
}
