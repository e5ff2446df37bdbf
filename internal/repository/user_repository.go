package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

// userColumns selects a user together with whichever profile row exists.
// Callers must alias users as u, admin_profiles as a and guest_profiles as g.
const userColumns = `u.id, u.username, u.password_hash, u.role, u.is_active, u.created_at, u.updated_at,
	a.first_name, a.last_name, a.email, a.phone, g.nickname, g.expires_at`

const userJoins = `LEFT JOIN admin_profiles a ON a.user_id = u.id
	LEFT JOIN guest_profiles g ON g.user_id = u.id`

// userScan holds the nullable columns produced by userColumns.
type userScan struct {
	u                         model.User
	role                      string
	first, last, email, phone sql.NullString
	nickname                  sql.NullString
	expires                   sql.NullTime
}

func (s *userScan) targets() []any {
	return []any{&s.u.ID, &s.u.Username, &s.u.PasswordHash, &s.role, &s.u.IsActive, &s.u.CreatedAt, &s.u.UpdatedAt,
		&s.first, &s.last, &s.email, &s.phone, &s.nickname, &s.expires}
}

func (s *userScan) user() model.User {
	u := s.u
	u.Role = model.Role(s.role)
	switch {
	case s.email.Valid:
		u.Profile = model.AdminProfile{FirstName: s.first.String, LastName: s.last.String, Email: s.email.String, Phone: s.phone.String}
	case s.nickname.Valid:
		p := model.GuestProfile{Nickname: s.nickname.String}
		if s.expires.Valid {
			p.ExpiresAt = s.expires.Time
		}
		u.Profile = p
	}
	return u
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (model.User, error) {
	var s userScan
	q := `SELECT ` + userColumns + ` FROM users u ` + userJoins + ` WHERE ` + where + ` AND u.deleted_at IS NULL LIMIT 1`
	if err := r.DB.QueryRowContext(ctx, q, arg).Scan(s.targets()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, err
	}
	return s.user(), nil
}

// CreateAdmin inserts an admin user and its profile in one transaction and
// returns the new ID.  The email doubles as the username.
func (r *UserRepo) CreateAdmin(ctx context.Context, p model.AdminProfile, password string, cost int) (uint64, error) {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES (?,?,?)",
		p.Email, hash, string(model.RoleAdmin))
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO admin_profiles (user_id, first_name, last_name, email, phone) VALUES (?,?,?,?,?)",
		id, p.FirstName, p.LastName, p.Email, p.Phone); err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return uint64(id), nil
}

// CreateGuest inserts a guest user with a generated username and a profile
// that expires at expiresAt.
func (r *UserRepo) CreateGuest(ctx context.Context, nickname string, expiresAt time.Time) (model.User, error) {
	username := "Guest_" + uuid.NewString()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO users (username, role) VALUES (?,?)", username, string(model.RoleGuest))
	if err != nil {
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO guest_profiles (user_id, nickname, expires_at) VALUES (?,?,?)",
		id, nickname, expiresAt.UTC()); err != nil {
		return model.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.User{}, err
	}
	committed = true
	now := time.Now().UTC()
	return model.User{
		ID:        uint64(id),
		Username:  username,
		Role:      model.RoleGuest,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		Profile:   model.GuestProfile{Nickname: nickname, ExpiresAt: expiresAt.UTC()},
	}, nil
}

// GetByEmail fetches an admin by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "a.email = ?", strings.ToLower(strings.TrimSpace(email)))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "u.id = ?", id)
}

// LockTx takes a row lock on the user until tx ends.  Admission locks the
// room first and the user second; no path takes them in the other order.
func (r *UserRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	var got uint64
	err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ? AND deleted_at IS NULL FOR UPDATE", id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	return err
}
