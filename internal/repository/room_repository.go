package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"

    "github.com/iliyamo/chat-realtime/internal/model"
)

// RoomRepo provides data access to the rooms table.  Soft-deleted rooms
// (deleted_at IS NOT NULL) are invisible to every lookup in this repository.
type RoomRepo struct {
    db *sql.DB
}

// NewRoomRepo returns a new RoomRepo bound to the provided database.
func NewRoomRepo(db *sql.DB) *RoomRepo { return &RoomRepo{db: db} }

// DB exposes the underlying database handle so that callers can begin
// transactions spanning several repositories.
func (r *RoomRepo) DB() *sql.DB { return r.db }

const roomColumns = `id, room_code, name, description, type, pin_hash, max_users,
    current_users, max_file_size_mb, is_active, creator_id, created_at, updated_at, deleted_at`

func scanRoom(s rowScanner) (model.Room, error) {
    var (
        rm      model.Room
        typ     string
        deleted sql.NullTime
    )
    err := s.Scan(&rm.ID, &rm.Code, &rm.Name, &rm.Description, &typ, &rm.PinHash, &rm.MaxUsers,
        &rm.CurrentUsers, &rm.MaxFileSizeMB, &rm.IsActive, &rm.CreatorID, &rm.CreatedAt, &rm.UpdatedAt, &deleted)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return model.Room{}, ErrRoomNotFound
        }
        return model.Room{}, err
    }
    rm.Type = model.RoomType(typ)
    if deleted.Valid {
        t := deleted.Time
        rm.DeletedAt = &t
    }
    return rm, nil
}

// Create inserts a room and populates its generated ID.  A duplicate room
// code is reported as ErrConflict so that callers can draw a new code.
func (r *RoomRepo) Create(ctx context.Context, rm *model.Room) error {
    const q = `INSERT INTO rooms (room_code, name, description, type, pin_hash, max_users, current_users, max_file_size_mb, is_active, creator_id)
               VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`
    res, err := r.db.ExecContext(ctx, q, rm.Code, rm.Name, rm.Description, string(rm.Type), rm.PinHash,
        rm.MaxUsers, rm.MaxFileSizeMB, rm.IsActive, rm.CreatorID)
    if err != nil {
        if isDuplicate(err) {
            return ErrConflict
        }
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    rm.ID = uint64(id)
    rm.CurrentUsers = 0
    return nil
}

// ExistsByCode reports whether any room, deleted or not, already uses code.
func (r *RoomRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
    var n int
    err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE room_code = ?`, code).Scan(&n)
    if err != nil {
        return false, err
    }
    return n > 0, nil
}

// GetByID returns a non-deleted room or ErrRoomNotFound.
func (r *RoomRepo) GetByID(ctx context.Context, id uint64) (model.Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ? AND deleted_at IS NULL`
    return scanRoom(r.db.QueryRowContext(ctx, q, id))
}

// GetByCode returns a non-deleted room by its share code.
func (r *RoomRepo) GetByCode(ctx context.Context, code string) (model.Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE room_code = ? AND deleted_at IS NULL`
    return scanRoom(r.db.QueryRowContext(ctx, q, code))
}

// LockByCodeTx loads a non-deleted room by code and holds a row lock on it
// until tx ends.  Concurrent admissions to the same room queue up on this
// lock, so the capacity check and the increment that follows are atomic.
func (r *RoomRepo) LockByCodeTx(ctx context.Context, tx *sql.Tx, code string) (model.Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE room_code = ? AND deleted_at IS NULL FOR UPDATE`
    return scanRoom(tx.QueryRowContext(ctx, q, code))
}

// LockByIDTx is LockByCodeTx keyed by primary key.
func (r *RoomRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ? AND deleted_at IS NULL FOR UPDATE`
    return scanRoom(tx.QueryRowContext(ctx, q, id))
}

// AdjustOccupancyTx adds delta to current_users, never going below zero.
// The room row must already be locked by the caller's transaction.
func (r *RoomRepo) AdjustOccupancyTx(ctx context.Context, tx *sql.Tx, id uint64, delta int) error {
    _, err := tx.ExecContext(ctx,
        `UPDATE rooms SET current_users = GREATEST(current_users + ?, 0) WHERE id = ?`, delta, id)
    return err
}

// ListActive returns every active, non-deleted room, newest first.
func (r *RoomRepo) ListActive(ctx context.Context) ([]model.Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE is_active = 1 AND deleted_at IS NULL ORDER BY created_at DESC, id DESC`
    return r.list(ctx, q)
}

// ListByCreator returns the non-deleted rooms created by one admin.
func (r *RoomRepo) ListByCreator(ctx context.Context, creatorID uint64) ([]model.Room, error) {
    q := `SELECT ` + roomColumns + ` FROM rooms WHERE creator_id = ? AND deleted_at IS NULL ORDER BY created_at DESC, id DESC`
    return r.list(ctx, q, creatorID)
}

func (r *RoomRepo) list(ctx context.Context, q string, args ...any) ([]model.Room, error) {
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Room
    for rows.Next() {
        rm, err := scanRoom(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, rm)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return out, nil
}

// UpdatePinHash replaces the stored PIN hash of a non-deleted room.
func (r *RoomRepo) UpdatePinHash(ctx context.Context, id uint64, hash string) error {
    return r.execOne(ctx, `UPDATE rooms SET pin_hash = ? WHERE id = ? AND deleted_at IS NULL`, hash, id)
}

// SoftDeleteTx marks a locked room as deleted and inactive and resets its
// occupancy.  The caller closes the room's sessions in the same tx.
func (r *RoomRepo) SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
    res, err := tx.ExecContext(ctx,
        `UPDATE rooms SET deleted_at = UTC_TIMESTAMP(), is_active = 0, current_users = 0 WHERE id = ? AND deleted_at IS NULL`, id)
    if err != nil {
        return fmt.Errorf("rooms: %w", err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrRoomNotFound
    }
    return nil
}

func (r *RoomRepo) execOne(ctx context.Context, q string, args ...any) error {
    res, err := r.db.ExecContext(ctx, q, args...)
    if err != nil {
        return fmt.Errorf("rooms: %w", err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrRoomNotFound
    }
    return nil
}
