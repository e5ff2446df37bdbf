package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/chat-realtime/internal/model"
)

// SessionRepo provides data access to the user_sessions ledger.  Rows are
// only ever inserted and closed; nothing in this repository deletes them.
type SessionRepo struct {
    db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the provided database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = `s.id, s.user_id, s.room_id, s.device_id, s.ip_address, s.user_agent, s.is_active, s.joined_at, s.left_at`

type sessionScan struct {
    s    model.Session
    left sql.NullTime
}

func (ss *sessionScan) targets() []any {
    return []any{&ss.s.ID, &ss.s.UserID, &ss.s.RoomID, &ss.s.DeviceID, &ss.s.IPAddress, &ss.s.UserAgent,
        &ss.s.IsActive, &ss.s.JoinedAt, &ss.left}
}

func (ss *sessionScan) session() model.Session {
    out := ss.s
    if ss.left.Valid {
        t := ss.left.Time
        out.LeftAt = &t
    }
    return out
}

// CreateTx inserts an active session and fills in its generated ID.  The
// caller must hold the room lock in tx.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
    if s.JoinedAt.IsZero() {
        s.JoinedAt = time.Now().UTC()
    }
    res, err := tx.ExecContext(ctx,
        `INSERT INTO user_sessions (user_id, room_id, device_id, ip_address, user_agent, is_active, joined_at)
         VALUES (?, ?, ?, ?, ?, 1, ?)`,
        s.UserID, s.RoomID, s.DeviceID, s.IPAddress, s.UserAgent, s.JoinedAt.UTC())
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    s.ID = uint64(id)
    s.IsActive = true
    return nil
}

// CloseTx marks an active session as left.  Closing an already closed
// session returns ErrSessionNotFound so that a duplicate close cannot lead
// to a second occupancy decrement.
func (r *SessionRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64, leftAt time.Time) error {
    res, err := tx.ExecContext(ctx,
        `UPDATE user_sessions SET is_active = 0, left_at = ? WHERE id = ? AND is_active = 1`,
        leftAt.UTC(), id)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrSessionNotFound
    }
    return nil
}

// CloseAllInRoomTx closes every active session of a room and returns how
// many were closed.
func (r *SessionRepo) CloseAllInRoomTx(ctx context.Context, tx *sql.Tx, roomID uint64, leftAt time.Time) (int, error) {
    res, err := tx.ExecContext(ctx,
        `UPDATE user_sessions SET is_active = 0, left_at = ? WHERE room_id = ? AND is_active = 1`,
        leftAt.UTC(), roomID)
    if err != nil {
        return 0, err
    }
    n, err := res.RowsAffected()
    return int(n), err
}

// ActiveByUserTx lists every active session of a user across all rooms.
func (r *SessionRepo) ActiveByUserTx(ctx context.Context, tx *sql.Tx, userID uint64) ([]model.Session, error) {
    q := `SELECT ` + sessionColumns + ` FROM user_sessions s WHERE s.user_id = ? AND s.is_active = 1 ORDER BY s.id`
    return r.list(ctx, tx, q, userID)
}

// ActiveByUserAndRoom returns the user's active session in a room.  It runs
// on either the pool or a transaction.
func (r *SessionRepo) ActiveByUserAndRoom(ctx context.Context, q querier, userID, roomID uint64) (model.Session, error) {
    var ss sessionScan
    err := q.QueryRowContext(ctx,
        `SELECT `+sessionColumns+` FROM user_sessions s
         WHERE s.user_id = ? AND s.room_id = ? AND s.is_active = 1 ORDER BY s.id DESC LIMIT 1`,
        userID, roomID).Scan(ss.targets()...)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return model.Session{}, ErrSessionNotFound
        }
        return model.Session{}, err
    }
    return ss.session(), nil
}

// ActiveJoinedBefore lists active sessions opened before cutoff.  The
// reconciliation sweep filters these against live connections.
func (r *SessionRepo) ActiveJoinedBefore(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
    q := `SELECT ` + sessionColumns + ` FROM user_sessions s WHERE s.is_active = 1 AND s.joined_at < ? ORDER BY s.room_id, s.id`
    return r.list(ctx, r.db, q, cutoff.UTC())
}

// CountActive returns the number of active sessions in a room.
func (r *SessionRepo) CountActive(ctx context.Context, roomID uint64) (int, error) {
    var n int
    err := r.db.QueryRowContext(ctx,
        `SELECT COUNT(*) FROM user_sessions WHERE room_id = ? AND is_active = 1`, roomID).Scan(&n)
    return n, err
}

// ActiveMembers returns the active sessions of a room joined with their
// owners and profiles, in join order.
func (r *SessionRepo) ActiveMembers(ctx context.Context, roomID uint64) ([]model.Member, error) {
    q := `SELECT ` + sessionColumns + `, ` + userColumns + `
          FROM user_sessions s
          JOIN users u ON u.id = s.user_id
          ` + userJoins + `
          WHERE s.room_id = ? AND s.is_active = 1
          ORDER BY s.joined_at, s.id`
    rows, err := r.db.QueryContext(ctx, q, roomID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Member
    for rows.Next() {
        var ss sessionScan
        var us userScan
        if err := rows.Scan(append(ss.targets(), us.targets()...)...); err != nil {
            return nil, err
        }
        out = append(out, model.Member{Session: ss.session(), User: us.user()})
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return out, nil
}

func (r *SessionRepo) list(ctx context.Context, q querier, query string, args ...any) ([]model.Session, error) {
    rows, err := q.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Session
    for rows.Next() {
        var ss sessionScan
        if err := rows.Scan(ss.targets()...); err != nil {
            return nil, err
        }
        out = append(out, ss.session())
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return out, nil
}
