package repository

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/iliyamo/chat-realtime/internal/model"
)

// MessageRepo provides data access to the messages table.
type MessageRepo struct {
    db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `m.id, m.room_id, m.user_id, m.session_id, m.content, m.message_type, m.sent_at,
    m.is_edited, m.edited_at, m.is_deleted, m.deleted_at`

type messageScan struct {
    m               model.Message
    typ             string
    edited, deleted sql.NullTime
}

func (ms *messageScan) targets() []any {
    return []any{&ms.m.ID, &ms.m.RoomID, &ms.m.UserID, &ms.m.SessionID, &ms.m.Content, &ms.typ, &ms.m.SentAt,
        &ms.m.IsEdited, &ms.edited, &ms.m.IsDeleted, &ms.deleted}
}

func (ms *messageScan) message() model.Message {
    out := ms.m
    out.Type = model.MessageType(ms.typ)
    if ms.edited.Valid {
        t := ms.edited.Time
        out.EditedAt = &t
    }
    if ms.deleted.Valid {
        t := ms.deleted.Time
        out.DeletedAt = &t
    }
    return out
}

// Create inserts a message and sets its ID and SentAt.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
    if m.SentAt.IsZero() {
        m.SentAt = time.Now().UTC()
    }
    if m.Type == "" {
        m.Type = model.MessageText
    }
    res, err := r.db.ExecContext(ctx,
        `INSERT INTO messages (room_id, user_id, session_id, content, message_type, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
        m.RoomID, m.UserID, m.SessionID, m.Content, string(m.Type), m.SentAt.UTC())
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    m.ID = uint64(id)
    return nil
}

// GetByID returns a message and its sender.  Soft-deleted messages are
// returned too so that callers can report a precise error.
func (r *MessageRepo) GetByID(ctx context.Context, id uint64) (model.Authored, error) {
    q := `SELECT ` + messageColumns + `, ` + userColumns + `
          FROM messages m
          JOIN users u ON u.id = m.user_id
          ` + userJoins + `
          WHERE m.id = ?`
    var ms messageScan
    var us userScan
    err := r.db.QueryRowContext(ctx, q, id).Scan(append(ms.targets(), us.targets()...)...)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return model.Authored{}, ErrMessageNotFound
        }
        return model.Authored{}, err
    }
    return model.Authored{Message: ms.message(), Sender: us.user()}, nil
}

// Recent returns up to limit non-deleted messages of a room, newest first.
func (r *MessageRepo) Recent(ctx context.Context, roomID uint64, limit int) ([]model.Authored, error) {
    q := `SELECT ` + messageColumns + `, ` + userColumns + `
          FROM messages m
          JOIN users u ON u.id = m.user_id
          ` + userJoins + `
          WHERE m.room_id = ? AND m.is_deleted = 0
          ORDER BY m.sent_at DESC, m.id DESC
          LIMIT ?`
    rows, err := r.db.QueryContext(ctx, q, roomID, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Authored
    for rows.Next() {
        var ms messageScan
        var us userScan
        if err := rows.Scan(append(ms.targets(), us.targets()...)...); err != nil {
            return nil, err
        }
        out = append(out, model.Authored{Message: ms.message(), Sender: us.user()})
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return out, nil
}

// UpdateContent replaces the text of a live message and flags it edited.
func (r *MessageRepo) UpdateContent(ctx context.Context, id uint64, content string, at time.Time) error {
    return r.execOne(ctx,
        `UPDATE messages SET content = ?, is_edited = 1, edited_at = ? WHERE id = ? AND is_deleted = 0`,
        content, at.UTC(), id)
}

// SoftDelete flags a message deleted.  The content is kept for audit.
func (r *MessageRepo) SoftDelete(ctx context.Context, id uint64, at time.Time) error {
    return r.execOne(ctx,
        `UPDATE messages SET is_deleted = 1, deleted_at = ? WHERE id = ? AND is_deleted = 0`,
        at.UTC(), id)
}

func (r *MessageRepo) execOne(ctx context.Context, q string, args ...any) error {
    res, err := r.db.ExecContext(ctx, q, args...)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return ErrMessageNotFound
    }
    return nil
}
