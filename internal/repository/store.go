package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/iliyamo/chat-realtime/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
    Scan(dest ...any) error
}

// Tx is the set of locked reads and writes that the admission, leave and
// disconnect paths perform inside a single transaction.  Rows returned by
// the Lock* methods stay locked until the transaction ends, which makes
// the capacity and uniqueness checks atomic with the writes that follow.
type Tx interface {
    LockRoomByCode(ctx context.Context, code string) (model.Room, error)
    LockRoomByID(ctx context.Context, id uint64) (model.Room, error)
    LockUser(ctx context.Context, userID uint64) error
    ActiveSessionsByUser(ctx context.Context, userID uint64) ([]model.Session, error)
    ActiveSessionInRoom(ctx context.Context, userID, roomID uint64) (model.Session, error)
    CreateSession(ctx context.Context, s *model.Session) error
    CloseSession(ctx context.Context, sessionID uint64, leftAt time.Time) error
    AdjustOccupancy(ctx context.Context, roomID uint64, delta int) error
}

// Store is the persistence surface of the room session coordinator.
type Store interface {
    // InTx runs fn inside one transaction.  The transaction commits when fn
    // returns nil and rolls back otherwise.
    InTx(ctx context.Context, fn func(Tx) error) error
    Room(ctx context.Context, id uint64) (model.Room, error)
    RoomByCode(ctx context.Context, code string) (model.Room, error)
    User(ctx context.Context, id uint64) (model.User, error)
    ActiveMembers(ctx context.Context, roomID uint64) ([]model.Member, error)
    CountActiveSessions(ctx context.Context, roomID uint64) (int, error)
    RecentMessages(ctx context.Context, roomID uint64, limit int) ([]model.Authored, error)
    StaleSessions(ctx context.Context, joinedBefore time.Time) ([]model.Session, error)
}

// SQLStore implements Store (and the room catalog and message stores used
// by the services) on top of the MySQL repositories.
type SQLStore struct {
    db       *sql.DB
    Rooms    *RoomRepo
    Sessions *SessionRepo
    Messages *MessageRepo
    Users    *UserRepo
}

// NewSQLStore wires the repositories around one connection pool.
func NewSQLStore(db *sql.DB) *SQLStore {
    return &SQLStore{
        db:       db,
        Rooms:    NewRoomRepo(db),
        Sessions: NewSessionRepo(db),
        Messages: NewMessageRepo(db),
        Users:    NewUserRepo(db),
    }
}

// DB exposes the underlying pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

// InTx begins a transaction, hands a Tx bound to it to fn and commits when
// fn succeeds.
func (s *SQLStore) InTx(ctx context.Context, fn func(Tx) error) error {
    return s.withTx(ctx, func(tx *sql.Tx) error { return fn(&sqlTx{tx: tx, s: s}) })
}

func (s *SQLStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    if err := fn(tx); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return err
    }
    committed = true
    return nil
}

func (s *SQLStore) Room(ctx context.Context, id uint64) (model.Room, error) {
    return s.Rooms.GetByID(ctx, id)
}

func (s *SQLStore) User(ctx context.Context, id uint64) (model.User, error) {
    return s.Users.GetByID(ctx, id)
}

func (s *SQLStore) ActiveMembers(ctx context.Context, roomID uint64) ([]model.Member, error) {
    return s.Sessions.ActiveMembers(ctx, roomID)
}

func (s *SQLStore) CountActiveSessions(ctx context.Context, roomID uint64) (int, error) {
    return s.Sessions.CountActive(ctx, roomID)
}

func (s *SQLStore) RecentMessages(ctx context.Context, roomID uint64, limit int) ([]model.Authored, error) {
    return s.Messages.Recent(ctx, roomID, limit)
}

func (s *SQLStore) StaleSessions(ctx context.Context, joinedBefore time.Time) ([]model.Session, error) {
    return s.Sessions.ActiveJoinedBefore(ctx, joinedBefore)
}

// Room catalog.

func (s *SQLStore) CreateRoom(ctx context.Context, r *model.Room) error { return s.Rooms.Create(ctx, r) }
func (s *SQLStore) RoomCodeExists(ctx context.Context, code string) (bool, error) {
    return s.Rooms.ExistsByCode(ctx, code)
}
func (s *SQLStore) RoomByCode(ctx context.Context, code string) (model.Room, error) {
    return s.Rooms.GetByCode(ctx, code)
}
func (s *SQLStore) ActiveRooms(ctx context.Context) ([]model.Room, error) { return s.Rooms.ListActive(ctx) }
func (s *SQLStore) RoomsByCreator(ctx context.Context, creatorID uint64) ([]model.Room, error) {
    return s.Rooms.ListByCreator(ctx, creatorID)
}
func (s *SQLStore) UpdateRoomPin(ctx context.Context, roomID uint64, pinHash string) error {
    return s.Rooms.UpdatePinHash(ctx, roomID, pinHash)
}

// DeleteRoom soft-deletes a room and closes its active sessions in one
// transaction, returning how many sessions were closed.
func (s *SQLStore) DeleteRoom(ctx context.Context, roomID uint64) (int, error) {
    var closed int
    err := s.withTx(ctx, func(tx *sql.Tx) error {
        if _, err := s.Rooms.LockByIDTx(ctx, tx, roomID); err != nil {
            return err
        }
        n, err := s.Sessions.CloseAllInRoomTx(ctx, tx, roomID, time.Now().UTC())
        if err != nil {
            return err
        }
        closed = n
        return s.Rooms.SoftDeleteTx(ctx, tx, roomID)
    })
    return closed, err
}

// Messages.

func (s *SQLStore) ActiveSession(ctx context.Context, userID, roomID uint64) (model.Session, error) {
    return s.Sessions.ActiveByUserAndRoom(ctx, s.db, userID, roomID)
}
func (s *SQLStore) CreateMessage(ctx context.Context, m *model.Message) error {
    return s.Messages.Create(ctx, m)
}
func (s *SQLStore) Message(ctx context.Context, id uint64) (model.Authored, error) {
    return s.Messages.GetByID(ctx, id)
}
func (s *SQLStore) EditMessage(ctx context.Context, id uint64, content string, at time.Time) error {
    return s.Messages.UpdateContent(ctx, id, content, at)
}
func (s *SQLStore) DeleteMessage(ctx context.Context, id uint64, at time.Time) error {
    return s.Messages.SoftDelete(ctx, id, at)
}

// sqlTx binds the repositories to one *sql.Tx.
type sqlTx struct {
    tx *sql.Tx
    s  *SQLStore
}

func (t *sqlTx) LockRoomByCode(ctx context.Context, code string) (model.Room, error) {
    return t.s.Rooms.LockByCodeTx(ctx, t.tx, code)
}

func (t *sqlTx) LockRoomByID(ctx context.Context, id uint64) (model.Room, error) {
    return t.s.Rooms.LockByIDTx(ctx, t.tx, id)
}

func (t *sqlTx) LockUser(ctx context.Context, userID uint64) error {
    return t.s.Users.LockTx(ctx, t.tx, userID)
}

func (t *sqlTx) ActiveSessionsByUser(ctx context.Context, userID uint64) ([]model.Session, error) {
    return t.s.Sessions.ActiveByUserTx(ctx, t.tx, userID)
}

func (t *sqlTx) ActiveSessionInRoom(ctx context.Context, userID, roomID uint64) (model.Session, error) {
    return t.s.Sessions.ActiveByUserAndRoom(ctx, t.tx, userID, roomID)
}

func (t *sqlTx) CreateSession(ctx context.Context, sess *model.Session) error {
    return t.s.Sessions.CreateTx(ctx, t.tx, sess)
}

func (t *sqlTx) CloseSession(ctx context.Context, sessionID uint64, leftAt time.Time) error {
    return t.s.Sessions.CloseTx(ctx, t.tx, sessionID, leftAt)
}

func (t *sqlTx) AdjustOccupancy(ctx context.Context, roomID uint64, delta int) error {
    return t.s.Rooms.AdjustOccupancyTx(ctx, t.tx, roomID, delta)
}
