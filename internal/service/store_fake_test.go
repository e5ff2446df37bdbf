package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/repository"
)

// memStore is an in-memory Store.  A single mutex stands in for the row
// locks: transactions run one at a time and roll back on error.
type memStore struct {
	mu       sync.Mutex
	rooms    map[uint64]model.Room
	users    map[uint64]model.User
	sessions map[uint64]model.Session
	messages map[uint64]model.Message
	nextID   uint64

	transientFailures int // upcoming InTx calls that fail with a deadlock
	txCalls           int
	failTx            error // non-transient error returned by every InTx
	failCreateMessage error
}

func newMemStore() *memStore {
	return &memStore{
		rooms:    map[uint64]model.Room{},
		users:    map[uint64]model.User{},
		sessions: map[uint64]model.Session{},
		messages: map[uint64]model.Message{},
		nextID:   100,
	}
}

func (s *memStore) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addRoom(r model.Room) model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.id()
	}
	if r.MaxUsers == 0 {
		r.MaxUsers = 10
	}
	r.IsActive = true
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.rooms[r.ID] = r
	return r
}

func (s *memStore) addGuest(nick string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{
		ID:       s.id(),
		Username: "Guest_" + nick,
		Role:     model.RoleGuest,
		IsActive: true,
		Profile:  model.GuestProfile{Nickname: nick, ExpiresAt: time.Now().Add(time.Hour)},
	}
	s.users[u.ID] = u
	return u
}

func (s *memStore) addAdmin(first string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{
		ID:       s.id(),
		Username: strings.ToLower(first) + "@example.com",
		Role:     model.RoleAdmin,
		IsActive: true,
		Profile:  model.AdminProfile{FirstName: first, LastName: "Admin", Email: strings.ToLower(first) + "@example.com"},
	}
	s.users[u.ID] = u
	return u
}

func (s *memStore) room(id uint64) model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

func (s *memStore) activeIn(roomID uint64) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeInLocked(roomID)
}

func (s *memStore) activeInLocked(roomID uint64) []model.Session {
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.IsActive && sess.RoomID == roomID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) activeOf(userID uint64) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.IsActive && sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out
}

func (s *memStore) InTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCalls++
	if s.transientFailures > 0 {
		s.transientFailures--
		return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	}
	if s.failTx != nil {
		return s.failTx
	}
	rooms := cloneMap(s.rooms)
	sessions := cloneMap(s.sessions)
	next := s.nextID
	if err := fn(&memTx{s: s}); err != nil {
		s.rooms, s.sessions, s.nextID = rooms, sessions, next
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) Room(_ context.Context, id uint64) (model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok || r.DeletedAt != nil {
		return model.Room{}, repository.ErrRoomNotFound
	}
	return r, nil
}

func (s *memStore) User(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (s *memStore) ActiveMembers(_ context.Context, roomID uint64) ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Member
	for _, sess := range s.activeInLocked(roomID) {
		out = append(out, model.Member{Session: sess, User: s.users[sess.UserID]})
	}
	return out, nil
}

func (s *memStore) CountActiveSessions(_ context.Context, roomID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeInLocked(roomID)), nil
}

func (s *memStore) RecentMessages(_ context.Context, roomID uint64, limit int) ([]model.Authored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Authored
	for _, m := range s.messages {
		if m.RoomID == roomID && !m.IsDeleted {
			out = append(out, model.Authored{Message: m, Sender: s.users[m.UserID]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Message, out[j].Message
		if !a.SentAt.Equal(b.SentAt) {
			return a.SentAt.After(b.SentAt)
		}
		return a.ID > b.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) StaleSessions(_ context.Context, joinedBefore time.Time) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.IsActive && sess.JoinedAt.Before(joinedBefore) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Room catalog.

func (s *memStore) CreateRoom(_ context.Context, r *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rooms {
		if existing.Code == r.Code {
			return repository.ErrConflict
		}
	}
	r.ID = s.id()
	r.CreatedAt = time.Now().UTC()
	s.rooms[r.ID] = *r
	return nil
}

func (s *memStore) RoomCodeExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) RoomByCode(_ context.Context, code string) (model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Code == code && r.DeletedAt == nil {
			return r, nil
		}
	}
	return model.Room{}, repository.ErrRoomNotFound
}

func (s *memStore) ActiveRooms(_ context.Context) ([]model.Room, error) {
	return s.filterRooms(func(r model.Room) bool { return r.IsActive }), nil
}

func (s *memStore) RoomsByCreator(_ context.Context, creatorID uint64) ([]model.Room, error) {
	return s.filterRooms(func(r model.Room) bool { return r.CreatorID == creatorID }), nil
}

func (s *memStore) filterRooms(keep func(model.Room) bool) []model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Room
	for _, r := range s.rooms {
		if r.DeletedAt == nil && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *memStore) UpdateRoomPin(_ context.Context, roomID uint64, pinHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok || r.DeletedAt != nil {
		return repository.ErrRoomNotFound
	}
	r.PinHash = pinHash
	s.rooms[roomID] = r
	return nil
}

func (s *memStore) DeleteRoom(_ context.Context, roomID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok || r.DeletedAt != nil {
		return 0, repository.ErrRoomNotFound
	}
	now := time.Now().UTC()
	closed := 0
	for id, sess := range s.sessions {
		if sess.IsActive && sess.RoomID == roomID {
			sess.IsActive = false
			sess.LeftAt = &now
			s.sessions[id] = sess
			closed++
		}
	}
	r.DeletedAt = &now
	r.IsActive = false
	r.CurrentUsers = 0
	s.rooms[roomID] = r
	return closed, nil
}

// Messages.

func (s *memStore) ActiveSession(_ context.Context, userID, roomID uint64) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).ActiveSessionInRoom(context.Background(), userID, roomID)
}

func (s *memStore) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateMessage != nil {
		return s.failCreateMessage
	}
	m.ID = s.id()
	s.messages[m.ID] = *m
	return nil
}

func (s *memStore) Message(_ context.Context, id uint64) (model.Authored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Authored{}, repository.ErrMessageNotFound
	}
	return model.Authored{Message: m, Sender: s.users[m.UserID]}, nil
}

func (s *memStore) EditMessage(_ context.Context, id uint64, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted {
		return repository.ErrMessageNotFound
	}
	m.Content, m.IsEdited, m.EditedAt = content, true, &at
	s.messages[id] = m
	return nil
}

func (s *memStore) DeleteMessage(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted {
		return repository.ErrMessageNotFound
	}
	m.IsDeleted, m.DeletedAt = true, &at
	s.messages[id] = m
	return nil
}

// memTx runs with memStore.mu held.
type memTx struct{ s *memStore }

func (t *memTx) LockRoomByCode(_ context.Context, code string) (model.Room, error) {
	for _, r := range t.s.rooms {
		if r.Code == code && r.DeletedAt == nil {
			return r, nil
		}
	}
	return model.Room{}, repository.ErrRoomNotFound
}

func (t *memTx) LockRoomByID(_ context.Context, id uint64) (model.Room, error) {
	r, ok := t.s.rooms[id]
	if !ok || r.DeletedAt != nil {
		return model.Room{}, repository.ErrRoomNotFound
	}
	return r, nil
}

func (t *memTx) LockUser(_ context.Context, userID uint64) error {
	if _, ok := t.s.users[userID]; !ok {
		return repository.ErrUserNotFound
	}
	return nil
}

func (t *memTx) ActiveSessionsByUser(_ context.Context, userID uint64) ([]model.Session, error) {
	var out []model.Session
	for _, sess := range t.s.sessions {
		if sess.IsActive && sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (t *memTx) ActiveSessionInRoom(_ context.Context, userID, roomID uint64) (model.Session, error) {
	var best model.Session
	for _, sess := range t.s.sessions {
		if sess.IsActive && sess.UserID == userID && sess.RoomID == roomID && sess.ID > best.ID {
			best = sess
		}
	}
	if best.ID == 0 {
		return model.Session{}, repository.ErrSessionNotFound
	}
	return best, nil
}

func (t *memTx) CreateSession(_ context.Context, sess *model.Session) error {
	sess.ID = t.s.id()
	sess.IsActive = true
	t.s.sessions[sess.ID] = *sess
	return nil
}

func (t *memTx) CloseSession(_ context.Context, sessionID uint64, leftAt time.Time) error {
	sess, ok := t.s.sessions[sessionID]
	if !ok || !sess.IsActive {
		return repository.ErrSessionNotFound
	}
	sess.IsActive = false
	sess.LeftAt = &leftAt
	t.s.sessions[sessionID] = sess
	return nil
}

func (t *memTx) AdjustOccupancy(_ context.Context, roomID uint64, delta int) error {
	r := t.s.rooms[roomID]
	r.CurrentUsers += delta
	if r.CurrentUsers < 0 {
		r.CurrentUsers = 0
	}
	t.s.rooms[roomID] = r
	return nil
}

// plainHasher keeps tests fast; bcrypt is covered in utils.
type plainHasher struct{}

func (plainHasher) Hash(plain string) (string, error) { return "plain:" + plain, nil }
func (plainHasher) Matches(plain, hash string) bool  { return hash == "plain:"+plain }

type published struct {
	dest    string
	payload any
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(dest string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{dest, payload})
}

func (r *recorder) to(dest string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.dest == dest {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// activityLog captures audit records.
type activityLog struct {
	mu      sync.Mutex
	records []Activity
}

func (l *activityLog) Record(_ context.Context, a Activity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, a)
}

func (l *activityLog) kinds() []ActivityKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ActivityKind, 0, len(l.records))
	for _, a := range l.records {
		out = append(out, a.Kind)
	}
	return out
}

// fixture wires a Coordinator around a memStore.
type fixture struct {
	store    *memStore
	events   *recorder
	activity *activityLog
	coord    *Coordinator
}

func newFixture(scope Scope) *fixture {
	f := &fixture{store: newMemStore(), events: &recorder{}, activity: &activityLog{}}
	f.coord = NewCoordinator(f.store, plainHasher{}, NewValidator(scope), NewNotifier(f.events), f.activity, 3)
	f.coord.backoff = time.Millisecond
	return f
}

func (f *fixture) room(code, pin string, maxUsers int) model.Room {
	return f.store.addRoom(model.Room{Code: code, Name: code, PinHash: "plain:" + pin, MaxUsers: maxUsers, Type: model.RoomTypeText})
}

func joinReq(code, pin string, userID uint64, device string) JoinRequest {
	return JoinRequest{RoomCode: code, PIN: pin, UserID: userID, DeviceID: device, IPAddress: "10.0.0.1", UserAgent: "test"}
}
