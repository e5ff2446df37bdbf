package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/model"
	"github.com/iliyamo/chat-realtime/internal/repository"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

// RoomStore is the persistence surface of the room catalog.
type RoomStore interface {
	CreateRoom(ctx context.Context, r *model.Room) error
	RoomCodeExists(ctx context.Context, code string) (bool, error)
	RoomByCode(ctx context.Context, code string) (model.Room, error)
	Room(ctx context.Context, id uint64) (model.Room, error)
	ActiveRooms(ctx context.Context) ([]model.Room, error)
	RoomsByCreator(ctx context.Context, creatorID uint64) ([]model.Room, error)
	UpdateRoomPin(ctx context.Context, roomID uint64, pinHash string) error
	DeleteRoom(ctx context.Context, roomID uint64) (int, error)
}

// Room limits.
const (
	minRoomUsers        = 2
	maxRoomUsers        = 100
	minFileSizeMB       = 1
	maxFileSizeMB       = 50
	defaultFileSizeMB   = 10
	maxRoomNameLen      = 100
	minRoomNameLen      = 3
	maxDescriptionLen   = 500
	roomCodeMaxAttempts = 10
)

type CreateRoomInput struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Type          string `json:"type"`
	MaxUsers      int    `json:"max_users"`
	MaxFileSizeMB int    `json:"max_file_size_mb"`
}

// CreatedRoom is returned once on creation; it is the only time the plain
// PIN leaves the server.
type CreatedRoom struct {
	RoomSummary
	PIN string `json:"pin"`
}

// RoomService manages the room catalog.  Only admins reach it through the
// API, and only a room's creator may change or delete it.
type RoomService struct {
	store  RoomStore
	hasher Hasher
	events *Notifier
	log    zerolog.Logger
}

func NewRoomService(store RoomStore, hasher Hasher, events *Notifier) *RoomService {
	return &RoomService{
		store:  store,
		hasher: hasher,
		events: events,
		log:    log.With().Str("module", "service.room").Logger(),
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, creatorID uint64, in CreateRoomInput) (CreatedRoom, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if n := len([]rune(in.Name)); n < minRoomNameLen || n > maxRoomNameLen {
		return CreatedRoom{}, badRequest("name must be between 3 and 100 characters")
	}
	if len([]rune(in.Description)) > maxDescriptionLen {
		return CreatedRoom{}, badRequest("description must be at most 500 characters")
	}
	typ := model.RoomType(strings.ToUpper(strings.TrimSpace(in.Type)))
	switch typ {
	case "":
		typ = model.RoomTypeText
	case model.RoomTypeText, model.RoomTypeMultimedia:
	default:
		return CreatedRoom{}, badRequest("type must be TEXT or MULTIMEDIA")
	}
	if in.MaxUsers < minRoomUsers || in.MaxUsers > maxRoomUsers {
		return CreatedRoom{}, badRequest("max_users must be between 2 and 100")
	}
	if in.MaxFileSizeMB == 0 {
		in.MaxFileSizeMB = defaultFileSizeMB
	}
	if in.MaxFileSizeMB < minFileSizeMB || in.MaxFileSizeMB > maxFileSizeMB {
		return CreatedRoom{}, badRequest("max_file_size_mb must be between 1 and 50")
	}

	pin, err := utils.NewPIN()
	if err != nil {
		return CreatedRoom{}, err
	}
	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return CreatedRoom{}, err
	}
	room := model.Room{
		Name:          in.Name,
		Description:   in.Description,
		Type:          typ,
		PinHash:       hash,
		MaxUsers:      in.MaxUsers,
		MaxFileSizeMB: in.MaxFileSizeMB,
		IsActive:      true,
		CreatorID:     creatorID,
	}
	for attempt := 0; attempt < roomCodeMaxAttempts; attempt++ {
		room.Code = utils.NewRoomCode()
		exists, err := s.store.RoomCodeExists(ctx, room.Code)
		if err != nil {
			return CreatedRoom{}, err
		}
		if exists {
			continue
		}
		err = s.store.CreateRoom(ctx, &room)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return CreatedRoom{}, err
		}
		s.log.Info().Uint64("room_id", room.ID).Str("room_code", room.Code).Uint64("creator_id", creatorID).Msg("room created")
		return CreatedRoom{RoomSummary: summarize(room), PIN: pin}, nil
	}
	return CreatedRoom{}, unavailable(errors.New("could not allocate a unique room code"))
}

func (s *RoomService) ListActiveRooms(ctx context.Context) ([]RoomSummary, error) {
	rooms, err := s.store.ActiveRooms(ctx)
	if err != nil {
		return nil, err
	}
	return summarizeAll(rooms), nil
}

func (s *RoomService) ListMyRooms(ctx context.Context, creatorID uint64) ([]RoomSummary, error) {
	rooms, err := s.store.RoomsByCreator(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	return summarizeAll(rooms), nil
}

func (s *RoomService) GetRoomByCode(ctx context.Context, code string) (RoomSummary, error) {
	r, err := s.store.RoomByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return RoomSummary{}, notFound("room not found")
		}
		return RoomSummary{}, err
	}
	return summarize(r), nil
}

// ResetPin issues a new PIN for the room and returns it in plain text.
// Existing sessions are not affected.
func (s *RoomService) ResetPin(ctx context.Context, roomID, userID uint64) (string, error) {
	if _, err := s.owned(ctx, roomID, userID); err != nil {
		return "", err
	}
	pin, err := utils.NewPIN()
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateRoomPin(ctx, roomID, hash); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return "", notFound("room not found")
		}
		return "", err
	}
	s.log.Info().Uint64("room_id", roomID).Msg("room PIN reset")
	return pin, nil
}

// DeleteRoom soft-deletes the room, closing every active session in it,
// and tells subscribers that the room is gone.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, userID uint64) error {
	room, err := s.owned(ctx, roomID, userID)
	if err != nil {
		return err
	}
	closed, err := s.store.DeleteRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return notFound("room not found")
		}
		return err
	}
	s.log.Info().Uint64("room_id", roomID).Int("sessions_closed", closed).Msg("room deleted")
	room.IsActive = false
	room.CurrentUsers = 0
	s.events.System(roomID, WarningCategory, "this room has been deleted")
	s.events.RoomUpdated(roomID, summarize(room))
	return nil
}

func (s *RoomService) owned(ctx context.Context, roomID, userID uint64) (model.Room, error) {
	r, err := s.store.Room(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return model.Room{}, notFound("room not found")
		}
		return model.Room{}, err
	}
	if r.CreatorID != userID {
		return model.Room{}, forbidden("only the room creator can do this")
	}
	return r, nil
}

func summarizeAll(rooms []model.Room) []RoomSummary {
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, summarize(r))
	}
	return out
}
