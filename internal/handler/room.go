package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chat-realtime/internal/service"
)

// RoomCatalog is the room management surface used by RoomHandler.
type RoomCatalog interface {
	CreateRoom(ctx context.Context, creatorID uint64, in service.CreateRoomInput) (service.CreatedRoom, error)
	ListActiveRooms(ctx context.Context) ([]service.RoomSummary, error)
	ListMyRooms(ctx context.Context, creatorID uint64) ([]service.RoomSummary, error)
	GetRoomByCode(ctx context.Context, code string) (service.RoomSummary, error)
	ResetPin(ctx context.Context, roomID, userID uint64) (string, error)
	DeleteRoom(ctx context.Context, roomID, userID uint64) error
}

// Admission is the join/leave surface used by RoomHandler.
type Admission interface {
	Join(ctx context.Context, req service.JoinRequest) (service.RoomDetail, error)
	Leave(ctx context.Context, roomID, userID uint64) error
	GetRoomDetail(ctx context.Context, roomID uint64) (service.RoomDetail, error)
	GetActiveSessionCount(ctx context.Context, roomID uint64) (int, error)
}

type RoomHandler struct {
	Rooms RoomCatalog
	Coord Admission
}

func NewRoomHandler(rooms RoomCatalog, coord Admission) *RoomHandler {
	return &RoomHandler{Rooms: rooms, Coord: coord}
}

type joinReq struct {
	RoomCode string `json:"room_code"`
	PIN      string `json:"pin"`
	DeviceID string `json:"device_id"`
}

func roomID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id != 0
}

func invalidRoomID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room id"})
}

func (h *RoomHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	rooms, err := h.Rooms.ListActiveRooms(ctx)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": rooms})
}

func (h *RoomHandler) ByCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	r, err := h.Rooms.GetRoomByCode(ctx, c.Param("code"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *RoomHandler) Details(c echo.Context) error {
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	d, err := h.Coord.GetRoomDetail(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *RoomHandler) SessionCount(c echo.Context) error {
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	n, err := h.Coord.GetActiveSessionCount(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"room_id": id, "active_sessions": n})
}

// Join admits the caller and returns the room detail.  The client address
// and user agent feed the device fingerprint when no device_id is sent.
func (h *RoomHandler) Join(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req joinReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	// Admission retries internally, so allow more than the usual budget.
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	d, err := h.Coord.Join(ctx, service.JoinRequest{
		RoomCode:  req.RoomCode,
		PIN:       req.PIN,
		UserID:    uid,
		DeviceID:  req.DeviceID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *RoomHandler) Leave(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	if err := h.Coord.Leave(ctx, id, uid); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Create returns the new room with its PIN.  The PIN is not retrievable
// afterwards.
func (h *RoomHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var in service.CreateRoomInput
	if err := c.Bind(&in); err != nil {
		return badBody(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	room, err := h.Rooms.CreateRoom(ctx, uid, in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) Mine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	rooms, err := h.Rooms.ListMyRooms(ctx, uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": rooms})
}

func (h *RoomHandler) ResetPin(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	pin, err := h.Rooms.ResetPin(ctx, id, uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"room_id": id, "pin": pin})
}

func (h *RoomHandler) Delete(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Rooms.DeleteRoom(ctx, id, uid); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
