package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chat-realtime/internal/service"
)

// Messages is the message surface used by MessageHandler.
type Messages interface {
	SendText(ctx context.Context, roomID, userID uint64, content string) (service.MessageView, error)
	Edit(ctx context.Context, messageID, userID uint64, content string) (service.MessageView, error)
	Delete(ctx context.Context, messageID, userID uint64) error
	ListRoom(ctx context.Context, roomID, userID uint64, limit int) ([]service.MessageView, error)
}

type MessageHandler struct {
	Messages Messages
}

func NewMessageHandler(m Messages) *MessageHandler { return &MessageHandler{Messages: m} }

type sendReq struct {
	RoomID  uint64 `json:"room_id"`
	Content string `json:"content"`
}

type editReq struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Send(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req sendReq
	if err := c.Bind(&req); err != nil || req.RoomID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "room_id and content required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	m, err := h.Messages.SendText(ctx, req.RoomID, uid, req.Content)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// ListRoom returns recent messages, newest first.  ?limit caps the count.
func (h *MessageHandler) ListRoom(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := roomID(c)
	if !ok {
		return invalidRoomID(c)
	}
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	msgs, err := h.Messages.ListRoom(ctx, id, uid, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": msgs})
}

func messageID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id != 0
}

func (h *MessageHandler) Edit(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := messageID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid message id"})
	}
	var req editReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	m, err := h.Messages.Edit(ctx, id, uid, req.Content)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *MessageHandler) Delete(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := messageID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid message id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Messages.Delete(ctx, id, uid); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
