package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/middleware"
	"github.com/iliyamo/chat-realtime/internal/service"
)

var errNoUser = errors.New("missing user in context")

// statusOf maps a service error kind to an HTTP status.
func statusOf(k service.Kind) int {
	switch k {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidState, service.KindForbidden, service.KindBadRequest:
		return http.StatusBadRequest
	case service.KindRoomFull, service.KindSessionConflict:
		return http.StatusConflict
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body.  Internal errors are logged and
// their text is not sent to the client.
func fail(c echo.Context, err error) error {
	var se *service.Error
	if !errors.As(err, &se) {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	body := echo.Map{"error": se.Msg, "kind": se.Kind.String()}
	if se.Reason != "" {
		body["reason"] = string(se.Reason)
	}
	if se.Kind == service.KindUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(statusOf(se.Kind), body)
}

// getUserID returns the authenticated caller.  Routes using it sit behind
// JWTAuth, so a miss is a wiring error.
func getUserID(c echo.Context) (uint64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, errNoUser
	}
	return id, nil
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
}
