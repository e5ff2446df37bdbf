package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chat-realtime/internal/realtime"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

// TokenAuthenticator resolves websocket handshake tokens with the same
// secret the HTTP middleware uses.
func TokenAuthenticator(secret string) realtime.Authenticator {
	return func(token string) (utils.Principal, error) {
		return utils.ParseAccessToken(secret, token)
	}
}

// WebSocket mounts the realtime server on an echo route.  Authentication
// happens in the handshake, not in echo middleware, because browsers cannot
// set headers on websocket requests.
func WebSocket(s *realtime.Server) echo.HandlerFunc {
	return echo.WrapHandler(s)
}
