package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/chat-realtime/internal/handler"
	"github.com/iliyamo/chat-realtime/internal/middleware"
	"github.com/iliyamo/chat-realtime/internal/model"
)

// Both roles may use the chat; only admins manage rooms.
var (
	anyRole   = []string{string(model.RoleAdmin), string(model.RoleGuest)}
	adminOnly = []string{string(model.RoleAdmin)}
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers token issuance under /v1/auth and the protected
// /v1/me endpoint.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/guest", a.Guest)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(anyRole...))
	auth.GET("/me", a.Me)
}

// RegisterRealtime mounts the websocket endpoint.  The handshake carries
// its own token check.
func RegisterRealtime(e *echo.Echo, ws echo.HandlerFunc) {
	e.GET("/ws", ws)
}
