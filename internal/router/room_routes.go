package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chat-realtime/internal/handler"
	"github.com/iliyamo/chat-realtime/internal/middleware"
)

// RegisterRooms registers the room endpoints under /v1/rooms.  Browsing and
// joining need any valid token; room management needs the ADMIN role.  The
// join route is rate limited and the public list is cached, both through
// the middleware passed in.
func RegisterRooms(e *echo.Echo, h *handler.RoomHandler, jwtSecret string, joinLimit, listCache echo.MiddlewareFunc) {
	g := e.Group("/v1/rooms", middleware.JWTAuth(jwtSecret), middleware.RequireRole(anyRole...))
	g.GET("", h.List, listCache)
	g.GET("/code/:code", h.ByCode)
	g.GET("/:id/details", h.Details)
	g.GET("/:id/sessions/count", h.SessionCount)
	g.POST("/join", h.Join, joinLimit)
	g.POST("/:id/leave", h.Leave)

	admin := middleware.RequireRole(adminOnly...)
	g.POST("", h.Create, admin)
	g.GET("/mine", h.Mine, admin)
	g.POST("/:id/reset-pin", h.ResetPin, admin)
	g.DELETE("/:id", h.Delete, admin)
}

// RegisterMessages registers the message endpoints under /v1/messages.
func RegisterMessages(e *echo.Echo, h *handler.MessageHandler, jwtSecret string) {
	g := e.Group("/v1/messages", middleware.JWTAuth(jwtSecret), middleware.RequireRole(anyRole...))
	g.POST("", h.Send)
	g.GET("/room/:id", h.ListRoom)
	g.PATCH("/:id", h.Edit)
	g.DELETE("/:id", h.Delete)
}
