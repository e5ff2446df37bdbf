package middleware // middleware holds the echo middleware shared by the HTTP routes

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/chat-realtime/internal/utils"
)

// Context keys set by JWTAuth.
const (
    ctxUserID    = "user_id"
    ctxRole      = "role"
    ctxUsername  = "username"
    ctxPrincipal = "principal"
)

// JWTAuth validates the Bearer access token of each request and stores the
// resolved principal in the echo context.  Handlers read it back with
// UserID and Principal.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            p, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            c.Set(ctxUserID, p.UserID)
            c.Set(ctxRole, p.Role)
            c.Set(ctxUsername, p.Username)
            c.Set(ctxPrincipal, p)
            return next(c)
        }
    }
}
