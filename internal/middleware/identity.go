package middleware

import (
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/chat-realtime/internal/utils"
)

// UserID returns the authenticated user's ID, or false on routes that are
// not behind JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ctxUserID).(uint64)
    return id, ok && id != 0
}

// Principal returns the full identity resolved by JWTAuth.
func Principal(c echo.Context) (utils.Principal, bool) {
    p, ok := c.Get(ctxPrincipal).(utils.Principal)
    return p, ok
}

// userKey is the user component of rate limit keys.
func userKey(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
