// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// room coordinator and the handlers to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import (
    "database/sql/driver"
    "errors"

    "github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write cannot be performed because of
// conflicting state, such as a duplicate unique key.
var ErrConflict = errors.New("conflict")

var (
    ErrRoomNotFound    = errors.New("room not found")
    ErrSessionNotFound = errors.New("session not found")
    ErrMessageNotFound = errors.New("message not found")
    ErrUserNotFound    = errors.New("user not found")
    ErrTokenInvalid    = errors.New("refresh token invalid")
)

// MySQL error numbers that indicate the transaction lost a lock race and may
// be re-run from the start.
const (
    mysqlLockWaitTimeout = 1205
    mysqlDeadlock        = 1213
    mysqlDuplicateEntry  = 1062
)

// IsTransient reports whether err is a lock timeout, a deadlock or a broken
// connection.  Re-running the whole transaction is safe in those cases.
func IsTransient(err error) bool {
    if err == nil {
        return false
    }
    if errors.Is(err, driver.ErrBadConn) {
        return true
    }
    var me *mysql.MySQLError
    if errors.As(err, &me) {
        return me.Number == mysqlLockWaitTimeout || me.Number == mysqlDeadlock
    }
    return false
}

func isDuplicate(err error) bool {
    var me *mysql.MySQLError
    return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
