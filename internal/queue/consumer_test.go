package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/chat-realtime/internal/service"
)

func TestEventFrom(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	ev := eventFrom(service.Activity{
		Kind:      service.ActivitySessionOpened,
		RoomID:    3,
		RoomCode:  "ROOMABC123",
		UserID:    7,
		SessionID: 11,
		DeviceID:  "dev",
		IPAddress: "10.0.0.1",
		At:        at,
	})
	assert.Equal(t, "SESSION_OPENED", ev.Kind)
	assert.Equal(t, "2026-03-01T11:30:00.000Z", ev.OccurredAt)
	assert.Equal(t, uint64(11), ev.SessionID)
}

func TestFormatLine(t *testing.T) {
	full := formatLine(RoomActivityEvent{
		Kind:       "SESSION_CLOSED",
		RoomID:     3,
		RoomCode:   "ROOMABC123",
		UserID:     7,
		SessionID:  11,
		DeviceID:   "dev",
		IPAddress:  "10.0.0.1",
		Cause:      "disconnect",
		OccurredAt: "2026-03-01T11:30:00.000Z",
	})
	assert.Equal(t, `[2026-03-01T11:30:00.000Z] SESSION_CLOSED | user_id=7 | room_id=3 | room="ROOMABC123"`+
		` | session_id=11 | device="dev" | ip=10.0.0.1 | cause=disconnect`+"\n", full)

	bare := formatLine(RoomActivityEvent{Kind: "PIN_REJECTED", UserID: 7, OccurredAt: "t"})
	assert.Equal(t, "[t] PIN_REJECTED | user_id=7\n", bare)
}

func TestHandleMessageAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	for _, kind := range []string{"SESSION_OPENED", "SESSION_CLOSED"} {
		body, err := json.Marshal(RoomActivityEvent{Kind: kind, UserID: 1, RoomID: 2, OccurredAt: "t"})
		require.NoError(t, err)
		require.NoError(t, handleMessage(dir, body))
	}

	data, err := os.ReadFile(filepath.Join(dir, ActivityLogFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "SESSION_OPENED")
	assert.Contains(t, lines[1], "SESSION_CLOSED")
}

func TestHandleMessageRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, handleMessage(dir, []byte("{nope")))
	_, err := os.Stat(filepath.Join(dir, ActivityLogFile))
	assert.True(t, os.IsNotExist(err))
}
