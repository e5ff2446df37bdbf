package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/chat-realtime/internal/utils"
)

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case b := <-c.send:
		var f Frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	default:
		t.Fatalf("no frame queued for %s", c.id)
		return Frame{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected frame for %s: %s", c.id, b)
	default:
	}
}

func TestHubFansOutToSubscribers(t *testing.T) {
	h := NewHub()
	a := NewClient("a", utils.Principal{UserID: 1}, 4)
	b := NewClient("b", utils.Principal{UserID: 2}, 4)
	c := NewClient("c", utils.Principal{UserID: 3}, 4)
	for _, cl := range []*Client{a, b, c} {
		h.Register(cl)
	}
	require.True(t, h.Subscribe("a", "/topic/room/1"))
	require.True(t, h.Subscribe("b", "/topic/room/1"))
	require.True(t, h.Subscribe("c", "/topic/room/2"))
	assert.False(t, h.Subscribe("ghost", "/topic/room/1"))

	h.Publish("/topic/room/1", map[string]string{"content": "hi"})

	for _, cl := range []*Client{a, b} {
		f := nextFrame(t, cl)
		assert.Equal(t, FrameMessage, f.Type)
		assert.Equal(t, "/topic/room/1", f.Destination)
		assert.JSONEq(t, `{"content":"hi"}`, string(f.Body))
	}
	assertNoFrame(t, c)
}

func TestHubUserQueueReachesEveryConnection(t *testing.T) {
	h := NewHub()
	tab1 := NewClient("t1", utils.Principal{UserID: 7}, 4)
	tab2 := NewClient("t2", utils.Principal{UserID: 7}, 4)
	other := NewClient("o", utils.Principal{UserID: 8}, 4)
	h.Register(tab1)
	h.Register(tab2)
	h.Register(other)

	h.Publish("/user/7/queue/errors", map[string]string{"message": "nope"})

	assert.Equal(t, "/user/7/queue/errors", nextFrame(t, tab1).Destination)
	assert.Equal(t, "/user/7/queue/errors", nextFrame(t, tab2).Destination)
	assertNoFrame(t, other)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	slow := NewClient("slow", utils.Principal{UserID: 1}, 1)
	fast := NewClient("fast", utils.Principal{UserID: 2}, 8)
	h.Register(slow)
	h.Register(fast)
	h.Subscribe("slow", "/topic/room/1")
	h.Subscribe("fast", "/topic/room/1")

	for i := 0; i < 3; i++ {
		h.Publish("/topic/room/1", i)
	}

	assert.JSONEq(t, `0`, string(nextFrame(t, slow).Body))
	assertNoFrame(t, slow)
	for i := 0; i < 3; i++ {
		nextFrame(t, fast)
	}
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	h := NewHub()
	a := NewClient("a", utils.Principal{UserID: 1}, 4)
	h.Register(a)
	h.Subscribe("a", "/topic/room/1")

	uid, ok := h.UserOf("a")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), uid)

	h.Unregister("a")
	h.Unregister("a")
	_, ok = h.UserOf("a")
	assert.False(t, ok)

	h.Publish("/topic/room/1", "x")
	h.Publish("/user/1/queue/errors", "x")
	assertNoFrame(t, a)
}

func TestClientClosedRejectsSends(t *testing.T) {
	c := NewClient("a", utils.Principal{UserID: 1}, 4)
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.TrySend([]byte("x")), ErrBackpressure)
}

func TestUserDestination(t *testing.T) {
	id, ok := userDestination("/user/42/queue/errors")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)

	_, ok = userDestination("/user/queue/errors")
	assert.False(t, ok)
	_, ok = userDestination("/topic/room/1")
	assert.False(t, ok)
}
