package realtime

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/metrics"
	"github.com/iliyamo/chat-realtime/internal/utils"
)

var ErrBackpressure = errors.New("backpressure")

// Frame is the JSON envelope exchanged over a connection.
type Frame struct {
	Type         string          `json:"type"`
	Destination  string          `json:"destination,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
	Message      string          `json:"message,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

const (
	FrameConnected   = "connected"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSend        = "send"
	FrameMessage     = "message"
	FrameError       = "error"
	FramePing        = "ping"
	FramePong        = "pong"
)

// Client is one live connection as seen by the hub.
type Client struct {
	id        string
	principal utils.Principal
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func NewClient(id string, p utils.Principal, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{id: id, principal: p, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (c *Client) ID() string                 { return c.id }
func (c *Client) Principal() utils.Principal { return c.principal }

// TrySend queues b without blocking.  A full buffer drops the frame.
func (c *Client) TrySend(b []byte) error {
	select {
	case <-c.done:
		return ErrBackpressure
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops the client's writer.  Safe to call more than once.
func (c *Client) Close() { c.once.Do(func() { close(c.done) }) }

// Hub fans events out to the connections subscribed to a destination.
// Events addressed to /user/{id}/... go to every connection of that user
// regardless of subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[string]*Client
	users   map[uint64]map[string]*Client
	log     zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]*Client),
		users:   make(map[uint64]map[string]*Client),
		log:     log.With().Str("module", "realtime.hub").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	uid := c.principal.UserID
	if h.users[uid] == nil {
		h.users[uid] = make(map[string]*Client)
	}
	h.users[uid][c.id] = c
	metrics.ActiveConnections.Inc()
}

// Unregister drops the connection and all its subscriptions.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	for dest, subs := range h.topics {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.topics, dest)
		}
	}
	if conns := h.users[c.principal.UserID]; conns != nil {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.users, c.principal.UserID)
		}
	}
	metrics.ActiveConnections.Dec()
}

func (h *Hub) Subscribe(id, dest string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	if h.topics[dest] == nil {
		h.topics[dest] = make(map[string]*Client)
	}
	h.topics[dest][id] = c
	return true
}

func (h *Hub) Unsubscribe(id, dest string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.topics[dest]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.topics, dest)
		}
	}
}

// UserOf returns the user behind a live connection.
func (h *Hub) UserOf(id string) (uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return 0, false
	}
	return c.principal.UserID, true
}

// Publish encodes payload once and hands it to every matching connection.
func (h *Hub) Publish(dest string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("destination", dest).Msg("marshal event")
		return
	}
	h.Deliver(dest, body)
}

// Deliver fans an already encoded body out to the subscribers of dest.
func (h *Hub) Deliver(dest string, body json.RawMessage) {
	frame, err := json.Marshal(Frame{Type: FrameMessage, Destination: dest, Body: body})
	if err != nil {
		h.log.Error().Err(err).Str("destination", dest).Msg("marshal frame")
		return
	}
	for _, c := range h.targets(dest) {
		if err := c.TrySend(frame); err != nil {
			metrics.EventsDropped.Inc()
			h.log.Debug().Str("conn", c.id).Str("destination", dest).Msg("dropped event for slow subscriber")
		}
	}
}

func (h *Hub) targets(dest string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var set map[string]*Client
	if uid, ok := userDestination(dest); ok {
		set = h.users[uid]
	} else {
		set = h.topics[dest]
	}
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// userDestination matches /user/{id}/... destinations.
func userDestination(dest string) (uint64, bool) {
	rest, ok := strings.CutPrefix(dest, "/user/")
	if !ok {
		return 0, false
	}
	idPart, _, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
