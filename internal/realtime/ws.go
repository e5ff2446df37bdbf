package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/chat-realtime/internal/utils"
)

// Lifecycle receives the transport signals of every connection.
type Lifecycle interface {
	OnConnect(ctx context.Context, conn string, p *utils.Principal)
	OnSubscribe(ctx context.Context, conn string, p *utils.Principal, destination string)
	OnUnsubscribe(ctx context.Context, conn string, destination string)
	OnDisconnect(ctx context.Context, conn string, p *utils.Principal)
}

// Inbound handles application frames sent by clients.
type Inbound interface {
	Post(ctx context.Context, roomID, userID uint64, content string) error
	Typing(ctx context.Context, roomID, userID uint64, typing bool) error
	ReportError(userID uint64, text string)
}

// Authenticator resolves a bearer token to a principal.
type Authenticator func(token string) (utils.Principal, error)

const (
	sendMessagePrefix = "/app/chat.sendMessage/"
	typingPrefix      = "/app/chat.typing/"
	userErrorsDest    = "/user/queue/errors"

	maxFrameSize = 64 << 10
	writeWait    = 10 * time.Second
	handlerWait  = 10 * time.Second
)

type ServerConfig struct {
	SendBuffer int
	PingPeriod time.Duration
}

// Server upgrades HTTP requests to websocket connections and runs the
// read and write pumps of each.
type Server struct {
	hub       *Hub
	lifecycle Lifecycle
	inbound   Inbound
	auth      Authenticator
	cfg       ServerConfig
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewServer(hub *Hub, lifecycle Lifecycle, inbound Inbound, auth Authenticator, cfg ServerConfig) *Server {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	return &Server{
		hub:       hub,
		lifecycle: lifecycle,
		inbound:   inbound,
		auth:      auth,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With().Str("module", "realtime.ws").Logger(),
	}
}

func bearer(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// ServeHTTP authenticates, upgrades and serves one connection until it
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := s.auth(bearer(r))
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := NewClient(uuid.NewString(), p, s.cfg.SendBuffer)
	s.hub.Register(c)
	s.log.Info().Str("conn", c.id).Uint64("user_id", p.UserID).Msg("connected")

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(ctx, ws, c)

	s.sendFrame(c, Frame{Type: FrameConnected, ConnectionID: c.id})
	s.lifecycle.OnConnect(ctx, c.id, &p)

	s.readPump(ctx, ws, c)

	cancel()
	s.hub.Unregister(c.id)
	c.Close()
	dctx, dcancel := context.WithTimeout(context.Background(), handlerWait)
	s.lifecycle.OnDisconnect(dctx, c.id, &p)
	dcancel()
	s.log.Info().Str("conn", c.id).Uint64("user_id", p.UserID).Msg("disconnected")
}

func (s *Server) writePump(ctx context.Context, ws *websocket.Conn, c *Client) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.done:
			return
		case data := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, c *Client) {
	pongWait := s.cfg.PingPeriod * 10 / 9
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("conn", c.id).Msg("read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(ctx, c, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *Client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.sendFrame(c, Frame{Type: FrameError, Message: "malformed frame"})
		return
	}
	p := c.principal
	switch f.Type {
	case FramePing:
		s.sendFrame(c, Frame{Type: FramePong})
	case FrameSubscribe:
		if !subscribable(f.Destination) {
			s.sendFrame(c, Frame{Type: FrameError, Message: "cannot subscribe to " + f.Destination})
			return
		}
		s.hub.Subscribe(c.id, f.Destination)
		s.lifecycle.OnSubscribe(ctx, c.id, &p, f.Destination)
	case FrameUnsubscribe:
		s.hub.Unsubscribe(c.id, f.Destination)
		s.lifecycle.OnUnsubscribe(ctx, c.id, f.Destination)
	case FrameSend:
		s.handleSend(ctx, c, f)
	default:
		s.sendFrame(c, Frame{Type: FrameError, Message: "unknown frame type " + f.Type})
	}
}

func (s *Server) handleSend(ctx context.Context, c *Client, f Frame) {
	uid := c.principal.UserID
	hctx, cancel := context.WithTimeout(ctx, handlerWait)
	defer cancel()
	var err error
	switch {
	case strings.HasPrefix(f.Destination, sendMessagePrefix):
		roomID, ok := parseID(strings.TrimPrefix(f.Destination, sendMessagePrefix))
		if !ok {
			s.inbound.ReportError(uid, "invalid room id")
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(f.Body, &body); err != nil {
			s.inbound.ReportError(uid, "invalid message body")
			return
		}
		err = s.inbound.Post(hctx, roomID, uid, body.Content)
	case strings.HasPrefix(f.Destination, typingPrefix):
		roomID, ok := parseID(strings.TrimPrefix(f.Destination, typingPrefix))
		if !ok {
			return
		}
		var body struct {
			IsTyping bool `json:"is_typing"`
		}
		_ = json.Unmarshal(f.Body, &body)
		err = s.inbound.Typing(hctx, roomID, uid, body.IsTyping)
	default:
		s.inbound.ReportError(uid, "unknown destination "+f.Destination)
		return
	}
	if err != nil {
		s.inbound.ReportError(uid, "could not deliver: "+err.Error())
	}
}

func (s *Server) sendFrame(c *Client, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal frame")
		return
	}
	_ = c.TrySend(b)
}

// subscribable reports whether clients may subscribe to dest.  Private user
// queues are delivered without a subscription.
func subscribable(dest string) bool {
	if dest == "/topic/user-status" || dest == userErrorsDest {
		return true
	}
	_, ok := ParseRoomDestination(dest)
	return ok && strings.HasPrefix(dest, "/topic/")
}

func parseID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil && id != 0
}
