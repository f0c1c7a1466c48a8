package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/sidestory/core/markup"
	"github.com/FocuswithJustin/sidestory/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Preview message types.
const (
	PreviewCompiled = "compiled"
	PreviewError    = "error"
)

// PreviewMessage is sent to a preview client for every request it makes.
type PreviewMessage struct {
	Type         string           `json:"type"`
	Session      string           `json:"session"`
	Seq          int              `json:"seq"`
	Blocks       []any            `json:"blocks,omitempty"`
	Unterminated *markup.VoidDrop `json:"unterminated,omitempty"`
	Message      string           `json:"message,omitempty"`
	Timestamp    string           `json:"timestamp"`
}

// Client is one preview connection.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *tokenBucket
	seq     int

	// closeMsg is written by writePump once send is drained.
	closeMsg []byte
}

// Hub tracks open preview sessions.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	logging.WebSocketEvent("client_connected", c.id, "sessions", n)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.WebSocketEvent("client_disconnected", c.id, "sessions", n)
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every session's connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.cfg.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if !isOriginAllowed(origin, allowed) {
				logging.Warn("websocket origin rejected", "origin", origin)
				return false
			}
			return true
		},
	}
}

// handlePreview upgrades to a websocket. Each text message is a
// CompileRequest; each reply is the compiled report.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	if s.cfg.Preview.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.Preview.MaxMessageSize)
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 16),
	}
	if rate := s.cfg.Preview.MaxMessageRate; rate > 0 {
		client.limiter = newTokenBucket(float64(rate)*2, float64(rate), time.Now())
	}

	s.hub.register(client)
	go client.writePump()
	go client.readPump()
}

// readPump compiles incoming requests until the connection closes.
// Unregistering closes send, which lets writePump flush and hang up.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("websocket unexpected close", "session_id", c.id, "error", err)
			}
			return
		}
		if c.limiter != nil && !c.limiter.allow(time.Now()) {
			logging.WebSocketEvent("rate_limited", c.id)
			c.closeMsg = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		c.seq++
		reply := c.compile(msgType, data)
		payload, err := json.Marshal(reply)
		if err != nil {
			logging.Error("failed to marshal preview message", "error", err)
			continue
		}
		select {
		case c.send <- payload:
		default:
			logging.Warn("preview send queue full, dropping reply", "session_id", c.id, "seq", c.seq)
		}
	}
}

func (c *Client) compile(msgType int, data []byte) PreviewMessage {
	msg := PreviewMessage{
		Session:   c.id,
		Seq:       c.seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if msgType != websocket.TextMessage {
		msg.Type, msg.Message = PreviewError, "expected a text message"
		return msg
	}
	var req CompileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		msg.Type, msg.Message = PreviewError, "invalid compile request: "+err.Error()
		return msg
	}

	report := markup.Inspect(req.Text, req.Flags)
	if report.Unterminated != nil {
		logging.VoidBlockDropped(context.Background(), "preview/"+c.id, report.Unterminated.StartLine, report.Unterminated.Lines)
	}
	msg.Type = PreviewCompiled
	msg.Blocks = markup.Envelopes(report.Blocks)
	msg.Unterminated = report.Unterminated
	return msg
}

// writePump sends queued replies and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				closeMsg := c.closeMsg
				if closeMsg == nil {
					closeMsg = []byte{}
				}
				c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
