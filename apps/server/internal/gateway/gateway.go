package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"playprofile/apps/server/internal/analysis"
	"playprofile/apps/server/internal/auth"
	"playprofile/apps/server/internal/collector"
	"playprofile/apps/server/internal/telemetry"
	"playprofile/eventlog"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	readLimit    = 1 << 20
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	analyzeWait  = 30 * time.Second
)

// Message types.
const (
	TypeOpen   = "open"
	TypeEvent  = "event"
	TypeClose  = "close"
	TypeOpened = "opened"
	TypeResult = "result"
	TypeError  = "error"
)

// Error codes sent to clients.
const (
	CodeBadMessage    = 1
	CodeUnknownStream = 2
	CodeRejected      = 3
	CodeAnalysis      = 4
)

type ClientMessage struct {
	Type       string                 `json:"type"`
	StreamID   string                 `json:"stream_id,omitempty"`
	Open       *collector.OpenRequest `json:"open,omitempty"`
	Event      *eventlog.Event        `json:"event,omitempty"`
	EndTime    float64                `json:"end_time,omitempty"`
	FinalScore float64                `json:"final_score,omitempty"`
}

type ServerMessage struct {
	Type      string            `json:"type"`
	StreamID  string            `json:"stream_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Outcome   *analysis.Outcome `json:"outcome,omitempty"`
	Code      int               `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
	ServerTs  int64             `json:"server_ts_ms"`
}

// Connection is one websocket client.
type Connection struct {
	ID      string
	Analyst auth.Analyst
	Conn    *websocket.Conn
	Send    chan []byte
	Gateway *Gateway
	log     logrus.FieldLogger
}

// Gateway accepts streamed sessions over websocket and pushes results back.
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	nextConnID  uint64

	upgrader  websocket.Upgrader
	collector *collector.Collector
	analysis  *analysis.Service
	auth      auth.Service
	metrics   *telemetry.Metrics
	logger    logrus.FieldLogger
}

type Option func(*Gateway)

// WithAuth requires a valid bearer token (header or ?token=) to connect.
func WithAuth(s auth.Service) Option {
	return func(g *Gateway) { g.auth = s }
}

// WithAllowedOrigins restricts browser origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(g *Gateway) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		g.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

func WithTelemetry(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gateway) { g.logger = l }
}

func New(c *collector.Collector, a *analysis.Service, opts ...Option) *Gateway {
	g := &Gateway{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		collector: c,
		analysis:  a,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = telemetry.New()
	}
	return g
}

// HandleWebSocket authenticates, upgrades and starts the connection pumps.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var analyst auth.Analyst
	if g.auth != nil {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		a, ok := g.auth.Resolve(r.Context(), token)
		if !ok {
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}
		analyst = a
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Warn("[Gateway] upgrade failed")
		return
	}

	g.mu.Lock()
	g.nextConnID++
	c := &Connection{
		ID:      fmt.Sprintf("conn_%d", g.nextConnID),
		Analyst: analyst,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Gateway: g,
	}
	g.connections[c.ID] = c
	total := len(g.connections)
	g.mu.Unlock()

	c.log = g.logger.WithFields(logrus.Fields{"conn_id": c.ID, "analyst_id": analyst.ID})
	g.metrics.WSConnections.Inc()
	c.log.WithField("total", total).Info("[Gateway] client connected")

	go c.readPump()
	go c.writePump()
}

func (c *Connection) readPump() {
	defer func() {
		c.Gateway.removeConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(readLimit)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("[Gateway] read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.sendError("", CodeBadMessage, "expected a text message")
			continue
		}
		c.handleMessage(data)
	}
}

func (c *Connection) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", CodeBadMessage, "invalid message format")
		return
	}
	switch msg.Type {
	case TypeOpen:
		c.handleOpen(msg)
	case TypeEvent:
		c.handleEvent(msg)
	case TypeClose:
		c.handleClose(msg)
	default:
		c.sendError(msg.StreamID, CodeBadMessage, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *Connection) handleOpen(msg ClientMessage) {
	if msg.Open == nil {
		c.sendError("", CodeBadMessage, "open message requires an open body")
		return
	}
	streamID, session, err := c.Gateway.collector.Open(c.ID, *msg.Open)
	if err != nil {
		c.sendError("", CodeRejected, err.Error())
		return
	}
	c.send(ServerMessage{Type: TypeOpened, StreamID: streamID, SessionID: session.SessionID})
}

func (c *Connection) handleEvent(msg ClientMessage) {
	if msg.Event == nil {
		c.sendError(msg.StreamID, CodeBadMessage, "event message requires an event body")
		return
	}
	if err := c.Gateway.collector.Append(c.ID, msg.StreamID, *msg.Event); err != nil {
		c.sendError(msg.StreamID, streamErrorCode(err), err.Error())
	}
}

func (c *Connection) handleClose(msg ClientMessage) {
	session, err := c.Gateway.collector.Close(c.ID, msg.StreamID, msg.EndTime, msg.FinalScore)
	if err != nil {
		c.sendError(msg.StreamID, streamErrorCode(err), err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), analyzeWait)
	defer cancel()
	out, err := c.Gateway.analysis.Analyze(ctx, session)
	if err != nil {
		c.log.WithError(err).WithField("session_id", session.SessionID).Warn("[Gateway] analysis failed")
		c.sendError(msg.StreamID, CodeAnalysis, err.Error())
		return
	}
	c.send(ServerMessage{Type: TypeResult, StreamID: msg.StreamID, SessionID: session.SessionID, Outcome: &out})
}

func streamErrorCode(err error) int {
	switch {
	case errors.Is(err, collector.ErrUnknownStream), errors.Is(err, collector.ErrNotOwner):
		return CodeUnknownStream
	default:
		return CodeRejected
	}
}

func (c *Connection) sendError(streamID string, code int, message string) {
	c.send(ServerMessage{Type: TypeError, StreamID: streamID, Code: code, Message: message})
}

func (c *Connection) send(msg ServerMessage) {
	msg.ServerTs = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("[Gateway] marshal failed")
		return
	}
	select {
	case c.Send <- data:
	default:
		c.log.Warn("[Gateway] send buffer full, dropping message")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	delete(g.connections, c.ID)
	total := len(g.connections)
	g.mu.Unlock()

	g.collector.Abort(c.ID)
	g.metrics.WSConnections.Dec()
	close(c.Send)
	c.log.WithField("total", total).Info("[Gateway] client disconnected")
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}
