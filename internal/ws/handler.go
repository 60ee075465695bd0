package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lahorneada/supportchat/internal/auth"
	"github.com/lahorneada/supportchat/internal/constants"
	chaterrors "github.com/lahorneada/supportchat/internal/errors"
	"github.com/lahorneada/supportchat/internal/event"
	"github.com/lahorneada/supportchat/internal/metrics"
	"github.com/lahorneada/supportchat/internal/ratelimit"
	"github.com/lahorneada/supportchat/internal/room"
	"github.com/lahorneada/supportchat/internal/util"
)

// upgrader configures the HTTP to WebSocket upgrade. TLS termination is the
// reverse proxy's job; CheckOrigin is set per handler instance.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler authenticates upgrade requests and manages connection lifecycles.
type Handler struct {
	verifier       *auth.Verifier
	gateway        *Gateway
	rooms          *room.Registry
	connLimiter    *ratelimit.ConnectionLimiter
	logger         *slog.Logger
	maxMessageSize int64

	mu             sync.RWMutex
	allowedOrigins map[string]bool
	connections    map[uint]map[string]*Connection
}

// NewHandler creates a WebSocket handler.
func NewHandler(verifier *auth.Verifier, gateway *Gateway, rooms *room.Registry, maxConnsPerUser int, maxMessageSize int64, log *slog.Logger) *Handler {
	return &Handler{
		verifier:       verifier,
		gateway:        gateway,
		rooms:          rooms,
		connLimiter:    ratelimit.NewConnectionLimiter(maxConnsPerUser),
		logger:         log.WithGroup("ws"),
		maxMessageSize: maxMessageSize,
		allowedOrigins: make(map[string]bool),
		connections:    make(map[uint]map[string]*Connection),
	}
}

// SetAllowedOrigins restricts upgrade requests to the given origins. With no
// origins configured all origins are accepted, which is only acceptable
// behind a proxy that validates origins itself.
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}

	h.logger.Info("Configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.allowedOrigins) == 0 {
		return true
	}
	if h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warn("Origin not allowed", "origin", origin)
	return false
}

// HandleWebSocket authenticates the request and upgrades it. The credential
// comes from the jwt cookie or the Authorization header; missing or invalid
// credentials are rejected before the upgrade with a 401.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, err := auth.CredentialFromRequest(r)
	if err != nil {
		http.Error(w, "Missing authentication credential", http.StatusUnauthorized)
		return
	}

	principal, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Warn("Credential rejected", "error", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	if !h.connLimiter.Allow(principal.ID) {
		h.logger.Warn("Connection limit exceeded", "user_id", principal.ID)
		chatErr := chaterrors.ErrConnectionLimitExceeded(5000)
		http.Error(w, chatErr.Message, http.StatusTooManyRequests)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.connLimiter.Release(principal.ID)
		util.LogError(h.logger, "ws", "upgrade connection", err, "user_id", principal.ID)
		return
	}

	conn.SetReadLimit(h.maxMessageSize)

	connection := newConnection(conn, principal)
	h.register(connection)

	h.logger.Info("WebSocket connection established",
		"user_id", principal.ID,
		"role", principal.Role,
		"connection_id", connection.ConnectionID)

	util.SafeGo(h.logger, "readPump", func() { h.readPump(connection) })
	util.SafeGo(h.logger, "writePump", func() { h.writePump(connection) })
}

func (h *Handler) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := conn.Principal.ID
	if h.connections[userID] == nil {
		h.connections[userID] = make(map[string]*Connection)
	}
	h.connections[userID][conn.ConnectionID] = conn

	metrics.WebSocketConnections.Inc()
}

func (h *Handler) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := conn.Principal.ID
	userConns, ok := h.connections[userID]
	if !ok {
		return
	}
	if _, exists := userConns[conn.ConnectionID]; !exists {
		return
	}

	delete(userConns, conn.ConnectionID)
	conn.closing.Store(true)
	close(conn.send)

	h.connLimiter.Release(userID)
	metrics.WebSocketConnections.Dec()

	if len(userConns) == 0 {
		delete(h.connections, userID)
	}
}

// ConnectionCount reports the user's live connections.
func (h *Handler) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// readPump reads client requests and dispatches them. It owns the
// connection's teardown: on exit the connection leaves every room and is
// unregistered.
func (h *Handler) readPump(c *Connection) {
	defer func() {
		h.rooms.RemoveConnection(c.ConnectionID)
		h.unregister(c)
		c.Close()
		h.logger.Info("WebSocket connection closed",
			"user_id", c.Principal.ID,
			"connection_id", c.ConnectionID)
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				h.logger.Warn("Message size limit exceeded",
					"user_id", c.Principal.ID,
					"connection_id", c.ConnectionID,
					"limit", h.maxMessageSize)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.LogError(h.logger, "ws", "handle unexpected close", err,
					"user_id", c.Principal.ID,
					"connection_id", c.ConnectionID)
			}
			return
		}

		var req event.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			h.logger.Warn("Malformed request frame",
				"user_id", c.Principal.ID,
				"connection_id", c.ConnectionID,
				"error", err)
			h.rejectFrame(c, &req, chaterrors.ErrInvalidPayload("request envelope", err))
			continue
		}

		ctx, cancel := util.NewTimeoutContext(constants.DefaultStoreTimeout)
		reply := h.gateway.Dispatch(ctx, c, &req)
		cancel()

		if !c.Deliver(reply) {
			h.logger.Warn("Reply dropped, send buffer full",
				"user_id", c.Principal.ID,
				"connection_id", c.ConnectionID,
				"event", req.Event)
		}
	}
}

// rejectFrame sends an error reply for a frame that never reached dispatch.
func (h *Handler) rejectFrame(c *Connection, req *event.Request, chatErr *chaterrors.ChatError) {
	metrics.EventErrors.WithLabelValues(string(chatErr.Code)).Inc()
	reply := &event.ErrorReply{
		Header: event.Header{Event: req.Event, ID: req.ID, Success: false},
		Error:  chatErr.ToErrorInfo(),
	}
	if data, err := json.Marshal(reply); err == nil {
		c.Deliver(data)
	}
}

// writePump drains the send channel to the socket and keeps the heartbeat.
func (h *Handler) writePump(c *Connection) {
	ticker := time.NewTicker(constants.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ShutdownWithContext closes every live connection, sending each a close
// frame first. It returns the context's error if the deadline passes before
// all connections finish closing.
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.logger.Info("Shutting down WebSocket handler")

	h.mu.Lock()
	all := make([]*Connection, 0)
	for _, userConns := range h.connections {
		for _, conn := range userConns {
			all = append(all, conn)
		}
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range all {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			c.mu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			}
			c.mu.Unlock()

			c.Close()
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed")
		return nil
	case <-ctx.Done():
		h.logger.Warn("Shutdown deadline exceeded", "connections", len(all))
		return ctx.Err()
	}
}
