// ABOUTME: Websocket hub: upgrades authenticated requests and bridges broadcaster rooms to clients
// ABOUTME: Clients start in the global room and their own user room; commands join and leave more

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/events"
	"github.com/2389/inbox-gateway/internal/metrics"
)

// Client commands.
const (
	CommandJoinConversation  = "join_conversation"
	CommandLeaveConversation = "leave_conversation"
	CommandJoinUserRoom      = "join_user_room"
)

// Command is a client-to-server message.
type Command struct {
	Command        string `json:"command"`
	ConversationID int64  `json:"conversationId,omitempty"`
	UserID         int64  `json:"userId,omitempty"`
}

// Config configures a Hub.
type Config struct {
	// AllowedOrigins lists browser origins that may connect. Empty allows any.
	AllowedOrigins []string
}

// Hub serves the websocket endpoint.
type Hub struct {
	broadcaster *events.Broadcaster
	upgrader    websocket.Upgrader
	logger      *slog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewHub creates a hub that delivers events from b. Pass nil logger for default.
func NewHub(b *events.Broadcaster, cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		broadcaster: b,
		logger:      logger.With("component", "realtime"),
		conns:       make(map[string]*Connection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP upgrades the request. It must sit behind auth.HTTPAuthMiddleware.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(authCtx.UserID, ws)
	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := h.broadcaster.Subscribe(ctx, events.GlobalRoom, events.UserRoom(authCtx.UserID))

	h.track(conn)
	conn.Start()
	h.logger.Info("client connected", "conn_id", conn.ID, "user_id", conn.UserID)

	h.reply(conn, "connected", map[string]any{
		"connectionId": conn.ID,
		"userId":       conn.UserID,
		"rooms":        h.broadcaster.Rooms(subID),
	})

	go h.pump(conn, ch)
	h.readLoop(conn, subID, authCtx)

	cancel()
	conn.Close(websocket.CloseNormalClosure, "")
	h.untrack(conn)
	h.logger.Info("client disconnected", "conn_id", conn.ID, "user_id", conn.UserID)
}

// pump forwards broadcaster events until the subscription or connection ends.
func (h *Hub) pump(conn *Connection, ch <-chan *events.Event) {
	for {
		select {
		case <-conn.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.CloseGoingAway, "server shutting down")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to marshal event", "event", ev.Name, "error", err)
				continue
			}
			if err := conn.Send(data); err != nil {
				h.logger.Warn("dropping slow client", "conn_id", conn.ID, "error", err)
				return
			}
		}
	}
}

func (h *Hub) readLoop(conn *Connection, subID string, authCtx *auth.AuthContext) {
	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.replyError(conn, "invalid command")
			continue
		}
		h.handleCommand(conn, subID, authCtx, cmd)
	}
}

func (h *Hub) handleCommand(conn *Connection, subID string, authCtx *auth.AuthContext, cmd Command) {
	switch cmd.Command {
	case CommandJoinConversation:
		if cmd.ConversationID <= 0 {
			h.replyError(conn, "conversationId is required")
			return
		}
		room := events.ConversationRoom(cmd.ConversationID)
		h.broadcaster.Join(subID, room)
		h.reply(conn, "joined", map[string]string{"room": room})

	case CommandLeaveConversation:
		if cmd.ConversationID <= 0 {
			h.replyError(conn, "conversationId is required")
			return
		}
		room := events.ConversationRoom(cmd.ConversationID)
		h.broadcaster.Leave(subID, room)
		h.reply(conn, "left", map[string]string{"room": room})

	case CommandJoinUserRoom:
		userID := cmd.UserID
		if userID == 0 {
			userID = authCtx.UserID
		}
		if userID != authCtx.UserID && !authCtx.IsAdmin() {
			h.replyError(conn, "cannot join another user's room")
			return
		}
		room := events.UserRoom(userID)
		h.broadcaster.Join(subID, room)
		h.reply(conn, "joined", map[string]string{"room": room})

	default:
		h.replyError(conn, "unknown command")
	}
}

func (h *Hub) reply(conn *Connection, name string, data any) {
	payload, err := json.Marshal(&events.Event{Name: name, Payload: data})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (h *Hub) replyError(conn *Connection, msg string) {
	h.reply(conn, "error", map[string]string{"message": msg})
}

func (h *Hub) track(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	metrics.LiveConnections.Inc()
}

func (h *Hub) untrack(conn *Connection) {
	h.mu.Lock()
	_, ok := h.conns[conn.ID]
	delete(h.conns, conn.ID)
	h.mu.Unlock()
	if ok {
		metrics.LiveConnections.Dec()
	}
}

// ConnectionCount returns the number of open websocket clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}
