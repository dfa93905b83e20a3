// ABOUTME: Server-Sent Events stream of live inbox events for the signed-in agent
// ABOUTME: Subscribes to the global and user rooms plus any ?conversationId= rooms

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/events"
)

// sseHeartbeatInterval keeps idle proxies from closing the stream.
var sseHeartbeatInterval = 30 * time.Second

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sseRooms returns the rooms a stream starts in.
func sseRooms(r *http.Request, userID int64) ([]string, error) {
	rooms := []string{events.GlobalRoom, events.UserRoom(userID)}
	for _, raw := range r.URL.Query()["conversationId"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid conversationId %q", raw)
		}
		rooms = append(rooms, events.ConversationRoom(id))
	}
	return rooms, nil
}

// handleEvents handles GET /api/events.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	rooms, err := sseRooms(r, authCtx.UserID)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	ch, subID := g.broadcaster.Subscribe(r.Context(), rooms...)
	defer g.broadcaster.Unsubscribe(subID)

	g.writeSSEEvent(w, "connected", map[string]any{
		"userId": authCtx.UserID,
		"rooms":  rooms,
	})
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-ch:
			if !ok {
				// Broadcaster closed
				return
			}
			g.writeSSEEvent(w, ev.Name, ev.Payload)
			flusher.Flush()
		}
	}
}
