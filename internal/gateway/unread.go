// ABOUTME: HTTP handlers for unread queries and read markers
// ABOUTME: Scope comes from conversationId/userId query params; mine=true scopes to the caller

package gateway

import (
	"net/http"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/unread"
)

// UnreadCountResponse is the JSON response for GET /api/unread/count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// MarkConversationReadRequest is the optional body for
// POST /api/conversations/{id}/read. UserID narrows the batch to messages
// attributed to that user.
type MarkConversationReadRequest struct {
	UserID *int64 `json:"userId"`
}

// unreadScope reads ?conversationId=, ?userId= and ?mine=true.
func unreadScope(r *http.Request) (store.UnreadScope, error) {
	convID, err := queryID(r, "conversationId")
	if err != nil {
		return store.UnreadScope{}, err
	}
	userID, err := queryID(r, "userId")
	if err != nil {
		return store.UnreadScope{}, err
	}
	if r.URL.Query().Get("mine") == "true" {
		id := auth.MustFromContext(r.Context()).UserID
		userID = &id
	}
	return unread.Scope(convID, userID), nil
}

func (g *Gateway) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	scope, err := unreadScope(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := g.unread.Count(r.Context(), scope)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, UnreadCountResponse{Count: n})
}

// handleUnreadMessages handles GET /api/unread/messages, newest first.
func (g *Gateway) handleUnreadMessages(w http.ResponseWriter, r *http.Request) {
	scope, err := unreadScope(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := g.unread.List(r.Context(), scope, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msgs)
}

// handleUnreadSummary handles GET /api/unread/summary: badge totals per
// conversation. Scoped like the other unread endpoints, minus conversationId.
func (g *Gateway) handleUnreadSummary(w http.ResponseWriter, r *http.Request) {
	scope, err := unreadScope(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := g.unread.Summary(r.Context(), scope.UserID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, summary)
}

// handleMarkMessageRead handles POST /api/messages/{id}/read.
func (g *Gateway) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := g.reconciler.MarkMessageRead(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msg)
}

// handleMarkConversationRead handles POST /api/conversations/{id}/read.
func (g *Gateway) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req MarkConversationReadRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := g.reconciler.MarkConversationRead(r.Context(), id, req.UserID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}
