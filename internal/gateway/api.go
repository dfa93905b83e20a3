// ABOUTME: HTTP API handlers for conversations, messages, customers and users
// ABOUTME: Shared JSON helpers map service errors onto HTTP status codes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/conversation"
	"github.com/2389/inbox-gateway/internal/readstate"
	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/users"
	"github.com/2389/inbox-gateway/internal/whatsapp"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// SendMessageRequest is the JSON request body for POST /api/messages/send.
type SendMessageRequest struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
}

// AssignRequest is the JSON request body for PATCH /api/conversations/{id}/assign.
// A null userId releases the conversation.
type AssignRequest struct {
	UserID *int64 `json:"userId"`
}

// StatusRequest is the JSON request body for PATCH /api/conversations/{id}/status.
type StatusRequest struct {
	Status store.ConversationStatus `json:"status"`
}

// RenameCustomerRequest is the JSON request body for PATCH /api/customers/{id}.
type RenameCustomerRequest struct {
	Name string `json:"name"`
}

// ProviderErrorResponse is returned with 502 when WhatsApp rejects a call.
type ProviderErrorResponse struct {
	Error           string `json:"error"`
	ProviderStatus  int    `json:"providerStatus"`
	ProviderMessage string `json:"providerMessage"`
}

// sendJSONError sends a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps service errors to status codes. Unknown errors are
// logged and reported as 500 without detail.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *whatsapp.ProviderError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, readstate.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, readstate.ErrInvalidOperation), errors.Is(err, users.ErrConflict):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, conversation.ErrInvalidInput), errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, whatsapp.ErrMediaTooLarge):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &pe):
		g.writeJSON(w, http.StatusBadGateway, ProviderErrorResponse{
			Error:           "whatsapp api error",
			ProviderStatus:  pe.Status,
			ProviderMessage: pe.Message,
		})
	default:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// pathID parses a positive int64 path value.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryID parses an optional positive int64 query parameter.
func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &id, nil
}

// queryLimit parses ?limit=, returning 0 when absent.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

// handleListConversations handles GET /api/conversations?status=&limit=.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := store.ConversationStatus(r.URL.Query().Get("status"))
	convs, err := g.conversation.List(r.Context(), status, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, convs)
}

// handleMyConversations handles GET /api/conversations/mine.
func (g *Gateway) handleMyConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	convs, err := g.conversation.Mine(r.Context(), authCtx.UserID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, convs)
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := g.conversation.Get(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, detail)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages?limit=.
// Messages are returned oldest first.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := g.conversation.Messages(r.Context(), id, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msgs)
}

// handleConversationActivity handles GET /api/conversations/{id}/activity?limit=.
// Entries are returned newest first.
func (g *Gateway) handleConversationActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := g.conversation.Activity(r.Context(), id, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, logs)
}

func (g *Gateway) handleAssignConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := g.conversation.Assign(r.Context(), id, req.UserID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

func (g *Gateway) handleSetConversationStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := g.conversation.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

func (g *Gateway) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := g.conversation.Close(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

func (g *Gateway) handleReopenConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := g.conversation.Reopen(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleSendMessage handles POST /api/messages/send.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	msg, err := g.conversation.SendText(r.Context(), req.ConversationID, req.Content)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, msg)
}

// handleSendMedia handles POST /api/messages/send-media.
func (g *Gateway) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req conversation.MediaRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	req.MediaType = strings.ToLower(strings.TrimSpace(req.MediaType))
	msg, err := g.conversation.SendMedia(r.Context(), req)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, msg)
}

// handleMessageStats handles GET /api/messages/stats. Without ?userId=
// the totals cover every message.
func (g *Gateway) handleMessageStats(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "userId")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := g.conversation.Stats(r.Context(), userID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	customers, err := g.conversation.ListCustomers(r.Context(), limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, customers)
}

func (g *Gateway) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := g.conversation.GetCustomer(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, c)
}

func (g *Gateway) handleRenameCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req RenameCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := g.conversation.RenameCustomer(r.Context(), id, req.Name)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, c)
}

// handleMe handles GET /api/users/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	u, err := g.store.GetUser(r.Context(), authCtx.UserID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, u)
}

// handleLogout handles POST /api/auth/logout by revoking the presented
// token until it would have expired anyway.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	g.verifier.Revoke(authCtx.TokenID, authCtx.ExpiresAt)
	g.logger.Info("token revoked", "user_id", authCtx.UserID, "token_id", authCtx.TokenID)
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
