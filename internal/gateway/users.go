// ABOUTME: Admin-only HTTP handlers for agent account management
// ABOUTME: Routes are registered behind RequireAdminHTTP; agents get 403

package gateway

import (
	"net/http"

	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/users"
)

// RoleRequest is the JSON request body for PUT /api/users/{id}/role.
type RoleRequest struct {
	Role store.Role `json:"role"`
}

// handleListUsers handles GET /api/users?role=.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := g.users.List(r.Context(), store.Role(r.URL.Query().Get("role")))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := g.users.Create(r.Context(), req)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, u)
}

func (g *Gateway) handleUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := g.users.Stats(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := g.users.Get(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, u)
}

func (g *Gateway) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req users.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := g.users.Update(r.Context(), id, req)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, u)
}

func (g *Gateway) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req RoleRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := g.users.SetRole(r.Context(), id, req.Role)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, u)
}

// handleToggleUserStatus handles PUT /api/users/{id}/toggle-status.
// Deactivated users are rejected on their next request.
func (g *Gateway) handleToggleUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := g.users.ToggleStatus(r.Context(), id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, u)
}
