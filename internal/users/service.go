// ABOUTME: Agent account management for admins: create, update, role and status changes
// ABOUTME: Every change is written to the activity log under entity type "user"

package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/store"
)

var (
	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a change collides with existing state:
	// a taken email, or an admin locking themselves out.
	ErrConflict = errors.New("conflict")
)

// CreateRequest is the JSON request body for POST /api/users.
type CreateRequest struct {
	Email    string     `json:"email"`
	FullName string     `json:"fullName"`
	Role     store.Role `json:"role"`
}

// UpdateRequest is the JSON request body for PATCH /api/users/{id}.
// Nil fields are left unchanged.
type UpdateRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"fullName"`
}

// Service validates account changes and records them.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a users service. Pass nil logger for default.
func New(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, logger: logger.With("component", "users")}
}

// Create adds an active account. Role defaults to agent.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return nil, fmt.Errorf("fullName is required: %w", ErrInvalidInput)
	}
	role := req.Role
	if role == "" {
		role = store.RoleAgent
	}
	if !role.Valid() {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidInput)
	}

	u := &store.User{Email: email, FullName: name, Role: role, IsActive: true}
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("email %s already registered: %w", email, ErrConflict)
			}
			return fmt.Errorf("creating user: %w", err)
		}
		return logActivity(ctx, tx, "user_created", u.ID, map[string]any{"email": email, "role": role})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID, "role", role)
	return u, nil
}

// List returns accounts ordered by ID. An empty role lists everyone.
func (s *Service) List(ctx context.Context, role store.Role) ([]*store.User, error) {
	if role != "" && !role.Valid() {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidInput)
	}
	list, err := s.store.ListUsers(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	if list == nil {
		list = []*store.User{}
	}
	return list, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (*store.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

// Stats counts accounts by status and role.
func (s *Service) Stats(ctx context.Context) (*store.UserStats, error) {
	stats, err := s.store.GetUserStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	return stats, nil
}

// Update changes an account's email or name.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*store.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	changes := map[string]any{}
	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return nil, err
		}
		if email != u.Email {
			u.Email = email
			changes["email"] = email
		}
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, fmt.Errorf("fullName is required: %w", ErrInvalidInput)
		}
		if name != u.FullName {
			u.FullName = name
			changes["fullName"] = name
		}
	}
	if len(changes) == 0 {
		return u, nil
	}
	return s.save(ctx, u, "user_updated", changes)
}

// SetRole changes an account's role. Unchanged roles are a no-op. Admins
// cannot demote themselves.
func (s *Service) SetRole(ctx context.Context, id int64, role store.Role) (*store.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidInput)
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == role {
		return u, nil
	}
	if isSelf(ctx, id) {
		return nil, fmt.Errorf("cannot change your own role: %w", ErrConflict)
	}
	u.Role = role
	return s.save(ctx, u, "user_role_changed", map[string]any{"role": role})
}

// ToggleStatus flips an account between active and inactive. Admins
// cannot deactivate themselves.
func (s *Service) ToggleStatus(ctx context.Context, id int64) (*store.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if isSelf(ctx, id) {
		return nil, fmt.Errorf("cannot change your own status: %w", ErrConflict)
	}
	u.IsActive = !u.IsActive
	return s.save(ctx, u, "user_status_changed", map[string]any{"isActive": u.IsActive})
}

func (s *Service) save(ctx context.Context, u *store.User, action string, changes map[string]any) (*store.User, error) {
	err := s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("email %s already registered: %w", u.Email, ErrConflict)
			}
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("user %d: %w", u.ID, store.ErrNotFound)
			}
			return fmt.Errorf("updating user: %w", err)
		}
		return logActivity(ctx, tx, action, u.ID, changes)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user updated", "user_id", u.ID, "action", action)
	return u, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("email is required: %w", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("email %q is not valid: %w", raw, ErrInvalidInput)
	}
	return email, nil
}

func isSelf(ctx context.Context, id int64) bool {
	actor := auth.ActorID(ctx)
	return actor != nil && *actor == id
}

func logActivity(ctx context.Context, tx store.Store, action string, userID int64, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding activity details: %w", err)
	}
	if err := tx.LogActivity(ctx, &store.ActivityLog{
		UserID:     auth.ActorID(ctx),
		Action:     action,
		EntityType: "user",
		EntityID:   userID,
		Details:    data,
	}); err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}
