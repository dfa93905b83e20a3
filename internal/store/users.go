// ABOUTME: SQLite persistence for agent users and the activity log
// ABOUTME: Users back bearer-token auth; activity rows record reads, assignments and status changes

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, full_name, role, is_active, created_at, updated_at`

// CreateUser inserts u and sets its ID. Returns ErrDuplicate for a taken email.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.Role == "" {
		u.Role = RoleAgent
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	result, err := s.q.ExecContext(ctx, `
		INSERT INTO users (email, full_name, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		strings.ToLower(u.Email),
		u.FullName,
		string(u.Role),
		u.IsActive,
		formatTime(u.CreatedAt),
		formatTime(u.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	u.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	return scanUser(row)
}

// CountUsers returns the number of user accounts.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// ListUsers returns accounts ordered by ID, optionally filtered by role.
func (s *SQLiteStore) ListUsers(ctx context.Context, role Role) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateUser writes u's mutable fields and bumps UpdatedAt. Returns
// ErrDuplicate when the new email belongs to another account.
func (s *SQLiteStore) UpdateUser(ctx context.Context, u *User) error {
	u.Email = strings.ToLower(u.Email)
	u.UpdatedAt = time.Now().UTC()

	result, err := s.q.ExecContext(ctx, `
		UPDATE users SET email = ?, full_name = ?, role = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, u.Email, u.FullName, string(u.Role), u.IsActive, formatTime(u.UpdatedAt), u.ID)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserStats counts accounts by status and role.
func (s *SQLiteStore) GetUserStats(ctx context.Context) (*UserStats, error) {
	var stats UserStats
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN role = 'admin' THEN 1 ELSE 0 END), 0)
		FROM users
	`).Scan(&stats.Total, &stats.Active, &stats.Admins)
	if err != nil {
		return nil, fmt.Errorf("counting user stats: %w", err)
	}
	stats.Inactive = stats.Total - stats.Active
	stats.Agents = stats.Total - stats.Admins
	return &stats, nil
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var role string
	var createdAt, updatedAt string

	err := row.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &u, nil
}

// LogActivity appends an activity row. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) LogActivity(ctx context.Context, a *ActivityLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(a.Details) > 0 {
		details = string(a.Details)
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO activity_logs (id, user_id, action, entity_type, entity_id, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, nullInt64(a.UserID), a.Action, a.EntityType, a.EntityID, details, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting activity log: %w", err)
	}
	return nil
}

// ListActivity returns an entity's activity, newest first.
func (s *SQLiteStore) ListActivity(ctx context.Context, entityType string, entityID int64, limit int) ([]*ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, details_json, created_at
		FROM activity_logs
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var logs []*ActivityLog
	for rows.Next() {
		var a ActivityLog
		var userID sql.NullInt64
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &userID, &a.Action, &a.EntityType, &a.EntityID, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		a.UserID = int64Ptr(userID)
		if details.Valid {
			a.Details = []byte(details.String)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		logs = append(logs, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity rows: %w", err)
	}
	return logs, nil
}
