// ABOUTME: SQLite persistence for conversations between a customer and the agent team
// ABOUTME: Handles creation, open-conversation lookup, listing, assignment and status writes

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `id, customer_id, assigned_user_id, status, last_message_at, created_at, updated_at`

// CreateConversation inserts c and sets its ID. Status defaults to open.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.Status == "" {
		c.Status = ConversationOpen
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	result, err := s.q.ExecContext(ctx, `
		INSERT INTO conversations (customer_id, assigned_user_id, status, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		c.CustomerID,
		nullInt64(c.AssignedUserID),
		string(c.Status),
		nullTime(c.LastMessageAt),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading conversation id: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "customer_id", c.CustomerID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetOpenConversation returns the customer's open conversation, newest first
// if more than one slipped in.
func (s *SQLiteStore) GetOpenConversation(ctx context.Context, customerID int64) (*Conversation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE customer_id = ? AND status = 'open'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, customerID)
	return scanConversation(row)
}

// ListConversations returns conversations by most recent message.
func (s *SQLiteStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.AssignedUserID != nil {
		query += ` AND assigned_user_id = ?`
		args = append(args, *filter.AssignedUserID)
	}
	query += ` ORDER BY last_message_at IS NULL, last_message_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// UpdateConversationStatus writes a new status.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id int64, status ConversationStatus) error {
	return s.execOne(ctx, "updating conversation status",
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
}

// AssignConversation sets or clears (nil) the assigned agent.
func (s *SQLiteStore) AssignConversation(ctx context.Context, id int64, userID *int64) error {
	return s.execOne(ctx, "assigning conversation",
		`UPDATE conversations SET assigned_user_id = ?, updated_at = ? WHERE id = ?`,
		nullInt64(userID), formatTime(time.Now()), id)
}

// TouchConversation bumps last_message_at.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "touching conversation",
		`UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(at), id)
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var assigned sql.NullInt64
	var status string
	var lastMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.CustomerID, &assigned, &status, &lastMsg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.AssignedUserID = int64Ptr(assigned)
	c.Status = ConversationStatus(status)
	if c.LastMessageAt, err = parseNullTime(lastMsg); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}
