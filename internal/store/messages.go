// ABOUTME: SQLite persistence for chat messages and unread queries
// ABOUTME: Read markers are set with guarded single-statement updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `m.id, m.conversation_id, m.customer_id, m.user_id, m.message_type, m.direction,
	m.content, m.media_url, m.provider_message_id, m.status, m.read_at, m.metadata_json, m.created_at`

// CreateMessage inserts m and sets its ID. Outbound messages may not carry ReadAt.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.Direction == DirectionOutbound && m.ReadAt != nil {
		return fmt.Errorf("outbound message cannot carry read_at")
	}
	if m.Type == "" {
		m.Type = MessageText
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var metadata any
	if len(m.Metadata) > 0 {
		metadata = string(m.Metadata)
	}

	result, err := s.q.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, customer_id, user_id, message_type, direction, content,
			media_url, provider_message_id, status, read_at, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ConversationID,
		m.CustomerID,
		nullInt64(m.UserID),
		string(m.Type),
		string(m.Direction),
		m.Content,
		nullString(m.MediaURL),
		nullString(m.ProviderMessageID),
		string(m.Status),
		nullTime(m.ReadAt),
		metadata,
		formatTime(m.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	m.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message id: %w", err)
	}

	s.logger.Debug("saved message", "id", m.ID, "conversation_id", m.ConversationID, "direction", m.Direction)
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, id)
	return scanMessage(row)
}

// GetMessageByProviderID looks a message up by the provider's message id.
func (s *SQLiteStore) GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.provider_message_id = ?`, providerID)
	return scanMessage(row)
}

// ListConversationMessages returns a conversation's history oldest first.
// With a positive limit only the most recent `limit` messages are returned.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		query = `
			SELECT * FROM (
				SELECT ` + messageColumns + ` FROM messages m
				WHERE m.conversation_id = ?
				ORDER BY m.created_at DESC, m.id DESC
				LIMIT ?
			) ORDER BY created_at ASC, id ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT ` + messageColumns + ` FROM messages m
			WHERE m.conversation_id = ?
			ORDER BY m.created_at ASC, m.id ASC
		`
		args = []any{conversationID}
	}

	return s.queryMessages(ctx, query, args...)
}

// MarkMessageRead sets status=read and read_at when the message is an
// unread inbound message. Reports whether a row changed.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE messages SET status = 'read', read_at = ?
		WHERE id = ? AND direction = 'inbound' AND read_at IS NULL
	`, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("marking message read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkMessagesRead applies one timestamp to every unread inbound message in ids.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE messages SET status = 'read', read_at = ?
		WHERE id IN (`+placeholders+`) AND direction = 'inbound' AND read_at IS NULL
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk marking messages read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// UpdateDeliveryStatus records a provider status callback. Inbound
// messages are left alone since their status tracks agent reads.
func (s *SQLiteStore) UpdateDeliveryStatus(ctx context.Context, providerID string, status MessageStatus) error {
	return s.execOne(ctx, "updating delivery status",
		`UPDATE messages SET status = ? WHERE provider_message_id = ? AND direction = 'outbound'`,
		string(status), providerID)
}

// ListUnread returns unread inbound messages in scope, newest first.
func (s *SQLiteStore) ListUnread(ctx context.Context, scope UnreadScope, limit int) ([]*Message, error) {
	where, args := scope.where()
	query := `SELECT ` + messageColumns + `
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE ` + where + `
		ORDER BY m.created_at DESC, m.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMessages(ctx, query, args...)
}

// CountUnread counts unread inbound messages in scope.
func (s *SQLiteStore) CountUnread(ctx context.Context, scope UnreadScope) (int, error) {
	where, args := scope.where()
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return n, nil
}

// CountUnreadByConversation groups unread counts per conversation.
// Conversations with nothing unread are absent from the map.
func (s *SQLiteStore) CountUnreadByConversation(ctx context.Context, scope UnreadScope) (map[int64]int, error) {
	where, args := scope.where()
	rows, err := s.q.QueryContext(ctx, `
		SELECT m.conversation_id, COUNT(*)
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE `+where+`
		GROUP BY m.conversation_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("counting unread by conversation: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var convID int64
		var n int
		if err := rows.Scan(&convID, &n); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		counts[convID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unread counts: %w", err)
	}
	return counts, nil
}

// GetMessageStats counts messages, optionally only those attributed to userID.
func (s *SQLiteStore) GetMessageStats(ctx context.Context, userID *int64) (*MessageStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN direction = 'outbound' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'inbound' THEN 1 ELSE 0 END), 0)
		FROM messages`
	var args []any
	if userID != nil {
		query += ` WHERE user_id = ?`
		args = append(args, *userID)
	}

	var stats MessageStats
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&stats.TotalMessages, &stats.SentMessages, &stats.ReceivedMessages); err != nil {
		return nil, fmt.Errorf("querying message stats: %w", err)
	}
	return &stats, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var userID sql.NullInt64
	var msgType, direction, status string
	var mediaURL, providerID, readAt, metadata sql.NullString
	var createdAt string

	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.CustomerID,
		&userID,
		&msgType,
		&direction,
		&m.Content,
		&mediaURL,
		&providerID,
		&status,
		&readAt,
		&metadata,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.UserID = int64Ptr(userID)
	m.Type = MessageType(msgType)
	m.Direction = Direction(direction)
	m.Status = MessageStatus(status)
	m.MediaURL = mediaURL.String
	m.ProviderMessageID = providerID.String
	if metadata.Valid && metadata.String != "" {
		m.Metadata = []byte(metadata.String)
	}
	if m.ReadAt, err = parseNullTime(readAt); err != nil {
		return nil, fmt.Errorf("parsing read_at: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}
