// ABOUTME: SQLite persistence for customers, the external chat contacts
// ABOUTME: Customers are keyed by phone number and bumped on every inbound message

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const customerColumns = `id, phone_number, name, profile_pic_url, last_message_at, created_at, updated_at`

// CreateCustomer inserts c and sets its ID.
// Returns ErrDuplicate if the phone number is already registered.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *Customer) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	result, err := s.q.ExecContext(ctx, `
		INSERT INTO customers (phone_number, name, profile_pic_url, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		c.PhoneNumber,
		c.Name,
		nullString(c.ProfilePicURL),
		nullTime(c.LastMessageAt),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting customer: %w", err)
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading customer id: %w", err)
	}

	s.logger.Debug("created customer", "id", c.ID)
	return nil
}

// GetCustomer retrieves a customer by ID.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	return scanCustomer(row)
}

// GetCustomerByPhone retrieves a customer by phone number.
func (s *SQLiteStore) GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone_number = ?`, phone)
	return scanCustomer(row)
}

// ListCustomers returns customers with the most recent activity first.
func (s *SQLiteStore) ListCustomers(ctx context.Context, limit int) ([]*Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers
		ORDER BY last_message_at IS NULL, last_message_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	var customers []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating customer rows: %w", err)
	}
	return customers, nil
}

// UpdateCustomerName renames a customer.
func (s *SQLiteStore) UpdateCustomerName(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, "updating customer name",
		`UPDATE customers SET name = ?, updated_at = ? WHERE id = ?`,
		name, formatTime(time.Now()), id)
}

// TouchCustomer bumps last_message_at.
func (s *SQLiteStore) TouchCustomer(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "touching customer",
		`UPDATE customers SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(at), id)
}

// execOne runs an UPDATE expected to hit exactly one row.
func (s *SQLiteStore) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCustomer(row rowScanner) (*Customer, error) {
	var c Customer
	var pic, lastMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.PhoneNumber, &c.Name, &pic, &lastMsg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning customer: %w", err)
	}

	c.ProfilePicURL = pic.String
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
