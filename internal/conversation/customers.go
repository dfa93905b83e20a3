// ABOUTME: Customer directory operations: list, lookup and rename
// ABOUTME: Customers are created by inbound ingestion, never directly

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/inbox-gateway/internal/store"
)

// ListCustomers returns customers by most recent message.
func (s *Service) ListCustomers(ctx context.Context, limit int) ([]*store.Customer, error) {
	custs, err := s.store.ListCustomers(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	if custs == nil {
		custs = []*store.Customer{}
	}
	return custs, nil
}

// GetCustomer returns one customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*store.Customer, error) {
	cust, err := s.store.GetCustomer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("customer %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading customer: %w", err)
	}
	return cust, nil
}

// RenameCustomer changes a customer's display name.
func (s *Service) RenameCustomer(ctx context.Context, id int64, name string) (*store.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	err := s.store.UpdateCustomerName(ctx, id, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("customer %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("renaming customer: %w", err)
	}
	s.logger.Info("customer renamed", "customer_id", id)
	return s.GetCustomer(ctx, id)
}
