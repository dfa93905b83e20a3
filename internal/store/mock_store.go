// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// InTx is not isolated: fn runs against the same maps.
type MockStore struct {
	mu            sync.RWMutex
	nextID        int64
	customers     map[int64]*Customer
	conversations map[int64]*Conversation
	messages      map[int64]*Message
	users         map[int64]*User
	activity      []*ActivityLog
	writes        int // mutating calls, so tests can assert no-op paths
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		customers:     make(map[int64]*Customer),
		conversations: make(map[int64]*Conversation),
		messages:      make(map[int64]*Message),
		users:         make(map[int64]*User),
	}
}

func (m *MockStore) allocID() int64 {
	m.nextID++
	return m.nextID
}

// WriteCount returns the number of mutating calls so far.
func (m *MockStore) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// InTx runs fn directly against the mock.
func (m *MockStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(m)
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// CreateCustomer stores a new customer.
func (m *MockStore) CreateCustomer(ctx context.Context, c *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.customers {
		if existing.PhoneNumber == c.PhoneNumber {
			return ErrDuplicate
		}
	}
	c.ID = m.allocID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
	}
	cp := *c
	m.customers[c.ID] = &cp
	m.writes++
	return nil
}

// GetCustomer retrieves a customer by ID.
func (m *MockStore) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetCustomerByPhone retrieves a customer by phone number.
func (m *MockStore) GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.customers {
		if c.PhoneNumber == phone {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListCustomers returns customers by most recent message.
func (m *MockStore) ListCustomers(ctx context.Context, limit int) ([]*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Customer, 0, len(m.customers))
	for _, c := range m.customers {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].LastMessageAt, out[j].LastMessageAt, out[i].ID, out[j].ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateCustomerName renames a customer.
func (m *MockStore) UpdateCustomerName(ctx context.Context, id int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return ErrNotFound
	}
	c.Name = name
	c.UpdatedAt = time.Now().UTC()
	m.writes++
	return nil
}

// TouchCustomer bumps last_message_at.
func (m *MockStore) TouchCustomer(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	c.LastMessageAt = &t
	c.UpdatedAt = at
	m.writes++
	return nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Status == "" {
		c.Status = ConversationOpen
	}
	c.ID = m.allocID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
	}
	cp := *c
	cp.Customer, cp.AssignedUser = nil, nil
	m.conversations[c.ID] = &cp
	m.writes++
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetOpenConversation returns the customer's newest open conversation.
func (m *MockStore) GetOpenConversation(ctx context.Context, customerID int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Conversation
	for _, c := range m.conversations {
		if c.CustomerID != customerID || c.Status != ConversationOpen {
			continue
		}
		if found == nil || c.ID > found.ID {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

// ListConversations returns filtered conversations by most recent message.
func (m *MockStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, c := range m.conversations {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.AssignedUserID != nil && (c.AssignedUserID == nil || *c.AssignedUserID != *filter.AssignedUserID) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].LastMessageAt, out[j].LastMessageAt, out[i].ID, out[j].ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateConversationStatus writes a new status.
func (m *MockStore) UpdateConversationStatus(ctx context.Context, id int64, status ConversationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	m.writes++
	return nil
}

// AssignConversation sets or clears the assigned user.
func (m *MockStore) AssignConversation(ctx context.Context, id int64, userID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if userID != nil {
		v := *userID
		c.AssignedUserID = &v
	} else {
		c.AssignedUserID = nil
	}
	c.UpdatedAt = time.Now().UTC()
	m.writes++
	return nil
}

// TouchConversation bumps last_message_at.
func (m *MockStore) TouchConversation(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	c.LastMessageAt = &t
	c.UpdatedAt = at
	m.writes++
	return nil
}

// CreateMessage stores a new message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Direction == DirectionOutbound && msg.ReadAt != nil {
		return fmt.Errorf("outbound message cannot carry read_at")
	}
	if msg.ProviderMessageID != "" {
		for _, existing := range m.messages {
			if existing.ProviderMessageID == msg.ProviderMessageID {
				return ErrDuplicate
			}
		}
	}
	if msg.Type == "" {
		msg.Type = MessageText
	}
	if msg.Status == "" {
		msg.Status = StatusSent
	}
	msg.ID = m.allocID()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	cp.Customer, cp.User = nil, nil
	m.messages[msg.ID] = &cp
	m.writes++
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// GetMessageByProviderID looks a message up by provider id.
func (m *MockStore) GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages {
		if msg.ProviderMessageID == providerID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListConversationMessages returns a conversation's history oldest first.
func (m *MockStore) ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// MarkMessageRead marks an unread inbound message read.
func (m *MockStore) MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || !msg.Unread() {
		return false, nil
	}
	t := at
	msg.ReadAt = &t
	msg.Status = StatusRead
	m.writes++
	return true, nil
}

// MarkMessagesRead marks every unread inbound message in ids read.
func (m *MockStore) MarkMessagesRead(ctx context.Context, ids []int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	for _, id := range ids {
		msg, ok := m.messages[id]
		if !ok || !msg.Unread() {
			continue
		}
		t := at
		msg.ReadAt = &t
		msg.Status = StatusRead
		n++
	}
	m.writes++
	return n, nil
}

// UpdateDeliveryStatus updates an outbound message's status by provider id.
func (m *MockStore) UpdateDeliveryStatus(ctx context.Context, providerID string, status MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ProviderMessageID == providerID && msg.Direction == DirectionOutbound {
			msg.Status = status
			m.writes++
			return nil
		}
	}
	return ErrNotFound
}

// unreadLocked applies the scope predicate. Must be called with mu held.
func (m *MockStore) unreadLocked(scope UnreadScope) []*Message {
	var out []*Message
	for _, msg := range m.messages {
		if scope.Matches(msg, m.conversations[msg.ConversationID]) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

// ListUnread returns unread inbound messages in scope, newest first.
func (m *MockStore) ListUnread(ctx context.Context, scope UnreadScope, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.unreadLocked(scope)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountUnread counts unread inbound messages in scope.
func (m *MockStore) CountUnread(ctx context.Context, scope UnreadScope) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.unreadLocked(scope)), nil
}

// CountUnreadByConversation groups unread counts per conversation.
func (m *MockStore) CountUnreadByConversation(ctx context.Context, scope UnreadScope) (map[int64]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[int64]int)
	for _, msg := range m.unreadLocked(scope) {
		counts[msg.ConversationID]++
	}
	return counts, nil
}

// GetMessageStats counts messages, optionally by sender.
func (m *MockStore) GetMessageStats(ctx context.Context, userID *int64) (*MessageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats MessageStats
	for _, msg := range m.messages {
		if userID != nil && (msg.UserID == nil || *msg.UserID != *userID) {
			continue
		}
		stats.TotalMessages++
		switch msg.Direction {
		case DirectionOutbound:
			stats.SentMessages++
		case DirectionInbound:
			stats.ReceivedMessages++
		}
	}
	return &stats, nil
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u.Email = strings.ToLower(u.Email)
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	if u.Role == "" {
		u.Role = RoleAgent
	}
	u.ID = m.allocID()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	cp := *u
	m.users[u.ID] = &cp
	m.writes++
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// CountUsers returns the number of users.
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// ListUsers returns users ordered by ID, optionally filtered by role.
func (m *MockStore) ListUsers(ctx context.Context, role Role) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*User
	for _, u := range m.users {
		if role != "" && u.Role != role {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateUser overwrites a stored user's mutable fields.
func (m *MockStore) UpdateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	u.Email = strings.ToLower(u.Email)
	for _, other := range m.users {
		if other.ID != u.ID && other.Email == u.Email {
			return ErrDuplicate
		}
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	m.users[u.ID] = &cp
	m.writes++
	return nil
}

// GetUserStats counts users by status and role.
func (m *MockStore) GetUserStats(ctx context.Context) (*UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UserStats
	for _, u := range m.users {
		stats.Total++
		if u.IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if u.Role == RoleAdmin {
			stats.Admins++
		} else {
			stats.Agents++
		}
	}
	return &stats, nil
}

// LogActivity appends an activity row.
func (m *MockStore) LogActivity(ctx context.Context, a *ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	m.activity = append(m.activity, &cp)
	m.writes++
	return nil
}

// ListActivity returns an entity's activity, newest first.
func (m *MockStore) ListActivity(ctx context.Context, entityType string, entityID int64, limit int) ([]*ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ActivityLog
	for i := len(m.activity) - 1; i >= 0; i-- {
		a := m.activity[i]
		if a.EntityType != entityType || a.EntityID != entityID {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// newerFirst orders nullable timestamps descending with nulls last, then by id.
func newerFirst(a, b *time.Time, aID, bID int64) bool {
	switch {
	case a == nil && b == nil:
		return aID > bID
	case a == nil:
		return false
	case b == nil:
		return true
	case a.Equal(*b):
		return aID > bID
	default:
		return a.After(*b)
	}
}
