// ABOUTME: Store interfaces and data types for inbox-gateway persistence
// ABOUTME: Defines Customer, Conversation, Message, User entities and their accessor interfaces

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique column (phone number, email,
// provider message id) already holds the value being inserted
var ErrDuplicate = errors.New("already exists")

// ConversationStatus is the cached read state of a conversation.
type ConversationStatus string

const (
	ConversationOpen    ConversationStatus = "open"
	ConversationClosed  ConversationStatus = "closed"
	ConversationPending ConversationStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationOpen, ConversationClosed, ConversationPending:
		return true
	}
	return false
}

// Direction tells whether a message came from the customer or an agent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageType mirrors the provider's message kinds.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageAudio    MessageType = "audio"
	MessageTemplate MessageType = "template"
)

// IsMedia reports whether the type carries an attachment.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageDocument, MessageAudio:
		return true
	}
	return false
}

// NormalizeMessageType maps provider types we don't model (stickers,
// reactions, locations) onto text.
func NormalizeMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case MessageText, MessageImage, MessageVideo, MessageDocument, MessageAudio, MessageTemplate:
		return t
	}
	return MessageText
}

// MessageStatus is the delivery/read state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Role is an agent's permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleAgent
}

// Customer is an external chat contact identified by phone number.
type Customer struct {
	ID            int64      `json:"id"`
	PhoneNumber   string     `json:"phoneNumber"`
	Name          string     `json:"name"`
	ProfilePicURL string     `json:"profilePicUrl,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// User is an agent working the inbox.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserStats counts accounts by status and role.
type UserStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Admins   int `json:"admins"`
	Agents   int `json:"agents"`
}

// Conversation is a thread between one customer and the agent team.
// Status reflects whether unread inbound messages exist.
type Conversation struct {
	ID             int64              `json:"id"`
	CustomerID     int64              `json:"customerId"`
	AssignedUserID *int64             `json:"assignedUserId"`
	Status         ConversationStatus `json:"status"`
	LastMessageAt  *time.Time         `json:"lastMessageAt,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`

	// Populated by callers that join for display
	Customer     *Customer `json:"customer,omitempty"`
	AssignedUser *User     `json:"assignedUser,omitempty"`
}

// Message is one chat message. Only inbound messages ever carry ReadAt.
type Message struct {
	ID                int64           `json:"id"`
	ConversationID    int64           `json:"conversationId"`
	CustomerID        int64           `json:"customerId"`
	UserID            *int64          `json:"userId"`
	Type              MessageType     `json:"messageType"`
	Direction         Direction       `json:"direction"`
	Content           string          `json:"content"`
	MediaURL          string          `json:"mediaUrl,omitempty"`
	ProviderMessageID string          `json:"whatsappMessageId,omitempty"`
	Status            MessageStatus   `json:"status"`
	ReadAt            *time.Time      `json:"readAt"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`

	Customer *Customer `json:"customer,omitempty"`
	User     *User     `json:"user,omitempty"`
}

// Unread reports whether the message counts toward unread totals.
func (m *Message) Unread() bool {
	return m.Direction == DirectionInbound && m.ReadAt == nil
}

// ActivityLog records an agent action for audit purposes.
type ActivityLog struct {
	ID         string          `json:"id"`
	UserID     *int64          `json:"userId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   int64           `json:"entityId"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// MessageStats summarizes message volume, optionally for one sender.
type MessageStats struct {
	TotalMessages    int `json:"totalMessages"`
	SentMessages     int `json:"sentMessages"`
	ReceivedMessages int `json:"receivedMessages"`
}

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	Status         ConversationStatus
	AssignedUserID *int64
	Limit          int
}

// CustomerStore owns mutation of customers
type CustomerStore interface {
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]*Customer, error)
	UpdateCustomerName(ctx context.Context, id int64, name string) error
	TouchCustomer(ctx context.Context, id int64, at time.Time) error
}

// ConversationStore owns mutation of conversations
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	GetOpenConversation(ctx context.Context, customerID int64) (*Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error)
	UpdateConversationStatus(ctx context.Context, id int64, status ConversationStatus) error
	AssignConversation(ctx context.Context, id int64, userID *int64) error
	TouchConversation(ctx context.Context, id int64, at time.Time) error
}

// MessageStore owns mutation of messages
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	GetMessageByProviderID(ctx context.Context, providerID string) (*Message, error)
	ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)

	// MarkMessageRead sets status=read and read_at on an unread inbound
	// message. It reports false when nothing changed.
	MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error)
	// MarkMessagesRead applies one read timestamp to every still-unread
	// inbound message in ids as a single statement.
	MarkMessagesRead(ctx context.Context, ids []int64, at time.Time) (int64, error)
	// UpdateDeliveryStatus records a provider status callback for an outbound message.
	UpdateDeliveryStatus(ctx context.Context, providerID string, status MessageStatus) error

	ListUnread(ctx context.Context, scope UnreadScope, limit int) ([]*Message, error)
	CountUnread(ctx context.Context, scope UnreadScope) (int, error)
	CountUnreadByConversation(ctx context.Context, scope UnreadScope) (map[int64]int, error)
	GetMessageStats(ctx context.Context, userID *int64) (*MessageStats, error)
}

// UserStore holds agent accounts
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CountUsers(ctx context.Context) (int, error)
	// ListUsers returns accounts ordered by ID. An empty role lists everyone.
	ListUsers(ctx context.Context, role Role) ([]*User, error)
	// UpdateUser writes u's email, name, role and active flag.
	UpdateUser(ctx context.Context, u *User) error
	GetUserStats(ctx context.Context) (*UserStats, error)
}

// ActivityStore records agent actions
type ActivityStore interface {
	LogActivity(ctx context.Context, a *ActivityLog) error
	ListActivity(ctx context.Context, entityType string, entityID int64, limit int) ([]*ActivityLog, error)
}

// Store is the full persistence surface.
type Store interface {
	CustomerStore
	ConversationStore
	MessageStore
	UserStore
	ActivityStore

	// InTx runs fn against a store whose writes commit together. Nested
	// calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error

	// Close releases any resources held by the store
	Close() error
}
