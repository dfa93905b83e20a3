// ABOUTME: Live-update event model: names, rooms, payload shapes and the Publisher interface
// ABOUTME: Events are addressed to a conversation room, a user room or the global room

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/inbox-gateway/internal/store"
)

// Event names delivered to clients.
const (
	NewMessage               = "new_message"
	NewConversation          = "new_conversation"
	ConversationUpdate       = "conversation_update"
	ConversationStatusChange = "conversation_status_change"
	MessageRead              = "message_read"
	ConversationRead         = "conversation_read"
	UnreadCountUpdate        = "unread_count_update"
)

// GlobalRoom reaches every connected client.
const GlobalRoom = "global"

// ConversationRoom is the room for clients viewing one conversation.
func ConversationRoom(id int64) string {
	return fmt.Sprintf("conversation_%d", id)
}

// UserRoom is a user's personal room.
func UserRoom(id int64) string {
	return fmt.Sprintf("user_%d", id)
}

// Event is one live update. It marshals to the client wire shape
// {"event": ..., "data": ...}; Room is routing only.
type Event struct {
	Name    string `json:"event"`
	Room    string `json:"-"`
	Payload any    `json:"data"`
}

// Publisher delivers events. Implementations must not block on slow
// consumers and never fail the caller: delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev *Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev *Event)

func (f PublisherFunc) Publish(ctx context.Context, ev *Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, *Event) {})

// NewMessagePayload carries the full message plus its conversation id.
type NewMessagePayload struct {
	*store.Message
}

// ConversationUpdatePayload is sent on status, unread or last-message changes.
// Nil fields were not part of the change.
type ConversationUpdatePayload struct {
	ConversationID      int64                     `json:"conversationId"`
	Status              *store.ConversationStatus `json:"status,omitempty"`
	UnreadIncomingCount *int                      `json:"unreadIncomingCount,omitempty"`
	LastMessageAt       *time.Time                `json:"lastMessageAt,omitempty"`
	AssignedUserID      *int64                    `json:"assignedUserId,omitempty"`
}

type MessageReadPayload struct {
	ConversationID int64     `json:"conversationId"`
	MessageID      int64     `json:"messageId"`
	ReadAt         time.Time `json:"readAt"`
}

type ConversationReadPayload struct {
	ConversationID int64     `json:"conversationId"`
	MessageIDs     []int64   `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

type UnreadCountPayload struct {
	TotalUnread        int    `json:"totalUnread"`
	ConversationID     *int64 `json:"conversationId,omitempty"`
	ConversationUnread *int   `json:"conversationUnread,omitempty"`
	UserID             *int64 `json:"userId,omitempty"`
}

// ConversationUpdated builds the room-scoped update and its global
// status-change twin, in that order.
func ConversationUpdated(p ConversationUpdatePayload) []*Event {
	return []*Event{
		{Name: ConversationUpdate, Room: ConversationRoom(p.ConversationID), Payload: p},
		{Name: ConversationStatusChange, Room: GlobalRoom, Payload: p},
	}
}
