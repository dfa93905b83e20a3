// ABOUTME: Unread query engine: counts and lists inbound unread messages by scope
// ABOUTME: Read-only over the store; user scope includes unassigned conversations

package unread

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/inbox-gateway/internal/store"
)

// MaxListLimit caps an explicit List limit. A zero limit is not capped.
const MaxListLimit = 1000

// Engine answers unread queries.
type Engine struct {
	store  store.Store
	logger *slog.Logger
}

// NewEngine creates an engine. Pass nil logger for default.
func NewEngine(s store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		logger: logger.With("component", "unread"),
	}
}

// Scope builds a store.UnreadScope from optional conversation and user ids.
func Scope(conversationID, userID *int64) store.UnreadScope {
	return store.UnreadScope{ConversationID: conversationID, UserID: userID}
}

// Count returns the number of unread inbound messages in scope.
func (e *Engine) Count(ctx context.Context, scope store.UnreadScope) (int, error) {
	n, err := e.store.CountUnread(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// List returns unread inbound messages in scope, newest first. limit <= 0
// returns everything in scope, matching Count; larger limits are clamped
// to MaxListLimit.
func (e *Engine) List(ctx context.Context, scope store.UnreadScope, limit int) ([]*store.Message, error) {
	if limit < 0 {
		limit = 0
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	msgs, err := e.store.ListUnread(ctx, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unread: %w", err)
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return msgs, nil
}

// ConversationCount is one row of a Summary.
type ConversationCount struct {
	ConversationID int64 `json:"conversationId"`
	Unread         int   `json:"unread"`
}

// Summary is the unread badge state for a user (or everyone).
type Summary struct {
	TotalUnread   int                 `json:"totalUnread"`
	Conversations []ConversationCount `json:"conversations"`
}

// Summary returns the total and per-conversation unread counts visible to
// userID, or across all conversations when userID is nil. Conversations
// are ordered by unread count, highest first.
func (e *Engine) Summary(ctx context.Context, userID *int64) (*Summary, error) {
	counts, err := e.store.CountUnreadByConversation(ctx, store.UnreadScope{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("summarizing unread: %w", err)
	}

	s := &Summary{Conversations: make([]ConversationCount, 0, len(counts))}
	for convID, n := range counts {
		s.TotalUnread += n
		s.Conversations = append(s.Conversations, ConversationCount{ConversationID: convID, Unread: n})
	}
	sort.Slice(s.Conversations, func(i, j int) bool {
		a, b := s.Conversations[i], s.Conversations[j]
		if a.Unread != b.Unread {
			return a.Unread > b.Unread
		}
		return a.ConversationID < b.ConversationID
	})
	return s, nil
}
