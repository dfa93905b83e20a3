// ABOUTME: Builds unread_count_update events after a change to a conversation's unread set
// ABOUTME: One global badge update, plus per-agent updates for the assignees whose view changed

package unread

import (
	"context"
	"fmt"

	"github.com/2389/inbox-gateway/internal/events"
	"github.com/2389/inbox-gateway/internal/store"
)

// BadgeEvents returns the unread_count_update events for conv, whose own
// unread count is convUnread. s may be a transaction.
//
// Only the assignee's room gets a personal update. An unassigned
// conversation counts toward every agent's total, and the global event is
// the only signal for that case; clients refetch their own count on it.
func BadgeEvents(ctx context.Context, s store.Store, conv *store.Conversation, convUnread int) ([]*events.Event, error) {
	total, err := s.CountUnread(ctx, store.UnreadScope{})
	if err != nil {
		return nil, fmt.Errorf("counting total unread: %w", err)
	}
	convID := conv.ID
	out := []*events.Event{{
		Name: events.UnreadCountUpdate,
		Room: events.GlobalRoom,
		Payload: events.UnreadCountPayload{
			TotalUnread:        total,
			ConversationID:     &convID,
			ConversationUnread: &convUnread,
		},
	}}

	if conv.AssignedUserID == nil {
		return out, nil
	}
	ev, err := userBadge(ctx, s, *conv.AssignedUserID, convID, convUnread)
	if err != nil {
		return nil, err
	}
	return append(out, ev), nil
}

// AssignmentBadgeEvents returns the unread_count_update events after conv
// moved from previous to its current assignee. Both the old and the new
// assignee get a personal update, since the conversation left one view
// and entered the other. The global total is unchanged but still
// announced so agents seeing unassigned work refetch.
func AssignmentBadgeEvents(ctx context.Context, s store.Store, conv *store.Conversation, previous *int64) ([]*events.Event, error) {
	convID := conv.ID
	convUnread, err := s.CountUnread(ctx, store.UnreadScope{ConversationID: &convID})
	if err != nil {
		return nil, fmt.Errorf("counting conversation unread: %w", err)
	}
	out, err := BadgeEvents(ctx, s, conv, convUnread)
	if err != nil {
		return nil, err
	}
	if previous == nil || (conv.AssignedUserID != nil && *previous == *conv.AssignedUserID) {
		return out, nil
	}
	ev, err := userBadge(ctx, s, *previous, convID, convUnread)
	if err != nil {
		return nil, err
	}
	return append(out, ev), nil
}

func userBadge(ctx context.Context, s store.Store, userID, convID int64, convUnread int) (*events.Event, error) {
	userTotal, err := s.CountUnread(ctx, store.UnreadScope{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("counting user unread: %w", err)
	}
	return &events.Event{
		Name: events.UnreadCountUpdate,
		Room: events.UserRoom(userID),
		Payload: events.UnreadCountPayload{
			TotalUnread:        userTotal,
			ConversationID:     &convID,
			ConversationUnread: &convUnread,
			UserID:             &userID,
		},
	}, nil
}
