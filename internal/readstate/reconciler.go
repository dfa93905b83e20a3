// ABOUTME: Read-state reconciler: marks messages or whole conversations read and recomputes status
// ABOUTME: Store writes run in one transaction; provider receipts are best-effort; events flush after commit

package readstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/events"
	"github.com/2389/inbox-gateway/internal/metrics"
	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/unread"
	"github.com/2389/inbox-gateway/internal/whatsapp"
)

var (
	// ErrNotFound is returned when the message or conversation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation is returned for reads of agent-sent messages.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Acker sends read receipts upstream.
type Acker interface {
	MarkRead(ctx context.Context, providerMessageID string) error
}

// Reconciler owns read markers and the conversation status derived from them.
type Reconciler struct {
	store     store.Store
	acker     Acker
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a reconciler. acker and publisher may be nil. Pass nil
// logger for default.
func New(s store.Store, acker Acker, publisher events.Publisher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Reconciler{
		store:     s,
		acker:     acker,
		publisher: publisher,
		logger:    logger.With("component", "readstate"),
		now:       time.Now,
	}
}

// timestamp returns now at storage precision, so returned values compare
// equal to what a later read returns.
func (r *Reconciler) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// MarkMessageRead marks one inbound message read. Reading an already-read
// message returns it unchanged with no writes or events.
func (r *Reconciler) MarkMessageRead(ctx context.Context, messageID int64) (*store.Message, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}
	if msg.Direction == store.DirectionOutbound {
		return nil, fmt.Errorf("message %d is outbound: %w", messageID, ErrInvalidOperation)
	}
	if msg.ReadAt != nil {
		return r.hydrate(ctx, msg)
	}

	// The receipt goes out before the local write and never blocks it.
	if whatsapp.IsValidMessageID(msg.ProviderMessageID) {
		r.ack(ctx, msg.ProviderMessageID)
	}

	at := r.timestamp()
	queue := events.NewQueue(r.publisher)
	var changed bool
	var rc recomputation

	err = r.store.InTx(ctx, func(tx store.Store) error {
		var err error
		changed, err = tx.MarkMessageRead(ctx, messageID, at)
		if err != nil {
			return fmt.Errorf("marking message read: %w", err)
		}
		if !changed {
			// A concurrent reader got there first.
			return nil
		}

		if rc, err = r.recompute(ctx, tx, msg.ConversationID, queue); err != nil {
			return err
		}
		queue.Publish(ctx, &events.Event{
			Name: events.MessageRead,
			Room: events.ConversationRoom(msg.ConversationID),
			Payload: events.MessageReadPayload{
				ConversationID: msg.ConversationID,
				MessageID:      messageID,
				ReadAt:         at,
			},
		})
		if err := r.queueUnreadCounts(ctx, tx, rc, queue); err != nil {
			return err
		}
		return r.logActivity(ctx, tx, "message_read", "message", messageID, map[string]any{
			"conversationId": msg.ConversationID,
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		queue.Flush(ctx)
		metrics.RecordMessagesRead("single", 1)
		if rc.statusChanged {
			metrics.RecordStatusTransition(string(rc.conversation.Status))
		}
		r.logger.Info("message read",
			"message_id", messageID,
			"conversation_id", msg.ConversationID,
			"conversation_unread", rc.unread)
	}

	fresh, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reloading message: %w", err)
	}
	return r.hydrate(ctx, fresh)
}

// ConversationReadResult describes a MarkConversationRead call. ReadAt is
// nil when nothing was unread.
type ConversationReadResult struct {
	ConversationID int64      `json:"conversationId"`
	MessageIDs     []int64    `json:"messageIds"`
	ReadAt         *time.Time `json:"readAt"`
}

// MarkConversationRead marks every unread inbound message in a conversation
// read with one shared timestamp. When userID is set only messages whose
// sender attribution (message.user_id) equals userID are included.
func (r *Reconciler) MarkConversationRead(ctx context.Context, conversationID int64, userID *int64) (*ConversationReadResult, error) {
	if _, err := r.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	result := &ConversationReadResult{ConversationID: conversationID, MessageIDs: []int64{}}
	at := r.timestamp()
	queue := events.NewQueue(r.publisher)
	var targets []*store.Message
	var rc recomputation

	err := r.store.InTx(ctx, func(tx store.Store) error {
		pending, err := tx.ListUnread(ctx, store.UnreadScope{
			ConversationID: &conversationID,
			SenderID:       userID,
		}, 0)
		if err != nil {
			return fmt.Errorf("selecting unread messages: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		ids := make([]int64, len(pending))
		for i, m := range pending {
			ids[i] = m.ID
		}
		if _, err := tx.MarkMessagesRead(ctx, ids, at); err != nil {
			return fmt.Errorf("bulk marking read: %w", err)
		}
		targets = pending

		if rc, err = r.recompute(ctx, tx, conversationID, queue); err != nil {
			return err
		}
		queue.Publish(ctx, &events.Event{
			Name: events.ConversationRead,
			Room: events.ConversationRoom(conversationID),
			Payload: events.ConversationReadPayload{
				ConversationID: conversationID,
				MessageIDs:     ids,
				ReadAt:         at,
			},
		})
		if err := r.queueUnreadCounts(ctx, tx, rc, queue); err != nil {
			return err
		}
		return r.logActivity(ctx, tx, "conversation_read", "conversation", conversationID, map[string]any{
			"messageIds": ids,
		})
	})
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return result, nil
	}

	queue.Flush(ctx)

	// Receipts are per message; one failure doesn't stop the rest.
	for _, m := range targets {
		result.MessageIDs = append(result.MessageIDs, m.ID)
		if whatsapp.IsValidMessageID(m.ProviderMessageID) {
			r.ack(ctx, m.ProviderMessageID)
		}
	}
	result.ReadAt = &at

	metrics.RecordMessagesRead("bulk", len(targets))
	if rc.statusChanged {
		metrics.RecordStatusTransition(string(rc.conversation.Status))
	}
	r.logger.Info("conversation read",
		"conversation_id", conversationID,
		"messages", len(targets),
		"status", rc.conversation.Status)
	return result, nil
}

func (r *Reconciler) ack(ctx context.Context, providerID string) {
	if r.acker == nil {
		return
	}
	if err := r.acker.MarkRead(ctx, providerID); err != nil {
		r.logger.Warn("provider read receipt failed",
			"provider_message_id", providerID,
			"error", err)
	}
}

type recomputation struct {
	conversation  *store.Conversation
	unread        int
	statusChanged bool
}

// recompute derives the conversation status from its remaining unread
// inbound messages and writes it only when it changed.
func (r *Reconciler) recompute(ctx context.Context, tx store.Store, conversationID int64, queue *events.Queue) (recomputation, error) {
	conv, err := tx.GetConversation(ctx, conversationID)
	if err != nil {
		return recomputation{}, fmt.Errorf("loading conversation: %w", err)
	}
	n, err := tx.CountUnread(ctx, store.UnreadScope{ConversationID: &conversationID})
	if err != nil {
		return recomputation{}, fmt.Errorf("counting conversation unread: %w", err)
	}

	rc := recomputation{conversation: conv, unread: n}
	want := StatusFor(n)
	if conv.Status == want {
		return rc, nil
	}

	if err := tx.UpdateConversationStatus(ctx, conversationID, want); err != nil {
		return recomputation{}, fmt.Errorf("updating conversation status: %w", err)
	}
	conv.Status = want
	rc.statusChanged = true

	status := want
	count := n
	queue.Add(events.ConversationUpdated(events.ConversationUpdatePayload{
		ConversationID:      conversationID,
		Status:              &status,
		UnreadIncomingCount: &count,
	})...)
	return rc, nil
}

// StatusFor is the status a conversation with n unread inbound messages should have.
func StatusFor(n int) store.ConversationStatus {
	if n > 0 {
		return store.ConversationOpen
	}
	return store.ConversationClosed
}

// queueUnreadCounts queues the badge updates for the conversation just
// recomputed.
func (r *Reconciler) queueUnreadCounts(ctx context.Context, tx store.Store, rc recomputation, queue *events.Queue) error {
	evs, err := unread.BadgeEvents(ctx, tx, rc.conversation, rc.unread)
	if err != nil {
		return err
	}
	queue.Add(evs...)
	return nil
}

func (r *Reconciler) logActivity(ctx context.Context, tx store.Store, action, entityType string, entityID int64, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding activity details: %w", err)
	}
	if err := tx.LogActivity(ctx, &store.ActivityLog{
		UserID:     auth.ActorID(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    data,
	}); err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}

// hydrate attaches the customer and sending user for display.
func (r *Reconciler) hydrate(ctx context.Context, msg *store.Message) (*store.Message, error) {
	cust, err := r.store.GetCustomer(ctx, msg.CustomerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading customer: %w", err)
	}
	msg.Customer = cust

	if msg.UserID != nil {
		user, err := r.store.GetUser(ctx, *msg.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading user: %w", err)
		}
		msg.User = user
	}
	return msg, nil
}
