// ABOUTME: Conversation service: webhook ingestion, outbound sends and conversation management
// ABOUTME: Record first, then announce; events flush only after the store commits

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/inbox-gateway/internal/auth"
	"github.com/2389/inbox-gateway/internal/dedupe"
	"github.com/2389/inbox-gateway/internal/events"
	"github.com/2389/inbox-gateway/internal/metrics"
	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/unread"
	"github.com/2389/inbox-gateway/internal/whatsapp"
)

var (
	// ErrDuplicate is returned when an inbound delivery was already ingested.
	ErrDuplicate = errors.New("duplicate delivery")

	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Service is the conversation layer between the HTTP handlers, the
// provider and the store.
type Service struct {
	store     store.Store
	provider  whatsapp.Provider
	seen      *dedupe.Cache
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a conversation service. seen and publisher may be nil. Pass
// nil logger for default.
func New(s store.Store, provider whatsapp.Provider, seen *dedupe.Cache, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Service{
		store:     s,
		provider:  provider,
		seen:      seen,
		publisher: publisher,
		logger:    logger.With("component", "conversation"),
		now:       time.Now,
	}
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// WebhookResult tallies what one webhook delivery contained.
type WebhookResult struct {
	Messages   int `json:"messages"`
	Duplicates int `json:"duplicates"`
	Statuses   int `json:"statuses"`
}

// HandleWebhook ingests every message and status callback in p.
func (s *Service) HandleWebhook(ctx context.Context, p *whatsapp.WebhookPayload) (*WebhookResult, error) {
	result := &WebhookResult{}
	for _, in := range p.Inbound() {
		_, err := s.HandleInbound(ctx, in)
		switch {
		case errors.Is(err, ErrDuplicate):
			result.Duplicates++
		case err != nil:
			metrics.RecordWebhook("message", err)
			return result, err
		default:
			result.Messages++
		}
		metrics.RecordWebhook("message", nil)
	}
	for _, st := range p.Statuses() {
		err := s.HandleStatus(ctx, st)
		metrics.RecordWebhook("status", err)
		if err != nil {
			return result, err
		}
		result.Statuses++
	}
	return result, nil
}

// HandleInbound stores one customer message, creating the customer and an
// open conversation as needed. Redeliveries return ErrDuplicate.
func (s *Service) HandleInbound(ctx context.Context, in whatsapp.Inbound) (*store.Message, error) {
	wm := in.Message
	if wm.From == "" {
		return nil, fmt.Errorf("inbound message without sender: %w", ErrInvalidInput)
	}
	if wm.ID != "" && s.seen != nil && s.seen.Check(wm.ID) {
		return nil, ErrDuplicate
	}
	if wm.ID != "" {
		if _, err := s.store.GetMessageByProviderID(ctx, wm.ID); err == nil {
			s.markSeen(wm.ID)
			return nil, ErrDuplicate
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("checking provider id: %w", err)
		}
	}

	at := s.timestamp()
	queue := events.NewQueue(s.publisher)
	var msg *store.Message
	var created bool

	err := s.store.InTx(ctx, func(tx store.Store) error {
		cust, err := s.ensureCustomer(ctx, tx, wm.From, in.ContactName)
		if err != nil {
			return err
		}
		conv, isNew, err := s.ensureConversation(ctx, tx, cust.ID)
		if err != nil {
			return err
		}
		created = isNew

		msg = &store.Message{
			ConversationID:    conv.ID,
			CustomerID:        cust.ID,
			Type:              store.NormalizeMessageType(wm.Type),
			Direction:         store.DirectionInbound,
			Content:           wm.Body(),
			ProviderMessageID: wm.ID,
			Status:            store.StatusDelivered,
			Metadata:          wm.Raw,
			CreatedAt:         at,
		}
		if err := tx.CreateMessage(ctx, msg); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicate
			}
			return fmt.Errorf("recording message: %w", err)
		}
		if err := tx.TouchCustomer(ctx, cust.ID, at); err != nil {
			return fmt.Errorf("touching customer: %w", err)
		}
		if err := tx.TouchConversation(ctx, conv.ID, at); err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
		cust.LastMessageAt = &at
		conv.LastMessageAt = &at
		msg.Customer = cust

		n, err := tx.CountUnread(ctx, store.UnreadScope{ConversationID: &conv.ID})
		if err != nil {
			return fmt.Errorf("counting conversation unread: %w", err)
		}
		if created {
			conv.Customer = cust
			queue.Publish(ctx, &events.Event{Name: events.NewConversation, Room: events.GlobalRoom, Payload: conv})
		}
		s.queueNewMessage(queue, msg, conv, &n)
		badges, err := unread.BadgeEvents(ctx, tx, conv, n)
		if err != nil {
			return err
		}
		queue.Add(badges...)
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		s.markSeen(wm.ID)
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}

	s.markSeen(wm.ID)
	queue.Flush(ctx)
	s.logger.Info("inbound message",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"customer_id", msg.CustomerID,
		"type", msg.Type,
		"new_conversation", created)
	return msg, nil
}

func (s *Service) markSeen(providerID string) {
	if providerID != "" && s.seen != nil {
		s.seen.Mark(providerID)
	}
}

// ensureCustomer resolves the customer by phone or creates one named after
// the contact profile.
func (s *Service) ensureCustomer(ctx context.Context, tx store.Store, phone, name string) (*store.Customer, error) {
	cust, err := tx.GetCustomerByPhone(ctx, phone)
	if err == nil {
		return cust, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up customer: %w", err)
	}

	if name == "" {
		name = phone
	}
	cust = &store.Customer{PhoneNumber: phone, Name: name}
	if err := tx.CreateCustomer(ctx, cust); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Another delivery created it between lookup and insert.
			existing, lookupErr := tx.GetCustomerByPhone(ctx, phone)
			if lookupErr == nil {
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate customer", "lookup_error", lookupErr)
		}
		return nil, fmt.Errorf("creating customer: %w", err)
	}
	s.logger.Debug("customer created", "customer_id", cust.ID)
	return cust, nil
}

// ensureConversation reuses the customer's open conversation or starts a
// new one. Closed and pending conversations are never reopened here.
func (s *Service) ensureConversation(ctx context.Context, tx store.Store, customerID int64) (*store.Conversation, bool, error) {
	conv, err := tx.GetOpenConversation(ctx, customerID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up open conversation: %w", err)
	}
	conv = &store.Conversation{CustomerID: customerID, Status: store.ConversationOpen}
	if err := tx.CreateConversation(ctx, conv); err != nil {
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, true, nil
}

// queueNewMessage queues new_message and conversation_update for the
// conversation room and the global room.
func (s *Service) queueNewMessage(queue *events.Queue, msg *store.Message, conv *store.Conversation, unreadCount *int) {
	update := events.ConversationUpdatePayload{
		ConversationID:      conv.ID,
		UnreadIncomingCount: unreadCount,
		LastMessageAt:       conv.LastMessageAt,
	}
	payload := events.NewMessagePayload{Message: msg}
	queue.Add(
		&events.Event{Name: events.NewMessage, Room: events.ConversationRoom(conv.ID), Payload: payload},
		&events.Event{Name: events.NewMessage, Room: events.GlobalRoom, Payload: payload},
		&events.Event{Name: events.ConversationUpdate, Room: events.ConversationRoom(conv.ID), Payload: update},
		&events.Event{Name: events.ConversationUpdate, Room: events.GlobalRoom, Payload: update},
	)
}

// HandleStatus applies a provider delivery callback to an outbound
// message. Unknown statuses and unknown messages are ignored.
func (s *Service) HandleStatus(ctx context.Context, st whatsapp.Status) error {
	status, ok := deliveryStatus(st.Status)
	if !ok || st.ID == "" {
		s.logger.Debug("ignoring status callback", "status", st.Status, "provider_message_id", st.ID)
		return nil
	}
	err := s.store.UpdateDeliveryStatus(ctx, st.ID, status)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("status for unknown message", "provider_message_id", st.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("updating delivery status: %w", err)
	}
	return nil
}

func deliveryStatus(s string) (store.MessageStatus, bool) {
	switch st := store.MessageStatus(s); st {
	case store.StatusSent, store.StatusDelivered, store.StatusRead, store.StatusFailed:
		return st, true
	}
	return "", false
}

// SendText sends body to the conversation's customer and records it.
func (s *Service) SendText(ctx context.Context, conversationID int64, body string) (*store.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("content is required: %w", ErrInvalidInput)
	}
	return s.send(ctx, conversationID, store.MessageText, body, "", func(phone string) (string, error) {
		return s.provider.SendText(ctx, phone, body)
	})
}

// MediaRequest describes an outbound attachment.
type MediaRequest struct {
	ConversationID int64  `json:"conversationId"`
	MediaType      string `json:"mediaType"`
	MediaURL       string `json:"mediaUrl"`
	Caption        string `json:"caption"`
}

// SendMedia sends an attachment. Without a caption the stored content is
// "[<type>]".
func (s *Service) SendMedia(ctx context.Context, req MediaRequest) (*store.Message, error) {
	mt := store.MessageType(req.MediaType)
	if !mt.IsMedia() {
		return nil, fmt.Errorf("media type %q: %w", req.MediaType, ErrInvalidInput)
	}
	if req.MediaURL == "" {
		return nil, fmt.Errorf("media url is required: %w", ErrInvalidInput)
	}
	content := req.Caption
	if content == "" {
		content = "[" + req.MediaType + "]"
	}
	return s.send(ctx, req.ConversationID, mt, content, req.MediaURL, func(phone string) (string, error) {
		return s.provider.SendMedia(ctx, phone, req.MediaType, req.MediaURL, req.Caption)
	})
}

// send dispatches through the provider first. A provider failure leaves no
// record behind.
func (s *Service) send(ctx context.Context, conversationID int64, mt store.MessageType, content, mediaURL string, dispatch func(phone string) (string, error)) (*store.Message, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	cust, err := s.store.GetCustomer(ctx, conv.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("loading customer: %w", err)
	}

	providerID, err := dispatch(cust.PhoneNumber)
	if err != nil {
		s.logger.Warn("provider send failed",
			"conversation_id", conversationID,
			"type", mt,
			"error", err)
		return nil, err
	}

	at := s.timestamp()
	queue := events.NewQueue(s.publisher)
	msg := &store.Message{
		ConversationID:    conv.ID,
		CustomerID:        cust.ID,
		UserID:            auth.ActorID(ctx),
		Type:              mt,
		Direction:         store.DirectionOutbound,
		Content:           content,
		MediaURL:          mediaURL,
		ProviderMessageID: providerID,
		Status:            store.StatusSent,
		CreatedAt:         at,
	}
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("recording message: %w", err)
		}
		if err := tx.TouchConversation(ctx, conv.ID, at); err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
		conv.LastMessageAt = &at
		s.queueNewMessage(queue, msg, conv, nil)
		return nil
	})
	if err != nil {
		// The customer already has the message; only our record is missing.
		s.logger.Error("sent message not recorded",
			"conversation_id", conversationID,
			"provider_message_id", providerID,
			"error", err)
		return nil, err
	}

	msg.Customer = cust
	queue.Flush(ctx)
	s.logger.Info("outbound message",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"type", mt)
	return msg, nil
}

func (s *Service) loadConversation(ctx context.Context, id int64) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return conv, nil
}

// List returns conversations by most recent message, optionally filtered by status.
func (s *Service) List(ctx context.Context, status store.ConversationStatus, limit int) ([]*store.Conversation, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("status %q: %w", status, ErrInvalidInput)
	}
	convs, err := s.store.ListConversations(ctx, store.ConversationFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return s.hydrateAll(ctx, convs)
}

// Mine returns the conversations assigned to userID.
func (s *Service) Mine(ctx context.Context, userID int64) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, store.ConversationFilter{AssignedUserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("listing assigned conversations: %w", err)
	}
	return s.hydrateAll(ctx, convs)
}

// Detail is a conversation with its message history.
type Detail struct {
	*store.Conversation
	Messages []*store.Message `json:"messages"`
}

// Get returns a conversation with its customer, assignee and messages.
func (s *Service) Get(ctx context.Context, id int64) (*Detail, error) {
	conv, err := s.loadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, conv, nil); err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	return &Detail{Conversation: conv, Messages: msgs}, nil
}

// Messages returns a conversation's history oldest first. A positive limit
// keeps only the most recent messages.
func (s *Service) Messages(ctx context.Context, conversationID int64, limit int) ([]*store.Message, error) {
	if _, err := s.loadConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListConversationMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return msgs, nil
}

// MaxActivityLimit caps an Activity page.
const MaxActivityLimit = 500

// Activity returns the conversation's activity log, newest first. limit
// <= 0 returns the most recent 100 entries.
func (s *Service) Activity(ctx context.Context, conversationID int64, limit int) ([]*store.ActivityLog, error) {
	if _, err := s.loadConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	logs, err := s.store.ListActivity(ctx, "conversation", conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	if logs == nil {
		logs = []*store.ActivityLog{}
	}
	return logs, nil
}

// Assign hands the conversation to userID, or releases it when userID is nil.
func (s *Service) Assign(ctx context.Context, id int64, userID *int64) (*store.Conversation, error) {
	conv, err := s.loadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		user, err := s.store.GetUser(ctx, *userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", *userID, store.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("loading user: %w", err)
		}
		if !user.IsActive {
			return nil, fmt.Errorf("user %d is inactive: %w", *userID, ErrInvalidInput)
		}
	}

	previous := conv.AssignedUserID
	queue := events.NewQueue(s.publisher)
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.AssignConversation(ctx, id, userID); err != nil {
			return fmt.Errorf("assigning conversation: %w", err)
		}
		conv.AssignedUserID = userID
		update := events.ConversationUpdatePayload{ConversationID: id, AssignedUserID: userID}
		queue.Add(
			&events.Event{Name: events.ConversationUpdate, Room: events.ConversationRoom(id), Payload: update},
			&events.Event{Name: events.ConversationUpdate, Room: events.GlobalRoom, Payload: update},
		)
		badges, err := unread.AssignmentBadgeEvents(ctx, tx, conv, previous)
		if err != nil {
			return err
		}
		queue.Add(badges...)
		return logActivity(ctx, tx, "conversation_assigned", id, map[string]any{"assignedUserId": userID})
	})
	if err != nil {
		return nil, err
	}
	queue.Flush(ctx)
	s.logger.Info("conversation assigned", "conversation_id", id, "user_id", userID)

	if err := s.hydrate(ctx, conv, nil); err != nil {
		return nil, err
	}
	return conv, nil
}

// SetStatus overrides the conversation status. The next read recomputes
// it from unread state.
func (s *Service) SetStatus(ctx context.Context, id int64, status store.ConversationStatus) (*store.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("status %q: %w", status, ErrInvalidInput)
	}
	conv, err := s.loadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status == status {
		if err := s.hydrate(ctx, conv, nil); err != nil {
			return nil, err
		}
		return conv, nil
	}

	previous := conv.Status
	queue := events.NewQueue(s.publisher)
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateConversationStatus(ctx, id, status); err != nil {
			return fmt.Errorf("updating conversation status: %w", err)
		}
		conv.Status = status
		st := status
		queue.Add(events.ConversationUpdated(events.ConversationUpdatePayload{ConversationID: id, Status: &st})...)
		return logActivity(ctx, tx, "conversation_status_changed", id, map[string]any{
			"from": previous,
			"to":   status,
		})
	})
	if err != nil {
		return nil, err
	}
	queue.Flush(ctx)
	metrics.RecordStatusTransition(string(status))
	s.logger.Info("conversation status changed", "conversation_id", id, "from", previous, "to", status)

	if err := s.hydrate(ctx, conv, nil); err != nil {
		return nil, err
	}
	return conv, nil
}

// Close marks the conversation closed.
func (s *Service) Close(ctx context.Context, id int64) (*store.Conversation, error) {
	return s.SetStatus(ctx, id, store.ConversationClosed)
}

// Reopen marks the conversation open.
func (s *Service) Reopen(ctx context.Context, id int64) (*store.Conversation, error) {
	return s.SetStatus(ctx, id, store.ConversationOpen)
}

// Stats summarizes message volume, for one agent when userID is set.
func (s *Service) Stats(ctx context.Context, userID *int64) (*store.MessageStats, error) {
	stats, err := s.store.GetMessageStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading message stats: %w", err)
	}
	return stats, nil
}

// hydrate attaches customer and assignee. users caches lookups across a list.
func (s *Service) hydrate(ctx context.Context, conv *store.Conversation, users map[int64]*store.User) error {
	cust, err := s.store.GetCustomer(ctx, conv.CustomerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading customer: %w", err)
	}
	conv.Customer = cust

	conv.AssignedUser = nil
	if conv.AssignedUserID == nil {
		return nil
	}
	if u, ok := users[*conv.AssignedUserID]; ok {
		conv.AssignedUser = u
		return nil
	}
	user, err := s.store.GetUser(ctx, *conv.AssignedUserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading assignee: %w", err)
	}
	if users != nil {
		users[*conv.AssignedUserID] = user
	}
	conv.AssignedUser = user
	return nil
}

func (s *Service) hydrateAll(ctx context.Context, convs []*store.Conversation) ([]*store.Conversation, error) {
	users := make(map[int64]*store.User)
	for _, c := range convs {
		if err := s.hydrate(ctx, c, users); err != nil {
			return nil, err
		}
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}
	return convs, nil
}

func logActivity(ctx context.Context, tx store.Store, action string, conversationID int64, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding activity details: %w", err)
	}
	if err := tx.LogActivity(ctx, &store.ActivityLog{
		UserID:     auth.ActorID(ctx),
		Action:     action,
		EntityType: "conversation",
		EntityID:   conversationID,
		Details:    data,
	}); err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}
