// ABOUTME: Tests for conversation, message, customer and user HTTP handlers
// ABOUTME: Exercises status codes, JSON shapes and provider error mapping end to end

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/inbox-gateway/internal/store"
	"github.com/2389/inbox-gateway/internal/whatsapp"
)

// ingest posts one inbound text and returns the created conversation.
func (e *testEnv) ingest(t *testing.T, from, id, body string) *store.Conversation {
	t.Helper()
	resp := e.doAs(t, "", http.MethodPost, "/webhook", textWebhook(from, id, body, "Customer "+from))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cust, err := e.store.GetCustomerByPhone(context.Background(), from)
	require.NoError(t, err)
	conv, err := e.store.GetOpenConversation(context.Background(), cust.ID)
	require.NoError(t, err)
	return conv
}

func TestConversations_GetAndMessages(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "first")

	resp := env.do(t, http.MethodGet, "/api/conversations/"+itoa(conv.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[struct {
		ID       int64            `json:"id"`
		Messages []*store.Message `json:"messages"`
	}](t, resp)
	assert.Equal(t, conv.ID, detail.ID)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "first", detail.Messages[0].Content)

	msgs := decode[[]*store.Message](t, env.do(t, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/messages", nil))
	require.Len(t, msgs, 1)
	assert.Equal(t, store.DirectionInbound, msgs[0].Direction)
}

func TestConversations_NotFoundAndBadID(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/conversations/999", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/conversations/abc", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/conversations?status=archived", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/conversations?limit=-1", nil).StatusCode)
}

func TestConversations_AssignAndMine(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")

	mine := decode[[]*store.Conversation](t, env.do(t, http.MethodGet, "/api/conversations/mine", nil))
	assert.Empty(t, mine)

	resp := env.do(t, http.MethodPatch, "/api/conversations/"+itoa(conv.ID)+"/assign", AssignRequest{UserID: &env.user.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assigned := decode[store.Conversation](t, resp)
	require.NotNil(t, assigned.AssignedUserID)
	assert.Equal(t, env.user.ID, *assigned.AssignedUserID)

	mine = decode[[]*store.Conversation](t, env.do(t, http.MethodGet, "/api/conversations/mine", nil))
	require.Len(t, mine, 1)
	assert.Equal(t, conv.ID, mine[0].ID)

	missing := int64(999)
	resp = env.do(t, http.MethodPatch, "/api/conversations/"+itoa(conv.ID)+"/assign", AssignRequest{UserID: &missing})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPatch, "/api/conversations/"+itoa(conv.ID)+"/assign", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decode[store.Conversation](t, resp).AssignedUserID)
}

func TestConversationActivity(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")
	base := "/api/conversations/" + itoa(conv.ID)

	logs := decode[[]*store.ActivityLog](t, env.do(t, http.MethodGet, base+"/activity", nil))
	assert.Empty(t, logs)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, base+"/assign", AssignRequest{UserID: &env.user.ID}).StatusCode)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, base+"/status", StatusRequest{Status: store.ConversationPending}).StatusCode)

	logs = decode[[]*store.ActivityLog](t, env.do(t, http.MethodGet, base+"/activity", nil))
	require.Len(t, logs, 2)
	actions := []string{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []string{"conversation_assigned", "conversation_status_changed"}, actions)
	for _, l := range logs {
		require.NotNil(t, l.UserID)
		assert.Equal(t, env.user.ID, *l.UserID)
		assert.Equal(t, conv.ID, l.EntityID)
	}

	logs = decode[[]*store.ActivityLog](t, env.do(t, http.MethodGet, base+"/activity?limit=1", nil))
	assert.Len(t, logs, 1)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/conversations/999/activity", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, base+"/activity?limit=x", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.doAs(t, "", http.MethodGet, base+"/activity", nil).StatusCode)
}

func TestConversations_StatusCloseReopen(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")
	base := "/api/conversations/" + itoa(conv.ID)

	resp := env.do(t, http.MethodPatch, base+"/status", StatusRequest{Status: store.ConversationPending})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.ConversationPending, decode[store.Conversation](t, resp).Status)

	resp = env.do(t, http.MethodPatch, base+"/status", StatusRequest{Status: "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, base+"/close", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.ConversationClosed, decode[store.Conversation](t, resp).Status)

	resp = env.do(t, http.MethodPost, base+"/reopen", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.ConversationOpen, decode[store.Conversation](t, resp).Status)
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")

	resp := env.do(t, http.MethodPost, "/api/messages/send", SendMessageRequest{ConversationID: conv.ID, Content: "  on its way  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[store.Message](t, resp)
	assert.Equal(t, store.DirectionOutbound, msg.Direction)
	assert.Equal(t, "on its way", msg.Content)
	assert.Equal(t, "wamid.gateway000000000001", msg.ProviderMessageID)
	require.NotNil(t, msg.UserID, "sender is the authenticated agent")
	assert.Equal(t, env.user.ID, *msg.UserID)
	assert.Equal(t, []string{"text:15550000001:on its way"}, env.provider.Sent())
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "bad json", body: `{"conversationId":`, status: http.StatusBadRequest},
		{name: "missing conversation", body: SendMessageRequest{Content: "x"}, status: http.StatusBadRequest},
		{name: "empty content", body: SendMessageRequest{ConversationID: conv.ID, Content: "  "}, status: http.StatusBadRequest},
		{name: "unknown conversation", body: SendMessageRequest{ConversationID: 999, Content: "x"}, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/messages/send", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Empty(t, env.provider.Sent())
}

func TestSendMessage_ProviderError(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")
	env.provider.failWith(&whatsapp.ProviderError{Status: 400, Message: "Recipient phone number not in allowed list"})

	resp := env.do(t, http.MethodPost, "/api/messages/send", SendMessageRequest{ConversationID: conv.ID, Content: "hello"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[ProviderErrorResponse](t, resp)
	assert.Equal(t, 400, body.ProviderStatus)
	assert.Equal(t, "Recipient phone number not in allowed list", body.ProviderMessage)

	msgs := decode[[]*store.Message](t, env.do(t, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/messages", nil))
	assert.Len(t, msgs, 1, "failed send leaves no record")
}

func TestSendMedia(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")

	resp := env.do(t, http.MethodPost, "/api/messages/send-media", map[string]any{
		"conversationId": conv.ID,
		"mediaType":      "Image",
		"mediaUrl":       "https://cdn.example.com/receipt.jpg",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[store.Message](t, resp)
	assert.Equal(t, store.MessageType("image"), msg.Type)
	assert.Equal(t, "[image]", msg.Content)
	assert.Equal(t, "https://cdn.example.com/receipt.jpg", msg.MediaURL)

	resp = env.do(t, http.MethodPost, "/api/messages/send-media", map[string]any{
		"conversationId": conv.ID,
		"mediaType":      "sticker",
		"mediaUrl":       "https://cdn.example.com/x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMedia_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")
	env.provider.failWith(fmt.Errorf("downloading media: %w", whatsapp.ErrMediaTooLarge))

	resp := env.do(t, http.MethodPost, "/api/messages/send-media", map[string]any{
		"conversationId": conv.ID,
		"mediaType":      "video",
		"mediaUrl":       "https://cdn.example.com/huge.mp4",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	msgs := decode[[]*store.Message](t, env.do(t, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/messages", nil))
	assert.Len(t, msgs, 1, "rejected media leaves no record")
}

func TestMessageStats(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")
	env.do(t, http.MethodPost, "/api/messages/send", SendMessageRequest{ConversationID: conv.ID, Content: "hello"})

	stats := decode[store.MessageStats](t, env.do(t, http.MethodGet, "/api/messages/stats", nil))
	assert.Equal(t, store.MessageStats{TotalMessages: 2, SentMessages: 1, ReceivedMessages: 1}, stats)

	mine := decode[store.MessageStats](t, env.do(t, http.MethodGet, "/api/messages/stats?userId="+itoa(env.user.ID), nil))
	assert.Equal(t, 1, mine.SentMessages)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/messages/stats?userId=x", nil).StatusCode)
}

func TestCustomers(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ingest(t, "15550000001", inboundID, "hi")

	list := decode[[]*store.Customer](t, env.do(t, http.MethodGet, "/api/customers", nil))
	require.Len(t, list, 1)

	path := "/api/customers/" + itoa(conv.CustomerID)
	got := decode[store.Customer](t, env.do(t, http.MethodGet, path, nil))
	assert.Equal(t, "15550000001", got.PhoneNumber)

	resp := env.do(t, http.MethodPatch, path, RenameCustomerRequest{Name: " Grace Hopper "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Grace Hopper", decode[store.Customer](t, resp).Name)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, path, RenameCustomerRequest{}).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/customers/999", nil).StatusCode)
}

func TestUsersMe(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/users/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[store.User](t, resp)
	assert.Equal(t, env.user.ID, me.ID)
	assert.Equal(t, "agent@example.com", me.Email)
}

func TestLogout_RevokesToken(t *testing.T) {
	env := newTestEnv(t)
	_, other := env.createUser(t, "other@example.com", store.RoleAgent)

	resp := env.do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token revoked", decode[map[string]string](t, resp)["error"])

	assert.Equal(t, http.StatusOK, env.doAs(t, other, http.MethodGet, "/api/users/me", nil).StatusCode)
}
