// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Checks that the mock keeps the same guards as the SQLite store

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_MarkReadGuards(t *testing.T) {
	m := NewMockStore()
	conv := fixture(t, m, "1", nil)

	in := addMessage(t, m, conv, DirectionInbound, "wamid.1", time.Now())
	out := addMessage(t, m, conv, DirectionOutbound, "wamid.2", time.Now())
	before := m.WriteCount()

	changed, err := m.MarkMessageRead(t.Context(), in.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.MarkMessageRead(t.Context(), in.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = m.MarkMessageRead(t.Context(), out.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, before+1, m.WriteCount())
}

func TestMockStore_UnreadMatchesSQLite(t *testing.T) {
	stores := map[string]Store{
		"mock":   NewMockStore(),
		"sqlite": setupTestStore(t),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			u := &User{Email: "u@example.com", FullName: "U", IsActive: true}
			other := &User{Email: "o@example.com", FullName: "O", IsActive: true}
			require.NoError(t, s.CreateUser(ctx, u))
			require.NoError(t, s.CreateUser(ctx, other))

			mine := fixture(t, s, "a", &u.ID)
			free := fixture(t, s, "b", nil)
			taken := fixture(t, s, "c", &other.ID)

			addMessage(t, s, mine, DirectionInbound, "", time.Now())
			addMessage(t, s, free, DirectionInbound, "", time.Now())
			addMessage(t, s, free, DirectionOutbound, "", time.Now())
			addMessage(t, s, taken, DirectionInbound, "", time.Now())

			n, err := s.CountUnread(ctx, UnreadScope{UserID: &u.ID})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			byConv, err := s.CountUnreadByConversation(ctx, UnreadScope{})
			require.NoError(t, err)
			assert.Len(t, byConv, 3)
		})
	}
}

func TestMockStore_DuplicateProviderID(t *testing.T) {
	m := NewMockStore()
	conv := fixture(t, m, "1", nil)
	addMessage(t, m, conv, DirectionInbound, "wamid.same", time.Now())

	err := m.CreateMessage(t.Context(), &Message{
		ConversationID:    conv.ID,
		CustomerID:        conv.CustomerID,
		Direction:         DirectionInbound,
		ProviderMessageID: "wamid.same",
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}
