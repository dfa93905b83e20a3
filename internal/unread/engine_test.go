// ABOUTME: Tests for the unread query engine over the in-memory store
// ABOUTME: Pins assignment scoping, ordering, limits and side-effect freedom

package unread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/inbox-gateway/internal/store"
)

type fixture struct {
	store *store.MockStore
	u1    *store.User
	u2    *store.User
	c     *store.Conversation // assigned to u1
	d     *store.Conversation // unassigned
	e     *store.Conversation // assigned to u2
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMockStore()

	f := &fixture{store: s}
	f.u1 = &store.User{Email: "u1@example.com", FullName: "U1", IsActive: true}
	f.u2 = &store.User{Email: "u2@example.com", FullName: "U2", IsActive: true}
	require.NoError(t, s.CreateUser(ctx, f.u1))
	require.NoError(t, s.CreateUser(ctx, f.u2))

	conv := func(phone string, assignee *int64) *store.Conversation {
		cust := &store.Customer{PhoneNumber: phone, Name: phone}
		require.NoError(t, s.CreateCustomer(ctx, cust))
		c := &store.Conversation{CustomerID: cust.ID, AssignedUserID: assignee}
		require.NoError(t, s.CreateConversation(ctx, c))
		return c
	}
	f.c = conv("c", &f.u1.ID)
	f.d = conv("d", nil)
	f.e = conv("e", &f.u2.ID)
	return f
}

func (f *fixture) inbound(t *testing.T, conv *store.Conversation, at time.Time) *store.Message {
	t.Helper()
	m := &store.Message{
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		Direction:      store.DirectionInbound,
		Content:        "hi",
		CreatedAt:      at,
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), m))
	return m
}

func TestCount_UserScopeIncludesUnassigned(t *testing.T) {
	f := setup(t)
	e := NewEngine(f.store, nil)
	now := time.Now()

	f.inbound(t, f.c, now)
	f.inbound(t, f.d, now)
	f.inbound(t, f.e, now)

	n, err := e.Count(t.Context(), Scope(nil, &f.u1.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.Count(t.Context(), Scope(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = e.Count(t.Context(), Scope(&f.e.ID, &f.u1.ID))
	require.NoError(t, err)
	assert.Zero(t, n, "u1 cannot see u2's conversation")
}

func TestCount_IgnoresReadAndOutbound(t *testing.T) {
	f := setup(t)
	e := NewEngine(f.store, nil)

	m := f.inbound(t, f.d, time.Now())
	require.NoError(t, f.store.CreateMessage(t.Context(), &store.Message{
		ConversationID: f.d.ID, CustomerID: f.d.CustomerID, Direction: store.DirectionOutbound,
	}))
	_, err := f.store.MarkMessageRead(t.Context(), m.ID, time.Now())
	require.NoError(t, err)

	n, err := e.Count(t.Context(), Scope(&f.d.ID, nil))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestList_NewestFirstAndClamped(t *testing.T) {
	f := setup(t)
	e := NewEngine(f.store, nil)
	base := time.Now().Add(-time.Hour)

	older := f.inbound(t, f.c, base)
	newer := f.inbound(t, f.d, base.Add(time.Minute))

	list, err := e.List(t.Context(), Scope(nil, &f.u1.ID), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	list, err = e.List(t.Context(), Scope(nil, nil), 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestList_ZeroLimitMatchesCount(t *testing.T) {
	f := setup(t)
	e := NewEngine(f.store, nil)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < MaxListLimit+5; i++ {
		f.inbound(t, f.d, base.Add(time.Duration(i)*time.Millisecond))
	}

	n, err := e.Count(t.Context(), Scope(nil, nil))
	require.NoError(t, err)
	list, err := e.List(t.Context(), Scope(nil, nil), 0)
	require.NoError(t, err)
	assert.Equal(t, MaxListLimit+5, n)
	assert.Len(t, list, n)

	list, err = e.List(t.Context(), Scope(nil, nil), MaxListLimit+1)
	require.NoError(t, err)
	assert.Len(t, list, MaxListLimit, "explicit limits are clamped")
}

func TestList_EmptyIsNotNil(t *testing.T) {
	f := setup(t)
	e := NewEngine(f.store, nil)

	list, err := e.List(t.Context(), Scope(nil, nil), 10)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestQueries_HaveNoSideEffects(t *testing.T) {
	f := setup(t)
	e := NewEngine(f.store, nil)
	f.inbound(t, f.c, time.Now())
	before := f.store.WriteCount()

	for i := 0; i < 3; i++ {
		_, err := e.Count(t.Context(), Scope(nil, nil))
		require.NoError(t, err)
		_, err = e.List(t.Context(), Scope(nil, &f.u1.ID), 5)
		require.NoError(t, err)
		_, err = e.Summary(t.Context(), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, before, f.store.WriteCount())
}

func TestSummary(t *testing.T) {
	f := setup(t)
	e := NewEngine(f.store, nil)
	now := time.Now()

	f.inbound(t, f.c, now)
	f.inbound(t, f.d, now)
	f.inbound(t, f.d, now)
	f.inbound(t, f.e, now)

	s, err := e.Summary(t.Context(), &f.u1.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalUnread)
	assert.Equal(t, []ConversationCount{
		{ConversationID: f.d.ID, Unread: 2},
		{ConversationID: f.c.ID, Unread: 1},
	}, s.Conversations)

	all, err := e.Summary(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalUnread)
	assert.Len(t, all.Conversations, 3)
}
