// Package storetest is a behavioural suite every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividi/internal/core"
	"dividi/internal/store"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("groups", func(t *testing.T) { testGroups(t, newStore(t)) })
	t.Run("expenses", func(t *testing.T) { testExpenses(t, newStore(t)) })
	t.Run("notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
}

func seed(t *testing.T, s store.Store, users ...string) store.Group {
	t.Helper()
	ctx := context.Background()
	for _, u := range users {
		require.NoError(t, s.CreateUser(ctx, store.User{ID: u, Username: "user-" + u, PasswordHash: []byte("h"), CreatedAt: t0}))
	}
	g := store.Group{ID: "g1", Name: "Trip", InviteCode: "ABCD1234", CreatedBy: users[0], CreatedAt: t0}
	require.NoError(t, s.CreateGroup(ctx, g))
	for i, u := range users {
		require.NoError(t, s.AddMember(ctx, g.ID, u, t0.Add(time.Duration(i)*time.Minute)))
	}
	return g
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := store.User{ID: "u1", Username: "Alice", PasswordHash: []byte("hash"), CreatedAt: t0}
	require.NoError(t, s.CreateUser(ctx, u))
	require.ErrorIs(t, s.CreateUser(ctx, store.User{ID: "u2", Username: "alice", CreatedAt: t0}), store.ErrConflict)

	got, err := s.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, []byte("hash"), got.PasswordHash)

	_, err = s.GetUser(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testGroups(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := seed(t, s, "a", "b")

	got, err := s.GetGroupByInviteCode(ctx, g.InviteCode)
	require.NoError(t, err)
	assert.Equal(t, g.Name, got.Name)

	require.ErrorIs(t, s.AddMember(ctx, g.ID, "a", t0), store.ErrConflict)
	_, err = s.GetGroup(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	other := store.Group{ID: "g2", Name: "Flat", InviteCode: "WXYZ5678", CreatedBy: "a", CreatedAt: t0}
	require.NoError(t, s.CreateGroup(ctx, other))
	require.NoError(t, s.AddMember(ctx, other.ID, "a", t0))
	require.NoError(t, s.DeleteGroup(ctx, other.ID))
	_, err = s.GetGroupByInviteCode(ctx, other.InviteCode)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteGroup(ctx, other.ID), store.ErrNotFound)

	ok, err := s.IsMember(ctx, g.ID, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsMember(ctx, g.ID, "z")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := s.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].UserID)
	assert.Equal(t, "user-b", members[1].Username)

	groups, err := s.ListGroupsForUser(ctx, "b")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g.ID, groups[0].ID)
}

func testExpenses(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := seed(t, s, "a", "b", "c")

	equal := core.Expense{
		ID: "e1", GroupID: g.ID, Description: "Dinner", Date: t0,
		Amount: core.Money{Cents: 9000}, Currency: "USD", Payer: "a",
		Participants: []core.Member{"a", "b", "c"}, Split: core.EqualSplit(),
		CreatedBy: "a", CreatedAt: t0,
	}
	custom := core.Expense{
		ID: "e2", GroupID: g.ID, Description: "Hotel", Date: t0.Add(24 * time.Hour),
		Amount: core.Money{Cents: 10000}, Currency: "EUR", Payer: "b",
		Participants: []core.Member{"a", "b"},
		Split: core.CustomSplit(map[core.Member]decimal.Decimal{
			"a": decimal.RequireFromString("70"),
			"b": decimal.RequireFromString("30"),
		}),
		CreatedBy: "b", CreatedAt: t0,
	}
	require.NoError(t, s.CreateExpense(ctx, equal))
	require.NoError(t, s.CreateExpense(ctx, custom))
	require.ErrorIs(t, s.CreateExpense(ctx, equal), store.ErrConflict)

	got, err := s.GetExpense(ctx, "e2")
	require.NoError(t, err)
	assert.True(t, got.Split.IsCustom())
	p, ok := got.Split.Percent("a")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, core.Currency("EUR"), got.Currency)
	assert.ElementsMatch(t, []core.Member{"a", "b"}, got.Participants)

	list, err := s.ListExpenses(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e2", list[0].ID, "newest first")

	n, err := s.SetSettled(ctx, g.ID, []string{"e1", "missing"}, true, "c", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = s.GetExpense(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, got.Settled)
	assert.Equal(t, core.Member("c"), got.SettledBy)
	assert.True(t, got.SettledAt.Equal(t0.Add(time.Hour)))

	n, err = s.SetSettled(ctx, g.ID, []string{"e1"}, true, "c", t0)
	require.NoError(t, err)
	assert.Zero(t, n, "already settled")

	snap, err := s.Snapshot(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, snap.GroupID)
	assert.Equal(t, []core.Member{"a", "b", "c"}, snap.Members)
	assert.Len(t, snap.Expenses, 2)

	report, err := core.NewEngine().Compute(snap, core.Options{})
	require.NoError(t, err)
	assert.Equal(t, core.Money{Cents: 7000}, report.Balances["b"]["EUR"])
	assert.Empty(t, report.Balances["a"]["USD"], "settled expense excluded")

	require.ErrorIs(t, s.DeleteExpense(ctx, "other", "e1"), store.ErrNotFound)
	require.NoError(t, s.DeleteExpense(ctx, g.ID, "e1"))
	_, err = s.GetExpense(ctx, "e1")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Snapshot(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testNotifications(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "a", "b")

	require.NoError(t, s.AddNotification(ctx, store.Notification{ID: "n1", UserID: "a", Message: "first", CreatedAt: t0}))
	require.NoError(t, s.AddNotification(ctx, store.Notification{ID: "n2", UserID: "a", Message: "second", CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.AddNotification(ctx, store.Notification{ID: "n3", UserID: "b", Message: "other", CreatedAt: t0}))
	require.ErrorIs(t, s.AddNotification(ctx, store.Notification{ID: "n1", UserID: "a", Message: "again", CreatedAt: t0}), store.ErrConflict)

	list, err := s.ListNotifications(ctx, "a", true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Message)

	n, err := s.MarkAllRead(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err = s.ListNotifications(ctx, "a", true)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListNotifications(ctx, "a", false)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.True(t, list[0].Read)
}
