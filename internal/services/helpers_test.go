package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dividi/internal/amqp"
	"dividi/internal/log"
	"dividi/internal/store"
	"dividi/internal/store/memory"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

type fixture struct {
	store     *memory.Store
	groups    *GroupService
	expenses  *ExpenseService
	ledger    *LedgerService
	publisher *recordingPublisher
	group     store.Group
}

// newFixture creates users a, b, c (alice, bob, carol) and a group all three
// belong to.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	for id, name := range map[string]string{"a": "alice", "b": "bob", "c": "carol"} {
		require.NoError(t, s.CreateUser(ctx, store.User{ID: id, Username: name, CreatedAt: t0}))
	}

	f := &fixture{store: s, publisher: &recordingPublisher{}}
	f.ledger = NewLedgerService(s, nil, LedgerConfig{CacheSize: 10, CacheTTL: time.Minute}, log.Discard())
	f.groups = NewGroupService(s, f.ledger, log.Discard())
	f.groups.now = func() time.Time { return t0 }
	f.groups.newID = sequence("g")

	f.expenses = NewExpenseService(s, f.publisher, f.ledger, log.Discard())
	f.expenses.now = func() time.Time { return t0 }
	f.expenses.newID = sequence("e")

	g, err := f.groups.CreateGroup(ctx, "a", "Trip")
	require.NoError(t, err)
	for _, u := range []string{"b", "c"} {
		_, _, err := f.groups.Join(ctx, u, g.InviteCode)
		require.NoError(t, err)
	}
	f.group = g
	return f
}
