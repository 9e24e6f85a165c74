package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividi/internal/amqp"
	"dividi/internal/log"
	"dividi/internal/sheets/memory"
)

func createdEvent(t *testing.T, f *fixture) *amqp.LedgerEvent {
	t.Helper()
	addExpense(t, f, "a", 4550, "EUR")
	require.NotEmpty(t, f.publisher.events)
	return f.publisher.events[len(f.publisher.events)-1]
}

func TestEventProcessorNotifiesParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := NewEventProcessor(f.store, f.ledger, nil, EventProcessorConfig{}, log.Discard())
	ev := createdEvent(t, f)
	ev.Description = "Museum"

	require.NoError(t, p.Handle(ctx, ev))
	require.NoError(t, p.Handle(ctx, ev), "redelivery is harmless")

	for _, u := range []string{"b", "c"} {
		list, err := f.store.ListNotifications(ctx, u, true)
		require.NoError(t, err)
		require.Len(t, list, 1, u)
		assert.Equal(t, "New Expense in Trip: alice added a new expense: Museum (EUR 45.50)", list[0].Message)
	}
	list, err := f.store.ListNotifications(ctx, "a", false)
	require.NoError(t, err)
	assert.Empty(t, list, "creator is not notified")
}

func TestEventProcessorExportsGroup(t *testing.T) {
	f := newFixture(t)
	writer := memory.New()
	p := NewEventProcessor(f.store, f.ledger, writer, DefaultEventProcessorConfig(), log.Discard())

	ev := createdEvent(t, f)
	require.NoError(t, p.Handle(context.Background(), ev))

	rows, ok := writer.Rows(TabTitle(f.group))
	require.True(t, ok)
	assert.Equal(t, "Date", rows[0][0])
	assert.Equal(t, "45.50", rows[1][2])

	// A settle event re-exports with the settled flag.
	_, err := f.expenses.SetSettled(context.Background(), "a", f.group.ID, []string{ev.ExpenseID}, true)
	require.NoError(t, err)
	require.NoError(t, p.Handle(context.Background(), f.publisher.events[len(f.publisher.events)-1]))
	rows, _ = writer.Rows(TabTitle(f.group))
	assert.Equal(t, "Yes", rows[1][7])
	assert.Equal(t, 2, writer.Writes())
}

func TestEventProcessorUnknownGroupIsDropped(t *testing.T) {
	f := newFixture(t)
	p := NewEventProcessor(f.store, f.ledger, nil, EventProcessorConfig{}, log.Discard())
	err := p.Handle(context.Background(), &amqp.LedgerEvent{Type: amqp.EventExpenseCreated, GroupID: "gone"})
	require.NoError(t, err)
}

type failingWriter struct{}

func (failingWriter) WriteReport(context.Context, string, [][]string) error {
	return errors.New("quota exceeded")
}

func TestEventProcessorExportFailureRequeues(t *testing.T) {
	f := newFixture(t)
	p := NewEventProcessor(f.store, f.ledger, failingWriter{}, EventProcessorConfig{}, log.Discard())
	err := p.Handle(context.Background(), &amqp.LedgerEvent{Type: amqp.EventExpenseDeleted, GroupID: f.group.ID})
	require.Error(t, err)
}

func TestNotificationIDIsStable(t *testing.T) {
	assert.Equal(t, notificationID("e1", "b"), notificationID("e1", "b"))
	assert.NotEqual(t, notificationID("e1", "b"), notificationID("e1", "c"))
}
