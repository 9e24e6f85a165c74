package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividi/internal/amqp"
	"dividi/internal/log"
)

type fakeSource struct {
	events   []*amqp.LedgerEvent
	prefetch int
	errs     []error
	err      error
}

func (s *fakeSource) Consume(ctx context.Context, prefetch int, h amqp.Handler) error {
	s.prefetch = prefetch
	for _, e := range s.events {
		s.errs = append(s.errs, h(ctx, e))
	}
	return s.err
}

type handlerFunc func(ctx context.Context, e *amqp.LedgerEvent) error

func (f handlerFunc) Handle(ctx context.Context, e *amqp.LedgerEvent) error { return f(ctx, e) }

type recorder struct{ calls map[string][]error }

func (r *recorder) EventConsumed(t string, err error) {
	if r.calls == nil {
		r.calls = map[string][]error{}
	}
	r.calls[t] = append(r.calls[t], err)
}

func TestRunDispatchesEvents(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{events: []*amqp.LedgerEvent{
		{Type: amqp.EventExpenseCreated, GroupID: "g1"},
		{Type: amqp.EventExpenseDeleted, GroupID: "g2"},
	}}
	var handled []string
	h := handlerFunc(func(_ context.Context, e *amqp.LedgerEvent) error {
		handled = append(handled, e.GroupID)
		if e.GroupID == "g2" {
			return boom
		}
		return nil
	})
	rec := &recorder{}

	w := NewLedgerWorker(src, h, rec, 0, log.Discard())
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 1, src.prefetch)
	assert.Equal(t, []string{"g1", "g2"}, handled)
	assert.Equal(t, []error{nil, boom}, src.errs)
	assert.Equal(t, []error{nil}, rec.calls[amqp.EventExpenseCreated])
	assert.Equal(t, []error{boom}, rec.calls[amqp.EventExpenseDeleted])
}

func TestRunErrors(t *testing.T) {
	noop := handlerFunc(func(context.Context, *amqp.LedgerEvent) error { return nil })

	w := NewLedgerWorker(&fakeSource{err: context.Canceled}, noop, nil, 5, log.Discard())
	require.NoError(t, w.Run(context.Background()))

	w = NewLedgerWorker(&fakeSource{err: errors.New("dial")}, noop, nil, 5, log.Discard())
	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consume ledger events")
}
