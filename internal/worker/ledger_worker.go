// Package worker consumes ledger events and hands them to the event processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dividi/internal/amqp"
	"dividi/internal/log"
)

// Source delivers ledger events. *amqp.Client implements it.
type Source interface {
	Consume(ctx context.Context, prefetch int, handler amqp.Handler) error
}

// EventHandler reacts to one event. *services.EventProcessor implements it.
type EventHandler interface {
	Handle(ctx context.Context, e *amqp.LedgerEvent) error
}

// Recorder counts consumed events. *metrics.Metrics implements it.
type Recorder interface {
	EventConsumed(eventType string, err error)
}

// LedgerWorker handles ledger events from AMQP until its context ends.
type LedgerWorker struct {
	source   Source
	handler  EventHandler
	recorder Recorder
	prefetch int
	logger   *log.Logger
}

func NewLedgerWorker(source Source, handler EventHandler, recorder Recorder, prefetch int, logger *log.Logger) *LedgerWorker {
	if prefetch < 1 {
		prefetch = 1
	}
	return &LedgerWorker{
		source:   source,
		handler:  handler,
		recorder: recorder,
		prefetch: prefetch,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Run blocks until ctx is cancelled. A cancelled context is not an error.
func (w *LedgerWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Ledger worker started", "prefetch", w.prefetch)
	err := w.source.Consume(ctx, w.prefetch, w.HandleEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume ledger events: %w", err)
	}
	w.logger.InfoContext(ctx, "Ledger worker stopped")
	return nil
}

// HandleEvent processes a single event; returning an error requeues it.
func (w *LedgerWorker) HandleEvent(ctx context.Context, e *amqp.LedgerEvent) error {
	start := time.Now()
	w.logger.DebugContext(ctx, "Processing ledger event",
		log.FieldEventType, e.Type,
		log.FieldGroupID, e.GroupID,
		log.FieldExpenseID, e.ExpenseID)

	err := w.handler.Handle(ctx, e)
	if w.recorder != nil {
		w.recorder.EventConsumed(e.Type, err)
	}
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to process ledger event",
			log.FieldEventType, e.Type,
			log.FieldGroupID, e.GroupID,
			log.FieldError, err)
		return err
	}

	w.logger.InfoContext(ctx, "Processed ledger event",
		log.FieldEventType, e.Type,
		log.FieldGroupID, e.GroupID,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}
