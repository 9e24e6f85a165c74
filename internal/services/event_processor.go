package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dividi/internal/amqp"
	"dividi/internal/core"
	"dividi/internal/export"
	"dividi/internal/log"
	"dividi/internal/sheets"
	"dividi/internal/store"
)

// EventProcessorConfig tunes the worker side of ledger events.
type EventProcessorConfig struct {
	// ExportTimeout bounds one spreadsheet export (default: 30s)
	ExportTimeout time.Duration
}

// DefaultEventProcessorConfig returns sensible defaults
func DefaultEventProcessorConfig() EventProcessorConfig {
	return EventProcessorConfig{ExportTimeout: 30 * time.Second}
}

// EventProcessor reacts to ledger events: it notifies participants of new
// expenses and, when a writer is configured, refreshes the group's sheet.
// Handling is idempotent so redelivered events are harmless.
type EventProcessor struct {
	store  store.Store
	ledger *LedgerService
	sheets sheets.ReportWriter
	config EventProcessorConfig
	logger *log.Logger
	now    func() time.Time
}

// NewEventProcessor creates a processor. writer may be nil.
func NewEventProcessor(s store.Store, ledger *LedgerService, writer sheets.ReportWriter, config EventProcessorConfig, logger *log.Logger) *EventProcessor {
	if config.ExportTimeout <= 0 {
		config.ExportTimeout = DefaultEventProcessorConfig().ExportTimeout
	}
	return &EventProcessor{
		store:  s,
		ledger: ledger,
		sheets: writer,
		config: config,
		logger: logger.WithComponent(log.ComponentWorker),
		now:    time.Now,
	}
}

// Handle processes one event. An error asks the broker to redeliver it.
func (p *EventProcessor) Handle(ctx context.Context, e *amqp.LedgerEvent) error {
	g, err := p.store.GetGroup(ctx, e.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.WarnContext(ctx, "Dropping event for unknown group",
			log.FieldEventType, e.Type,
			log.FieldGroupID, e.GroupID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}

	// Writes happened in another process, so anything cached here is stale.
	p.ledger.Invalidate(e.GroupID)

	if e.Type == amqp.EventExpenseCreated {
		if err := p.notify(ctx, g, e); err != nil {
			return err
		}
	}
	return p.export(ctx, g)
}

// notify tells every participant but the creator about a new expense.
func (p *EventProcessor) notify(ctx context.Context, g store.Group, e *amqp.LedgerEvent) error {
	actor := "Someone"
	if u, err := p.store.GetUser(ctx, e.ActorID); err == nil {
		actor = u.Username
	}
	amount := core.Money{Cents: e.AmountCents}
	message := fmt.Sprintf("New Expense in %s: %s added a new expense: %s (%s %s)",
		g.Name, actor, e.Description, e.Currency, amount)

	sent := 0
	for _, userID := range e.Participants {
		if userID == e.ActorID {
			continue
		}
		n := store.Notification{
			ID:        notificationID(e.ExpenseID, userID),
			UserID:    userID,
			Message:   message,
			CreatedAt: p.now().UTC(),
		}
		err := p.store.AddNotification(ctx, n)
		switch {
		case errors.Is(err, store.ErrConflict):
			// Already delivered on an earlier attempt.
		case err != nil:
			return fmt.Errorf("notify %s: %w", userID, err)
		default:
			sent++
		}
	}

	p.logger.InfoContext(ctx, "Participants notified",
		log.FieldGroupID, g.ID,
		log.FieldExpenseID, e.ExpenseID,
		"notifications", sent)
	return nil
}

// notificationID is stable per expense and recipient.
func notificationID(expenseID, userID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("dividi:expense/"+expenseID+"/"+userID)).String()
}

func (p *EventProcessor) export(ctx context.Context, g store.Group) error {
	if p.sheets == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.ExportTimeout)
	defer cancel()

	doc, err := p.ledger.Document(ctx, g.ID, Query{})
	if err != nil {
		return fmt.Errorf("build export: %w", err)
	}
	if err := p.sheets.WriteReport(ctx, TabTitle(g), export.Rows(doc)); err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}
	return nil
}

// TabTitle names a group's spreadsheet tab; the id suffix keeps groups with
// equal names apart.
func TabTitle(g store.Group) string {
	id := g.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return g.Name + " " + id
}
