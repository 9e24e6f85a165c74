package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dividi/internal/amqp"
	"dividi/internal/core"
	"dividi/internal/log"
	"dividi/internal/store"
)

// EventPublisher hands ledger events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, e *amqp.LedgerEvent) error
}

// Invalidator drops cached reports of a group after a write.
type Invalidator interface {
	Invalidate(groupID string)
}

// NewExpense is a validated-at-the-boundary request to record an expense.
type NewExpense struct {
	GroupID     string
	Description string
	Amount      core.Money
	Currency    core.Currency
	Date        time.Time
	// Payer defaults to the acting user.
	Payer core.Member
	// Participants defaults to every member of the group.
	Participants []core.Member
	Split        core.SplitMode
}

// ExpenseService records expenses in the store and announces changes on the
// broker. The store is the source of truth: publish failures are logged and
// never fail the request.
type ExpenseService struct {
	store       store.Store
	publisher   EventPublisher
	invalidator Invalidator
	logger      *log.Logger
	events      *log.StructuredLogger
	now         func() time.Time
	newID       func() string

	// OnPublish, when set, observes every publish attempt.
	OnPublish func(eventType string, err error)
}

func NewExpenseService(s store.Store, publisher EventPublisher, invalidator Invalidator, logger *log.Logger) *ExpenseService {
	logger = logger.WithComponent(log.ComponentExpense)
	return &ExpenseService{
		store:       s,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// CreateExpense validates and stores an expense on behalf of actor, who must
// belong to the group like the payer and every participant.
func (s *ExpenseService) CreateExpense(ctx context.Context, actor string, in NewExpense) (core.Expense, error) {
	members, err := s.store.ListMembers(ctx, in.GroupID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("list members: %w", err)
	}
	isMember := make(map[core.Member]bool, len(members))
	for _, m := range store.MemberIDs(members) {
		isMember[m] = true
	}
	if !isMember[core.Member(actor)] {
		return core.Expense{}, ErrNotMember
	}

	now := s.now().UTC()
	e := core.Expense{
		ID:           s.newID(),
		GroupID:      in.GroupID,
		Description:  strings.TrimSpace(in.Description),
		Date:         in.Date,
		Amount:       in.Amount,
		Currency:     in.Currency,
		Payer:        in.Payer,
		Participants: in.Participants,
		Split:        in.Split,
		CreatedBy:    core.Member(actor),
		CreatedAt:    now,
	}
	if e.Payer == "" {
		e.Payer = core.Member(actor)
	}
	if len(e.Participants) == 0 {
		e.Participants = store.MemberIDs(members)
	}
	if e.Date.IsZero() {
		e.Date = now
	}

	if err := e.ValidateRecord(); err != nil {
		return core.Expense{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !isMember[e.Payer] {
		return core.Expense{}, fmt.Errorf("%w: payer %s is not a group member", ErrInvalidInput, e.Payer)
	}
	for _, p := range e.Participants {
		if !isMember[p] {
			return core.Expense{}, fmt.Errorf("%w: participant %s is not a group member", ErrInvalidInput, p)
		}
	}

	if err := s.store.CreateExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	s.invalidate(e.GroupID)
	s.events.LogExpenseCreated(ctx, e.GroupID, e.ID, e.Amount.Cents, string(e.Currency))

	participants := make([]string, len(e.Participants))
	for i, p := range e.Participants {
		participants[i] = string(p)
	}
	s.publish(ctx, &amqp.LedgerEvent{
		Type:         amqp.EventExpenseCreated,
		GroupID:      e.GroupID,
		ExpenseID:    e.ID,
		ActorID:      actor,
		Description:  e.Description,
		AmountCents:  e.Amount.Cents,
		Currency:     string(e.Currency),
		Participants: participants,
		Timestamp:    now,
	})
	return e, nil
}

// ListExpenses returns the group's expenses, newest first.
func (s *ExpenseService) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, groupID)
}

// SetSettled marks expenses of the group settled or outstanding again and
// returns how many changed. Ids of other groups are ignored.
func (s *ExpenseService) SetSettled(ctx context.Context, actor, groupID string, ids []string, settled bool) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no expense ids", ErrInvalidInput)
	}
	now := s.now().UTC()
	n, err := s.store.SetSettled(ctx, groupID, ids, settled, core.Member(actor), now)
	if err != nil {
		return 0, fmt.Errorf("settle expenses: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	s.invalidate(groupID)

	s.logger.InfoContext(ctx, "Expenses settlement state changed",
		log.FieldOperation, log.OpSettle,
		log.FieldGroupID, groupID,
		log.FieldUserID, actor,
		"settled", settled,
		"changed", n)

	s.publish(ctx, &amqp.LedgerEvent{
		Type:       amqp.EventExpenseSettled,
		GroupID:    groupID,
		ExpenseIDs: ids,
		ActorID:    actor,
		Settled:    settled,
		Timestamp:  now,
	})
	return n, nil
}

// DeleteExpense removes an expense of the group.
func (s *ExpenseService) DeleteExpense(ctx context.Context, actor, groupID, id string) error {
	if err := s.store.DeleteExpense(ctx, groupID, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	s.invalidate(groupID)

	s.logger.InfoContext(ctx, "Expense deleted",
		log.FieldGroupID, groupID,
		log.FieldExpenseID, id,
		log.FieldUserID, actor)

	s.publish(ctx, &amqp.LedgerEvent{
		Type:      amqp.EventExpenseDeleted,
		GroupID:   groupID,
		ExpenseID: id,
		ActorID:   actor,
		Timestamp: s.now().UTC(),
	})
	return nil
}

func (s *ExpenseService) invalidate(groupID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(groupID)
	}
}

func (s *ExpenseService) publish(ctx context.Context, e *amqp.LedgerEvent) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping event", log.FieldEventType, e.Type)
		return
	}
	err := s.publisher.Publish(ctx, e)
	if s.OnPublish != nil {
		s.OnPublish(e.Type, err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldOperation, log.OpPublish,
			log.FieldEventType, e.Type,
			log.FieldGroupID, e.GroupID,
			log.FieldError, err.Error())
	}
}
