package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Event types carried on the ledger exchange.
const (
	EventExpenseCreated = "expense.created"
	EventExpenseSettled = "expense.settled"
	EventExpenseDeleted = "expense.deleted"
)

var errMissingGroup = errors.New("event has no group id")

// LedgerEvent is a change to a group's ledger. It carries enough of the
// expense for notifications; consumers that need the full ledger read it
// from the store.
type LedgerEvent struct {
	Type         string    `json:"type"`
	GroupID      string    `json:"group_id"`
	ExpenseID    string    `json:"expense_id,omitempty"`
	ExpenseIDs   []string  `json:"expense_ids,omitempty"`
	ActorID      string    `json:"actor_id"`
	Description  string    `json:"description,omitempty"`
	AmountCents  int64     `json:"amount_cents,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	Settled      bool      `json:"settled,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event and rejects ones no consumer can route.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.GroupID == "" {
		return nil, errMissingGroup
	}
	return &e, nil
}
