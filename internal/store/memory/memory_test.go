package memory

import (
	"context"
	"testing"

	"dividi/internal/core"
	"dividi/internal/store"
	"dividi/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestReturnedExpensesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateUser(ctx, store.User{ID: "a", Username: "a"})
	_ = s.CreateGroup(ctx, store.Group{ID: "g", InviteCode: "x"})
	e := core.Expense{
		ID: "e", GroupID: "g", Description: "d", Amount: core.Money{Cents: 100},
		Currency: "USD", Payer: "a", Participants: []core.Member{"a"},
	}
	if err := s.CreateExpense(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetExpense(ctx, "e")
	got.Participants[0] = "mutated"
	again, _ := s.GetExpense(ctx, "e")
	if again.Participants[0] != "a" {
		t.Fatalf("store shares slices with callers: %v", again.Participants)
	}
}

func TestCreateExpenseValidates(t *testing.T) {
	s := New()
	err := s.CreateExpense(context.Background(), core.Expense{ID: "e", GroupID: "g"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}
