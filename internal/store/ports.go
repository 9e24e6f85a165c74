// Package store defines the persistence ports of the ledger service and the
// records that only the application (not the engine) cares about.
package store

import (
	"context"
	"errors"
	"time"

	"dividi/internal/core"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type (
	User struct {
		ID           string
		Username     string
		PasswordHash []byte
		CreatedAt    time.Time
	}

	Group struct {
		ID         string
		Name       string
		InviteCode string
		CreatedBy  string
		CreatedAt  time.Time
	}

	GroupMember struct {
		UserID   string
		Username string
		JoinedAt time.Time
	}

	Notification struct {
		ID        string
		UserID    string
		Message   string
		Read      bool
		CreatedAt time.Time
	}
)

// Ports for persistence adapters.
type (
	UserStore interface {
		// CreateUser fails with ErrConflict when the username is taken.
		CreateUser(ctx context.Context, u User) error
		GetUser(ctx context.Context, id string) (User, error)
		GetUserByUsername(ctx context.Context, username string) (User, error)
	}

	GroupStore interface {
		CreateGroup(ctx context.Context, g Group) error
		GetGroup(ctx context.Context, id string) (Group, error)
		GetGroupByInviteCode(ctx context.Context, code string) (Group, error)
		// DeleteGroup removes the group with its memberships and expenses.
		DeleteGroup(ctx context.Context, id string) error
		// AddMember fails with ErrConflict when the user already belongs to
		// the group.
		AddMember(ctx context.Context, groupID, userID string, at time.Time) error
		IsMember(ctx context.Context, groupID, userID string) (bool, error)
		ListMembers(ctx context.Context, groupID string) ([]GroupMember, error)
		ListGroupsForUser(ctx context.Context, userID string) ([]Group, error)
	}

	ExpenseStore interface {
		CreateExpense(ctx context.Context, e core.Expense) error
		GetExpense(ctx context.Context, id string) (core.Expense, error)
		// ListExpenses returns the group's expenses, newest first.
		ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error)
		// SetSettled flips the settled flag of the listed expenses of the
		// group and returns how many changed.
		SetSettled(ctx context.Context, groupID string, ids []string, settled bool, by core.Member, at time.Time) (int, error)
		DeleteExpense(ctx context.Context, groupID, id string) error
	}

	NotificationStore interface {
		AddNotification(ctx context.Context, n Notification) error
		// ListNotifications returns the user's notifications, newest first.
		ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error)
		MarkAllRead(ctx context.Context, userID string) (int, error)
	}

	// SnapshotReader reads members and expenses of a group as of one point
	// in time, so the engine never sees a half-written ledger.
	SnapshotReader interface {
		Snapshot(ctx context.Context, groupID string) (core.Snapshot, error)
	}

	Store interface {
		UserStore
		GroupStore
		ExpenseStore
		NotificationStore
		SnapshotReader
		Ping(ctx context.Context) error
		Close() error
	}
)

// MemberIDs extracts engine member ids from group members.
func MemberIDs(members []GroupMember) []core.Member {
	out := make([]core.Member, len(members))
	for i, m := range members {
		out[i] = core.Member(m.UserID)
	}
	return out
}
