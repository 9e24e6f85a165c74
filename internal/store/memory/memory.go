// Package memory is a volatile Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dividi/internal/core"
	"dividi/internal/store"
)

type membership struct {
	userID   string
	joinedAt time.Time
}

type Store struct {
	mu            sync.RWMutex
	users         map[string]store.User
	usernames     map[string]string
	groups        map[string]store.Group
	invites       map[string]string
	members       map[string][]membership
	expenses      map[string]core.Expense
	notifications []store.Notification
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:     make(map[string]store.User),
		usernames: make(map[string]string),
		groups:    make(map[string]store.Group),
		invites:   make(map[string]string),
		members:   make(map[string][]membership),
		expenses:  make(map[string]core.Expense),
	}
}

func (s *Store) CreateUser(_ context.Context, u store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, ok := s.usernames[key]; ok {
		return fmt.Errorf("user %q: %w", u.Username, store.ErrConflict)
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, store.ErrConflict)
	}
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	s.users[u.ID] = u
	s.usernames[key] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return store.User{}, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	s.mu.RLock()
	id, ok := s.usernames[strings.ToLower(username)]
	s.mu.RUnlock()
	if !ok {
		return store.User{}, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) CreateGroup(_ context.Context, g store.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("group %s: %w", g.ID, store.ErrConflict)
	}
	if _, ok := s.invites[g.InviteCode]; ok {
		return fmt.Errorf("invite code: %w", store.ErrConflict)
	}
	s.groups[g.ID] = g
	s.invites[g.InviteCode] = g.ID
	return nil
}

func (s *Store) GetGroup(_ context.Context, id string) (store.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return store.Group{}, fmt.Errorf("group %s: %w", id, store.ErrNotFound)
	}
	return g, nil
}

func (s *Store) GetGroupByInviteCode(ctx context.Context, code string) (store.Group, error) {
	s.mu.RLock()
	id, ok := s.invites[code]
	s.mu.RUnlock()
	if !ok {
		return store.Group{}, fmt.Errorf("invite %q: %w", code, store.ErrNotFound)
	}
	return s.GetGroup(ctx, id)
}

func (s *Store) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("group %s: %w", id, store.ErrNotFound)
	}
	delete(s.groups, id)
	delete(s.invites, g.InviteCode)
	delete(s.members, id)
	for eid, e := range s.expenses {
		if e.GroupID == id {
			delete(s.expenses, eid)
		}
	}
	return nil
}

func (s *Store) AddMember(_ context.Context, groupID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("group %s: %w", groupID, store.ErrNotFound)
	}
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	for _, m := range s.members[groupID] {
		if m.userID == userID {
			return fmt.Errorf("member %s of %s: %w", userID, groupID, store.ErrConflict)
		}
	}
	s.members[groupID] = append(s.members[groupID], membership{userID: userID, joinedAt: at})
	return nil
}

func (s *Store) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMember(groupID, userID), nil
}

func (s *Store) isMember(groupID, userID string) bool {
	for _, m := range s.members[groupID] {
		if m.userID == userID {
			return true
		}
	}
	return false
}

func (s *Store) ListMembers(_ context.Context, groupID string) ([]store.GroupMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMembers(groupID), nil
}

func (s *Store) listMembers(groupID string) []store.GroupMember {
	out := make([]store.GroupMember, 0, len(s.members[groupID]))
	for _, m := range s.members[groupID] {
		out = append(out, store.GroupMember{
			UserID:   m.userID,
			Username: s.users[m.userID].Username,
			JoinedAt: m.joinedAt,
		})
	}
	return out
}

func (s *Store) ListGroupsForUser(_ context.Context, userID string) ([]store.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Group
	for id, g := range s.groups {
		if s.isMember(id, userID) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) error {
	if err := e.ValidateRecord(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[e.GroupID]; !ok {
		return fmt.Errorf("group %s: %w", e.GroupID, store.ErrNotFound)
	}
	if _, ok := s.expenses[e.ID]; ok {
		return fmt.Errorf("expense %s: %w", e.ID, store.ErrConflict)
	}
	s.expenses[e.ID] = cloneExpense(e)
	return nil
}

func (s *Store) GetExpense(_ context.Context, id string) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.expenses[id]
	if !ok {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, store.ErrNotFound)
	}
	return cloneExpense(e), nil
}

func (s *Store) ListExpenses(_ context.Context, groupID string) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listExpenses(groupID), nil
}

func (s *Store) listExpenses(groupID string) []core.Expense {
	var out []core.Expense
	for _, e := range s.expenses {
		if e.GroupID == groupID {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) SetSettled(_ context.Context, groupID string, ids []string, settled bool, by core.Member, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, id := range ids {
		e, ok := s.expenses[id]
		if !ok || e.GroupID != groupID || e.Settled == settled {
			continue
		}
		e.Settled = settled
		if settled {
			e.SettledAt, e.SettledBy = at, by
		} else {
			e.SettledAt, e.SettledBy = time.Time{}, ""
		}
		s.expenses[id] = e
		changed++
	}
	return changed, nil
}

func (s *Store) DeleteExpense(_ context.Context, groupID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.GroupID != groupID {
		return fmt.Errorf("expense %s: %w", id, store.ErrNotFound)
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) AddNotification(_ context.Context, n store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return fmt.Errorf("notification %s: %w", n.ID, store.ErrConflict)
		}
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]store.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) MarkAllRead(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for i := range s.notifications {
		if s.notifications[i].UserID == userID && !s.notifications[i].Read {
			s.notifications[i].Read = true
			changed++
		}
	}
	return changed, nil
}

// Snapshot copies the group's members and expenses under one read lock.
func (s *Store) Snapshot(_ context.Context, groupID string) (core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.groups[groupID]; !ok {
		return core.Snapshot{}, fmt.Errorf("group %s: %w", groupID, store.ErrNotFound)
	}
	return core.Snapshot{
		GroupID:  groupID,
		Members:  store.MemberIDs(s.listMembers(groupID)),
		Expenses: s.listExpenses(groupID),
	}, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func cloneExpense(e core.Expense) core.Expense {
	e.Participants = append([]core.Member(nil), e.Participants...)
	if e.Split.IsCustom() {
		e.Split = core.CustomSplit(e.Split.Percents())
	}
	return e
}
