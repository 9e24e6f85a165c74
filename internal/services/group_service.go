package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dividi/internal/log"
	"dividi/internal/store"
)

var (
	// ErrNotMember is returned when a user acts on a group they do not
	// belong to.
	ErrNotMember = errors.New("not a member of this group")
	// ErrInvalidInput wraps every validation failure of a request.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	maxGroupName       = 100
	inviteCodeLen      = 8
	inviteCodeAttempts = 5
)

// GroupDetails is a group together with its members in join order.
type GroupDetails struct {
	Group   store.Group
	Members []store.GroupMember
}

// GroupService manages groups and memberships.
type GroupService struct {
	store       store.Store
	invalidator Invalidator
	logger      *log.Logger
	now         func() time.Time
	newID       func() string
}

// NewGroupService creates the service. invalidator, when set, is told about
// membership changes so cached reports pick up new members.
func NewGroupService(s store.Store, invalidator Invalidator, logger *log.Logger) *GroupService {
	return &GroupService{
		store:       s,
		invalidator: invalidator,
		logger:      logger.WithComponent(log.ComponentGroup),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// CreateGroup creates a group with a fresh invite code and makes the
// creator its first member.
func (s *GroupService) CreateGroup(ctx context.Context, creatorID, name string) (store.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGroupName {
		return store.Group{}, fmt.Errorf("%w: group name must be 1-%d characters", ErrInvalidInput, maxGroupName)
	}

	now := s.now().UTC()
	g := store.Group{ID: s.newID(), Name: name, CreatedBy: creatorID, CreatedAt: now}

	var err error
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		g.InviteCode = newInviteCode()
		err = s.store.CreateGroup(ctx, g)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		return store.Group{}, fmt.Errorf("create group: %w", err)
	}

	if err := s.store.AddMember(ctx, g.ID, creatorID, now); err != nil {
		if derr := s.store.DeleteGroup(ctx, g.ID); derr != nil {
			s.logger.ErrorContext(ctx, "Failed to remove group without members",
				log.FieldGroupID, g.ID,
				log.FieldError, derr.Error())
		}
		return store.Group{}, fmt.Errorf("add creator: %w", err)
	}

	s.logger.InfoContext(ctx, "Group created",
		log.FieldGroupID, g.ID,
		log.FieldUserID, creatorID)
	return g, nil
}

// newInviteCode takes the first 8 hex digits of a random UUID.
func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:inviteCodeLen])
}

// Join adds the user to the group owning code. Joining twice is not an
// error; joined reports whether the membership is new.
func (s *GroupService) Join(ctx context.Context, userID, code string) (g store.Group, joined bool, err error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return store.Group{}, false, fmt.Errorf("%w: invite code is required", ErrInvalidInput)
	}
	g, err = s.store.GetGroupByInviteCode(ctx, code)
	if err != nil {
		return store.Group{}, false, err
	}

	err = s.store.AddMember(ctx, g.ID, userID, s.now().UTC())
	switch {
	case errors.Is(err, store.ErrConflict):
		return g, false, nil
	case err != nil:
		return store.Group{}, false, fmt.Errorf("join group: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(g.ID)
	}

	s.logger.InfoContext(ctx, "Member joined group",
		log.FieldOperation, log.OpJoin,
		log.FieldGroupID, g.ID,
		log.FieldUserID, userID)
	return g, true, nil
}

// Authorize fails with store.ErrNotFound for unknown groups and ErrNotMember
// when the user does not belong to it.
func (s *GroupService) Authorize(ctx context.Context, groupID, userID string) error {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	ok, err := s.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// Get returns the group and its members, for members only.
func (s *GroupService) Get(ctx context.Context, groupID, userID string) (GroupDetails, error) {
	if err := s.Authorize(ctx, groupID, userID); err != nil {
		return GroupDetails{}, err
	}
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return GroupDetails{}, err
	}
	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return GroupDetails{}, fmt.Errorf("list members: %w", err)
	}
	return GroupDetails{Group: g, Members: members}, nil
}

func (s *GroupService) ListForUser(ctx context.Context, userID string) ([]store.Group, error) {
	return s.store.ListGroupsForUser(ctx, userID)
}
