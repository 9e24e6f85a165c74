package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dividi/internal/log"
	"dividi/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidUsername    = errors.New("username must be 3-32 letters, digits, dots, dashes or underscores")
)

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Session is what a successful register or login returns to the client.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      store.User
}

type Service struct {
	users  store.UserStore
	issuer *Issuer
	cost   int
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(users store.UserStore, issuer *Issuer, logger *log.Logger) *Service {
	return &Service{
		users:  users,
		issuer: issuer,
		cost:   bcrypt.DefaultCost,
		logger: logger.WithComponent(log.ComponentAuth),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Register creates a user and logs them in.
func (s *Service) Register(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return Session{}, ErrInvalidUsername
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return Session{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	u := store.User{ID: s.newID(), Username: username, PasswordHash: hash, CreatedAt: s.now().UTC()}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, ErrUsernameTaken
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, u.ID)
	return s.session(u)
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "Failed login", log.FieldUserID, u.ID)
		return Session{}, ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *Service) session(u store.User) (Session, error) {
	token, exp, err := s.issuer.Issue(u.ID, u.Username)
	if err != nil {
		return Session{}, err
	}
	u.PasswordHash = nil
	return Session{Token: token, ExpiresAt: exp, User: u}, nil
}
