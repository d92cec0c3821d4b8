package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/dealership/internal/domain"
	"github.com/splax/dealership/internal/repository"
	"github.com/splax/dealership/pkg/config"
	"github.com/splax/dealership/pkg/crypto"
	jwtpkg "github.com/splax/dealership/pkg/jwt"
)

var (
	// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyRegistered is returned when the username is taken.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrUsernameRequired is returned when registering with an empty username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrPasswordRequired is returned when registering with an empty password.
	ErrPasswordRequired = errors.New("password is required")
	// ErrSessionRevoked is returned for tokens that were logged out.
	ErrSessionRevoked = errors.New("session revoked")
)

// Service handles authentication workflows.
type Service struct {
	users   repository.UserRepository
	revoked RevocationStore
	logger  *slog.Logger
	cfg     config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, revoked RevocationStore, logger *slog.Logger, cfg config.APIConfig) Service {
	if revoked == nil {
		revoked = NewMemoryRevocationStore()
	}
	return Service{users: users, revoked: revoked, logger: logger, cfg: cfg}
}

// Session is an issued login session.
type Session struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// RegisterInput carries the fields accepted on registration.
type RegisterInput struct {
	Username  string `json:"userName"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// Register creates a user and opens a session for it.
func (s Service) Register(ctx context.Context, in RegisterInput) (*domain.User, Session, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, Session{}, ErrUsernameRequired
	}
	if in.Password == "" {
		return nil, Session{}, ErrPasswordRequired
	}
	exists, err := s.users.UsernameExists(ctx, username)
	if err != nil {
		return nil, Session{}, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, Session{}, ErrAlreadyRegistered
	}
	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, Session{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, Session{}, ErrAlreadyRegistered
		}
		return nil, Session{}, fmt.Errorf("create user: %w", err)
	}
	session, err := s.issueSession(user)
	if err != nil {
		return nil, Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, session, nil
}

// Login authenticates a user and opens a session.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, Session, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = comparePassword(unknownUserHash(), password)
			return nil, Session{}, ErrInvalidCredentials
		}
		return nil, Session{}, err
	}
	if err := comparePassword(user.PasswordHash, password); err != nil {
		return nil, Session{}, ErrInvalidCredentials
	}
	if crypto.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}
	session, err := s.issueSession(user)
	if err != nil {
		return nil, Session{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, session, nil
}

var comparePassword = crypto.ComparePassword

// unknownUserHash is compared against on logins for unknown usernames so they
// cost the same bcrypt work as a wrong password.
var unknownUserHash = sync.OnceValue(func() []byte {
	hash, err := crypto.HashPassword(uuid.NewString())
	if err != nil {
		panic(fmt.Sprintf("hash placeholder password: %v", err))
	}
	return hash
})

// rehash upgrades a stored hash to the current cost. Failures leave the old
// hash in place and do not fail the login.
func (s Service) rehash(ctx context.Context, user *domain.User, password string) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		s.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		s.logger.Warn("password rehash not stored", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info("password hash upgraded", "user_id", user.ID)
}

// Logout revokes the session behind token. Unparseable or expired tokens
// have nothing to revoke and are ignored.
func (s Service) Logout(ctx context.Context, token string) error {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.SessionID(), claims.Expiry()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logger.Info("user logged out", "user_id", claims.UserID)
	return nil
}

// Authorize validates a session token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.SessionID())
	if err != nil {
		return nil, nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, nil, ErrSessionRevoked
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

func (s Service) issueSession(user *domain.User) (Session, error) {
	token, claims, err := jwtpkg.GenerateToken(user.ID, user.Username, s.cfg.JWTSecret, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ID: claims.SessionID(), ExpiresAt: claims.Expiry()}, nil
}
