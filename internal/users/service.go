package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"geoattend/internal/apperr"
	"geoattend/internal/model"
	"geoattend/internal/queue"
)

// Store persists users and their refresh tokens.
type Store interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	UpdateProfile(ctx context.Context, id, name, gender string, at time.Time) (model.User, error)
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes a live token and returns its owner. A
	// missing, revoked or expired token fails with apperr.ErrUnauthorized.
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (string, error)
}

// Registration is the input of Register.
type Registration struct {
	Name     string
	Email    string
	Password string
	Gender   string
	Role     string
}

const minPasswordLen = 8

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes a student.changed event after every profile edit.
func WithEvents(q queue.Queue) Option { return func(s *Service) { s.events = q } }

// Service manages accounts.
type Service struct {
	store  Store
	cost   int
	log    *zap.Logger
	events queue.Queue
}

// NewService creates a service hashing passwords with bcrypt at cost
// (bcrypt.DefaultCost when zero).
func NewService(store Store, cost int, log *zap.Logger, opts ...Option) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{store: store, cost: cost, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, in Registration, now time.Time) (model.User, error) {
	email := NormalizeEmail(in.Email)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	switch {
	case strings.TrimSpace(in.Name) == "":
		return model.User{}, apperr.Invalid("name", "is required")
	case email == "":
		return model.User{}, apperr.Invalid("email", "is required")
	case len(in.Password) < minPasswordLen:
		return model.User{}, apperr.Invalid("password", "must be at least 8 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.User{}, apperr.Invalid("email", "is not a valid address")
	}
	if role == "" {
		role = model.RoleStudent
	}
	if role != model.RoleStudent && role != model.RoleCR {
		return model.User{}, apperr.Invalid("role", "must be student or cr")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return model.User{}, err
	}
	u, err := s.store.CreateUser(ctx, model.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		Gender:       strings.TrimSpace(in.Gender),
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return model.User{}, err
		}
		return model.User{}, apperr.Store("create user", err)
	}
	s.log.Info("user registered", zap.String("user_id", u.ID), zap.String("role", u.Role))
	return u, nil
}

// Authenticate checks credentials. Unknown email and wrong password both
// fail with apperr.ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return model.User{}, apperr.ErrUnauthorized
		}
		return model.User{}, apperr.Store("get user by email", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return model.User{}, apperr.ErrUnauthorized
	}
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return model.User{}, apperr.NotFound("User")
		}
		return model.User{}, apperr.Store("get user", err)
	}
	return u, nil
}

// UpdateProfile edits name and gender.
func (s *Service) UpdateProfile(ctx context.Context, id, name, gender string, now time.Time) (model.User, error) {
	if strings.TrimSpace(name) == "" {
		return model.User{}, apperr.Invalid("name", "is required")
	}
	u, err := s.store.UpdateProfile(ctx, id, strings.TrimSpace(name), strings.TrimSpace(gender), now.UTC())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return model.User{}, apperr.NotFound("User")
		}
		return model.User{}, apperr.Store("update profile", err)
	}
	if s.events != nil {
		evt := queue.Event{Type: queue.TypeStudentChanged, StudentID: u.ID, At: now.UTC()}
		if err := s.events.Publish(ctx, evt); err != nil {
			s.log.Warn("event publish failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return u, nil
}

// SaveRefreshToken records an issued refresh token.
func (s *Service) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return apperr.Store("save refresh token", s.store.SaveRefreshToken(ctx, userID, token, expiresAt))
}

// ConsumeRefreshToken revokes token and returns the owner for rotation.
func (s *Service) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (model.User, error) {
	userID, err := s.store.ConsumeRefreshToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			return model.User{}, err
		}
		return model.User{}, apperr.Store("consume refresh token", err)
	}
	u, err := s.Get(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return model.User{}, apperr.ErrUnauthorized
	}
	return u, err
}
