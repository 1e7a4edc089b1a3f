package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

const minPasswordLength = 6

// UserService owns credentials and profiles.
type UserService struct {
	db     core.DbClient
	tokens *TokenIssuer
	cost   int
}

func NewUserService(db core.DbClient, tokens *TokenIssuer) *UserService {
	return &UserService{db: db, tokens: tokens, cost: bcrypt.DefaultCost}
}

func invalid(msg string) error {
	return &core.BackendError{Code: core.CodeInvalid, Message: msg}
}

// SignUp creates the credential record and returns a fresh session.
func (s *UserService) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, invalid("password should be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}
	user := &models.AuthUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.db.CreateAuthUser(ctx, user); err != nil {
		if core.IsBackendError(err, core.CodeUniqueViolation) {
			return nil, &core.BackendError{Code: core.CodeConflict, Message: "user already registered"}
		}
		return nil, err
	}
	return s.tokens.Issue(models.SessionUser{ID: user.ID, Email: user.Email})
}

// Login checks the password and returns a fresh session.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.Session, error) {
	user, err := s.db.GetAuthUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, &core.BackendError{Code: core.CodeUnauthorized, Message: "invalid login credentials"}
	}
	return s.tokens.Issue(models.SessionUser{ID: user.ID, Email: user.Email})
}

// UpsertProfile writes the caller's own profile row.
func (s *UserService) UpsertProfile(ctx context.Context, caller models.SessionUser, p models.ProfileUpsert) error {
	if p.ID != caller.ID {
		return &core.BackendError{Code: core.CodeForbidden, Message: "profiles can only be written by their owner"}
	}
	if p.Email == "" {
		p.Email = caller.Email
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}
	return s.db.UpsertProfile(ctx, p)
}

func (s *UserService) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	return s.db.ListProfiles(ctx)
}

// Bootstrap creates missing tables.
func (s *UserService) Bootstrap(ctx context.Context) error {
	if s.db == nil {
		return errors.New("no database configured")
	}
	return s.db.Bootstrap(ctx)
}
