// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"minijira/api/internal/store"
	"minijira/api/internal/util"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired verification token")
)

// ValidationError wraps a field-level validation failure so callers can
// distinguish bad input from infrastructure errors.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	GetUserByVerificationToken(ctx context.Context, token string) (store.User, error)
	MarkEmailVerified(ctx context.Context, userID string) error
}

// Service provides email/password authentication
type Service struct {
	store    UserStore
	validate *validator.Validate
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRequest contains registration parameters
type RegisterRequest struct {
	Name     string `validate:"required,min=1,max=50"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6,max=100"`
}

// RegisterResponse contains registration result
type RegisterResponse struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
}

// Register creates a new user account with an unverified email.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, &ValidationError{Field: fieldErrs[0].Field(), Reason: fieldErrs[0].Tag()}
		}
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken := util.NewToken()
	expiresAt := time.Now().Add(24 * time.Hour)

	user := store.User{
		ID:                    util.NewID(),
		Name:                  req.Name,
		Email:                 req.Email,
		PasswordHash:          string(hash),
		VerificationToken:     verificationToken,
		VerificationExpiresAt: &expiresAt,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &RegisterResponse{
		UserID:              user.ID,
		VerificationToken:   verificationToken,
		RequiresEmailVerify: true,
	}, nil
}

// SignInResponse contains sign-in result
type SignInResponse struct {
	User           store.User
	RequiresVerify bool
}

// SignIn authenticates a user. The same error covers an unknown email and a
// wrong password so neither case leaks account existence.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResponse, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.EmailVerifiedAt == nil {
		return &SignInResponse{User: user, RequiresVerify: true}, nil
	}

	return &SignInResponse{User: user, RequiresVerify: false}, nil
}

// VerifyEmail verifies an email address using a token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	user, err := s.store.GetUserByVerificationToken(ctx, token)
	if err != nil {
		return ErrInvalidToken
	}

	if user.VerificationExpiresAt == nil || time.Now().After(*user.VerificationExpiresAt) {
		return ErrInvalidToken
	}

	if err := s.store.MarkEmailVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	return nil
}
