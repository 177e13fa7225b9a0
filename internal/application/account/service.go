package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prazos-api/internal/domain"
	"github.com/prazos-api/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Bearer string       `json:"bearer"`
	User   *domain.User `json:"user"`
}

type Service interface {
	Register(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	// CurrentUser and Reauthenticate back the step-up challenge of the numbering controller.
	CurrentUser(ctx context.Context) (domain.Principal, error)
	Reauthenticate(ctx context.Context, email, secret string) error
}

type userStore interface {
	Put(ctx context.Context, u *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type jwtSigner interface {
	Sign(userID, email string) (string, error)
}

type ServiceDeps struct {
	UserRepo    userStore
	JWTProvider jwtSigner
}

type service struct {
	repo        userStore
	jwtProvider jwtSigner
	now         func() time.Time
}

func NewService(deps ServiceDeps) Service {
	return &service{repo: deps.UserRepo, jwtProvider: deps.JWTProvider, now: time.Now}
}

func (s *service) Register(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Enable:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Put(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := s.check(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, domain.ErrAccessDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	bearer, err := s.jwtProvider.Sign(u.UserID, u.Email)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Bearer: bearer, User: u}, nil
}

func (s *service) CurrentUser(ctx context.Context) (domain.Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return domain.Principal{}, fmt.Errorf("no authenticated user: %w", domain.ErrUnauthorized)
	}
	return p, nil
}

// Reauthenticate verifies secret against the stored password of email.
func (s *service) Reauthenticate(ctx context.Context, email, secret string) error {
	if _, err := s.check(ctx, email, secret); err != nil {
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, domain.ErrAccessDenied) {
			return err
		}
		return fmt.Errorf("password rejected: %w", domain.ErrChallengeFailed)
	}
	return nil
}

func (s *service) check(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if !u.Enable {
		return nil, fmt.Errorf("account disabled: %w", domain.ErrForbidden)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("password mismatch: %w", domain.ErrUnauthorized)
	}
	return u, nil
}
