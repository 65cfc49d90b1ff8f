package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Register struct {
	Username string
	Email    string
	Password string
	// ReferralCode is the referrer's user id.
	ReferralCode string
}

type UserService struct {
	r     repo.Users
	store repo.Store
}

func NewUserService(r repo.Users, store repo.Store) *UserService {
	return &UserService{r: r, store: store}
}

// Register creates the user and its ledger account. Account creation is
// idempotent, so a retry after a partial failure completes the pair.
func (s *UserService) Register(ctx context.Context, c Register) (models.User, error) {
	u := models.User{Username: strings.TrimSpace(c.Username), Email: strings.ToLower(strings.TrimSpace(c.Email)), Role: models.RoleUser}
	if err := u.Validate(); err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(c.Password) < 6 {
		return models.User{}, invalid("password too short")
	}
	if code := strings.TrimSpace(c.ReferralCode); code != "" {
		ref, err := s.r.GetByID(ctx, code)
		if errors.Is(err, repo.ErrNotFound) {
			return models.User{}, invalid("unknown referral code")
		}
		if err != nil {
			return models.User{}, err
		}
		u.ReferredBy = &ref.ID
	}
	hash, err := auth.HashPassword(c.Password)
	if err != nil {
		return models.User{}, err
	}
	u.PasswordHash = hash

	created, err := s.r.Create(ctx, u)
	if err != nil {
		return models.User{}, err
	}
	if _, err := s.store.CreateAccount(ctx, created.ID); err != nil {
		return models.User{}, fmt.Errorf("create account: %w", err)
	}
	return created, nil
}

// Authenticate checks the password and makes sure the account exists.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	u, err := s.r.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repo.ErrNotFound) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if err := auth.VerifyPassword(password, u.PasswordHash); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	if _, err := s.store.CreateAccount(ctx, u.ID); err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id string) (models.User, error) { return s.r.GetByID(ctx, id) }

func (s *UserService) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.r.List(ctx, limit, offset)
}
