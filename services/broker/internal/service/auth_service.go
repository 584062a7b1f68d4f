package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/services/broker/internal/security"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
)

type CustomerStore interface {
	GetCustomerByUsername(ctx context.Context, username string) (*storage.Customer, error)
}

type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

type AuthService struct {
	store   CustomerStore
	tokens  TokenConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
	Customer    storage.Customer
}

func NewAuthService(store CustomerStore, tokens TokenConfig, logger *slog.Logger, metrics *Metrics) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if tokens.TTL <= 0 {
		tokens.TTL = 15 * time.Minute
	}
	return &AuthService{
		store:   store,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	result, err := s.login(ctx, username, password)
	switch {
	case err == nil:
		s.metrics.ObserveLogin("success")
	case errors.Is(err, ErrInvalidCredentials):
		s.metrics.ObserveLogin("invalid")
	default:
		s.metrics.ObserveLogin("error")
	}
	return result, err
}

func (s *AuthService) login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	customer, err := s.store.GetCustomerByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := security.VerifyPassword(password, customer.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", "customer_id", customer.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	roles := []string{auth.RoleCustomer}
	if customer.Role == auth.RoleAdmin {
		roles = []string{auth.RoleAdmin}
	}
	token, expiresAt, err := security.NewAccessToken(customer.ID, roles, s.tokens.Secret, s.tokens.Issuer, s.tokens.TTL, s.now())
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &LoginResult{AccessToken: token, ExpiresAt: expiresAt, Customer: *customer}, nil
}
