package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smartparking/internal/auth"
)

// ErrTokenExpired is returned when the stored token is past its expiry.
var ErrTokenExpired = errors.New("stored token expired")

// Authenticator exchanges a phone number for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, phone string) (string, error)
}

// TokenVault is the secure storage for the bearer token.
type TokenVault interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// LoginService owns the stored credential. It is the only writer of the token.
type LoginService struct {
	auth   Authenticator
	vault  TokenVault
	logger *zap.Logger
	now    func() time.Time
}

// NewLoginService builds service.
func NewLoginService(authenticator Authenticator, vault TokenVault, logger *zap.Logger) *LoginService {
	return &LoginService{auth: authenticator, vault: vault, logger: logger, now: time.Now}
}

// Login validates the phone, obtains a token and stores it.
func (s *LoginService) Login(ctx context.Context, phone string) (auth.Credentials, error) {
	normalized, err := auth.NormalizePhone(phone)
	if err != nil {
		return auth.Credentials{}, err
	}
	token, err := s.auth.Login(ctx, normalized)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("login: %w", err)
	}
	if token == "" {
		return auth.Credentials{}, auth.ErrNoToken
	}
	if err := s.vault.Set(auth.TokenKey, token); err != nil {
		return auth.Credentials{}, fmt.Errorf("store token: %w", err)
	}
	s.logger.Info("logged in")
	return auth.NewCredentials(token), nil
}

// Logout clears the stored token.
func (s *LoginService) Logout() error {
	if err := s.vault.Delete(auth.TokenKey); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// Credentials loads the stored token. A missing token yields empty credentials; an expired
// one is reported so the caller can ask the user to log in again.
func (s *LoginService) Credentials() (auth.Credentials, error) {
	token, ok, err := s.vault.Get(auth.TokenKey)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("read token: %w", err)
	}
	if !ok || token == "" {
		return auth.Credentials{}, nil
	}
	if claims, err := auth.InspectToken(token); err == nil && claims.Expired(s.now()) {
		return auth.NewCredentials(token), ErrTokenExpired
	}
	return auth.NewCredentials(token), nil
}
