// Package auth stores the API bearer token and guards against using an
// expired one. Obtaining the token is out of scope: it is issued by the
// server's auth endpoints and handed to the client via `fieldline login`.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fieldline/fieldline/internal/client/storage"
)

// ErrTokenExpired indicates the stored token's exp claim has passed
var ErrTokenExpired = errors.New("stored token is expired")

// Service provides access to the stored bearer token
type Service struct {
	storage storage.AuthStorage
}

// NewService creates a new auth service
func NewService(authStorage storage.AuthStorage) *Service {
	return &Service{storage: authStorage}
}

// SaveToken stores the bearer token for subsequent API requests
func (s *Service) SaveToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	return s.storage.SaveToken(ctx, token)
}

// Token returns the stored bearer token, checking the exp claim when the
// token is a JWT. Opaque tokens are returned as is.
// Implements the api.TokenProvider signature.
func (s *Service) Token(ctx context.Context) (string, error) {
	token, err := s.storage.GetToken(ctx)
	if err != nil {
		return "", err
	}

	// Подпись не проверяем: клиенту нужен только exp claim
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		// Не JWT: считаем токен непрозрачным и валидным
		return token, nil
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}
	if exp.Before(time.Now()) {
		return "", ErrTokenExpired
	}

	return token, nil
}

// HasToken reports whether a token is stored, regardless of expiry
func (s *Service) HasToken(ctx context.Context) bool {
	_, err := s.storage.GetToken(ctx)
	return err == nil
}

// Logout removes the stored bearer token
func (s *Service) Logout(ctx context.Context) error {
	return s.storage.DeleteToken(ctx)
}
