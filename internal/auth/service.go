package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/loykin/mcconsole/internal/store"
)

// ErrInvalidKey is returned when a presented API key does not exist.
var ErrInvalidKey = errors.New("invalid api key")

// Service validates and mints API keys backed by the store.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Validate reports whether the key exists.
func (s *Service) Validate(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	return s.store.HasAPIKey(ctx, key)
}

// IsAdmin reports whether the key exists and carries the admin flag.
func (s *Service) IsAdmin(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	return s.store.IsAdminKey(ctx, key)
}

// Generate mints a new random key under the given name. The first key of a
// deployment is normally created with admin set.
func (s *Service) Generate(ctx context.Context, name string, admin bool) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("key name is required")
	}
	key := uuid.NewString()
	if err := s.store.AddAPIKey(ctx, name, key, admin); err != nil {
		return "", fmt.Errorf("failed to persist api key: %w", err)
	}
	return key, nil
}

// List returns every stored key record.
func (s *Service) List(ctx context.Context) ([]store.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}

// Revoke deletes the key with the given name.
func (s *Service) Revoke(ctx context.Context, name string) error {
	return s.store.DeleteAPIKey(ctx, name)
}
