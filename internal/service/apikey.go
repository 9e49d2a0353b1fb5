package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/annotator/nipsa/internal/auth"
	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/repository"
)

// ErrInvalidScope is returned when a requested scope is unknown.
var ErrInvalidScope = errors.New("invalid scope")

// APIKeyService issues and revokes Administrative API keys.
type APIKeyService struct {
	store repository.APIKeyStore
}

// NewAPIKeyService creates an APIKeyService.
func NewAPIKeyService(store repository.APIKeyStore) *APIKeyService {
	return &APIKeyService{store: store}
}

// CreatedKey is a stored key plus its plaintext, which is shown only once.
type CreatedKey struct {
	Key       *model.APIKey
	Plaintext string
}

// Create generates and stores a key with the given scopes. No scopes means
// read-only.
func (s *APIKeyService) Create(ctx context.Context, name string, scopes []string) (*CreatedKey, error) {
	if len(scopes) == 0 {
		scopes = []string{model.ScopeRead}
	}
	for _, scope := range scopes {
		if !model.IsValidScope(scope) {
			return nil, fmt.Errorf("%w: %q (valid: %s)", ErrInvalidScope, scope, strings.Join(model.ValidScopes, ", "))
		}
	}

	generated, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate API key: %w", err)
	}

	now := time.Now().UTC()
	key := &model.APIKey{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Name:      name,
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		Scopes:    scopes,
		CreatedAt: now,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("store API key: %w", err)
	}

	return &CreatedKey{Key: key, Plaintext: generated.Plaintext}, nil
}

// List returns every key, revoked ones included.
func (s *APIKeyService) List(ctx context.Context) ([]*model.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list API keys: %w", err)
	}
	return keys, nil
}

// Revoke revokes the key with the given ID.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	if err := s.store.RevokeAPIKey(ctx, id); err != nil {
		return fmt.Errorf("revoke API key %s: %w", id, err)
	}
	return nil
}
