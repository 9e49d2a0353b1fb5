// Package repository defines the persistence contracts for the denylist and
// API keys. Backends live in the postgres and sqlite subpackages.
package repository

import (
	"context"
	"errors"

	"github.com/annotator/nipsa/internal/model"
)

// Common errors for repository operations.
var (
	// ErrStorageUnavailable wraps every failure of the underlying database.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrAPIKeyNotFound is returned when an API key does not exist or is revoked.
	ErrAPIKeyNotFound = errors.New("API key not found")
)

// NipsaStore is the persistent set of flagged user IDs.
type NipsaStore interface {
	// Contains reports whether userID is flagged.
	Contains(ctx context.Context, userID string) (bool, error)
	// Add flags userID. Adding a flagged ID is a no-op.
	Add(ctx context.Context, userID string) error
	// Remove unflags userID. Removing an absent ID is a no-op.
	Remove(ctx context.Context, userID string) error
	// List returns every flagged ID.
	List(ctx context.Context) ([]string, error)
}

// APIKeyStore persists Administrative API credentials.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// Store is implemented by every database backend.
type Store interface {
	NipsaStore
	APIKeyStore
	Ping(ctx context.Context) error
	Close() error
}
