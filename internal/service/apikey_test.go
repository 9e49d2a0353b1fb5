package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/annotator/nipsa/internal/auth"
	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/repository"
	"github.com/annotator/nipsa/internal/repository/sqlite"
)

func newAPIKeyService(t *testing.T) *APIKeyService {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "nipsa.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewAPIKeyService(store)
}

func TestAPIKeyService_CreateVerifiesAndRevokes(t *testing.T) {
	svc := newAPIKeyService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "ops", []string{model.ScopeAdmin})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	parsed, err := auth.ParseAPIKey(created.Plaintext)
	if err != nil {
		t.Fatalf("plaintext does not parse: %v", err)
	}
	if parsed.Prefix != created.Key.KeyPrefix {
		t.Errorf("prefix = %s, want %s", parsed.Prefix, created.Key.KeyPrefix)
	}
	ok, err := auth.VerifyKey(created.Plaintext, created.Key.KeyHash)
	if err != nil || !ok {
		t.Fatalf("VerifyKey = %v, %v", ok, err)
	}

	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != created.Key.ID {
		t.Fatalf("List = %v", keys)
	}

	if err := svc.Revoke(ctx, created.Key.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := svc.Revoke(ctx, created.Key.ID); !errors.Is(err, repository.ErrAPIKeyNotFound) {
		t.Errorf("second Revoke error = %v, want ErrAPIKeyNotFound", err)
	}
}

func TestAPIKeyService_DefaultsToReadScope(t *testing.T) {
	svc := newAPIKeyService(t)

	created, err := svc.Create(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(created.Key.Scopes) != 1 || created.Key.Scopes[0] != model.ScopeRead {
		t.Errorf("Scopes = %v, want [read]", created.Key.Scopes)
	}
}

func TestAPIKeyService_RejectsUnknownScope(t *testing.T) {
	svc := newAPIKeyService(t)

	if _, err := svc.Create(context.Background(), "x", []string{"superuser"}); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("error = %v, want ErrInvalidScope", err)
	}
}
