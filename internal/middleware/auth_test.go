package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/annotator/nipsa/internal/auth"
	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/repository"
)

type fakeKeyStore struct {
	mu       sync.Mutex
	keys     []*model.APIKey
	lookups  int
	failWith error
}

func (s *fakeKeyStore) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func (s *fakeKeyStore) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []*model.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && !k.IsRevoked() {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *fakeKeyStore) ListAPIKeys(context.Context) ([]*model.APIKey, error) { return s.keys, nil }
func (s *fakeKeyStore) RevokeAPIKey(context.Context, string) error         { return nil }
func (s *fakeKeyStore) UpdateAPIKeyLastUsed(context.Context, string) error { return nil }

type mapAuthCache struct {
	mu sync.Mutex
	m  map[string]*model.AuthContext
}

func (c *mapAuthCache) GetAuthContext(_ context.Context, key string) (*model.AuthContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key], nil
}

func (c *mapAuthCache) SetAuthContext(_ context.Context, key string, a *model.AuthContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = a
	return nil
}

func newAuthFixture(t *testing.T, scopes ...string) (*fakeKeyStore, string) {
	t.Helper()

	generated, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	store := &fakeKeyStore{}
	_ = store.CreateAPIKey(context.Background(), &model.APIKey{
		ID:        "01HZX",
		Name:      "ops",
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		Scopes:    scopes,
	})
	return store, generated.Plaintext
}

func authHandler(cfg AuthConfig, seen **model.AuthContext) http.Handler {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return Auth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = auth.AuthFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuth_ValidKey(t *testing.T) {
	store, key := newAuthFixture(t, model.ScopeAdmin)
	var seen *model.AuthContext
	handler := authHandler(AuthConfig{Keys: store}, &seen)

	for _, setHeader := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+key) },
		func(r *http.Request) { r.Header.Set("X-API-Key", key) },
	} {
		req := httptest.NewRequest(http.MethodGet, "/nipsa/user", nil)
		setHeader(req)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if seen == nil || seen.KeyID != "01HZX" || !seen.HasScope(model.ScopeAdmin) {
			t.Errorf("unexpected auth context: %+v", seen)
		}
	}
}

func TestAuth_Rejections(t *testing.T) {
	store, key := newAuthFixture(t, model.ScopeRead)
	other, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	parsed, _ := auth.ParseAPIKey(key)
	wrongSecret := "nk_" + parsed.Prefix + "_" + "00000000000000000000000000000000"

	testCases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "Bearer not-a-key"},
		{"unknown key", "Bearer " + other.Plaintext},
		{"wrong secret", "Bearer " + wrongSecret},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var seen *model.AuthContext
			handler := authHandler(AuthConfig{Keys: store}, &seen)

			req := httptest.NewRequest(http.MethodGet, "/nipsa/user", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if seen != nil {
				t.Error("handler should not run")
			}
		})
	}
}

func TestAuth_CachesVerifiedKeys(t *testing.T) {
	store, key := newAuthFixture(t, model.ScopeRead)
	cache := &mapAuthCache{m: map[string]*model.AuthContext{}}
	var seen *model.AuthContext
	handler := authHandler(AuthConfig{Keys: store, Cache: cache}, &seen)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/nipsa/user", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.lookups != 1 {
		t.Errorf("store lookups = %d, want 1", store.lookups)
	}
}

func TestAuth_StoreFailureIs503(t *testing.T) {
	store, key := newAuthFixture(t, model.ScopeRead)
	store.failWith = repository.ErrStorageUnavailable
	var seen *model.AuthContext
	handler := authHandler(AuthConfig{Keys: store}, &seen)

	req := httptest.NewRequest(http.MethodGet, "/nipsa/user", nil)
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
