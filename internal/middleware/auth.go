package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/annotator/nipsa/internal/auth"
	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/repository"
)

// DefaultMinAuthDuration is the minimum time spent on auth to blunt timing
// attacks.
const DefaultMinAuthDuration = 200 * time.Millisecond

// AuthCache stores verified auth contexts. *cache.Cache implements it.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   repository.APIKeyStore
	// Cache may be nil.
	Cache       AuthCache
	MinDuration time.Duration
}

// Auth returns a middleware that authenticates API requests.
// It extracts the API key from the request, verifies it, and injects the
// auth context into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			reject := func(reason string) {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				if elapsed := time.Since(startTime); elapsed < cfg.MinDuration {
					time.Sleep(cfg.MinDuration - elapsed)
				}
				writeAuthError(w)
			}

			key := extractAPIKey(r)
			if key == "" {
				reject("missing_key")
				return
			}

			parsed, err := auth.ParseAPIKey(key)
			if err != nil {
				reject("invalid_format")
				return
			}

			cacheKey := auth.CacheKey(key)
			if cfg.Cache != nil {
				if authCtx, _ := cfg.Cache.GetAuthContext(r.Context(), cacheKey); authCtx != nil {
					serveAuthenticated(cfg.Logger, next, w, r, authCtx, true)
					return
				}
			}

			keys, err := cfg.Keys.GetAPIKeysByPrefix(r.Context(), parsed.Prefix)
			if err != nil {
				cfg.Logger.Error("database error during auth",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage unavailable")
				return
			}

			// Prefixes may collide, so every candidate is verified.
			var matched *model.APIKey
			for _, k := range keys {
				if ok, err := auth.VerifyKey(key, k.KeyHash); err == nil && ok {
					matched = k
					break
				}
			}
			if matched == nil {
				reject("invalid_key")
				return
			}

			authCtx := &model.AuthContext{
				KeyID:     matched.ID,
				KeyPrefix: matched.KeyPrefix,
				KeyName:   matched.Name,
				Scopes:    matched.Scopes,
			}
			if cfg.Cache != nil {
				_ = cfg.Cache.SetAuthContext(r.Context(), cacheKey, authCtx)
			}

			go func(ctx context.Context, id string) {
				ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				if err := cfg.Keys.UpdateAPIKeyLastUsed(ctx, id); err != nil {
					cfg.Logger.Debug("failed to update API key last_used_at", "key_id", id, "error", err)
				}
			}(context.WithoutCancel(r.Context()), matched.ID)

			serveAuthenticated(cfg.Logger, next, w, r, authCtx, false)
		})
	}
}

func serveAuthenticated(logger *slog.Logger, next http.Handler, w http.ResponseWriter, r *http.Request, authCtx *model.AuthContext, cacheHit bool) {
	logger.Debug("authentication successful",
		slog.String("key_id", authCtx.KeyID),
		slog.String("key_prefix", authCtx.KeyPrefix),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.Bool("cache_hit", cacheHit),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), authCtx)))
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key")
}
