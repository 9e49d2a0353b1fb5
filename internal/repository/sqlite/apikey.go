package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/repository"
)

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, revoked_at, last_used_at, created_at`

// CreateAPIKey inserts a new API key. Scopes are stored as a JSON array.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, string(scopes), key.CreatedAt.UTC(),
	)
	if err != nil {
		return unavailable("create API key", err)
	}
	return nil
}

// GetAPIKeysByPrefix retrieves all active API keys matching a prefix.
func (s *Store) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = ? AND revoked_at IS NULL`,
		prefix,
	)
	if err != nil {
		return nil, unavailable("get API keys by prefix", err)
	}
	return collectAPIKeys(rows)
}

// ListAPIKeys retrieves every API key, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*model.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, unavailable("list API keys", err)
	}
	return collectAPIKeys(rows)
}

// RevokeAPIKey revokes an active API key.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return unavailable("revoke API key", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return unavailable("revoke API key", err)
	}
	if n == 0 {
		return repository.ErrAPIKeyNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return unavailable("update API key last used", err)
	}
	return nil
}

func collectAPIKeys(rows *sql.Rows) ([]*model.APIKey, error) {
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		var (
			key        model.APIKey
			scopes     string
			revokedAt  sql.NullTime
			lastUsedAt sql.NullTime
		)
		err := rows.Scan(
			&key.ID,
			&key.Name,
			&key.KeyHash,
			&key.KeyPrefix,
			&scopes,
			&revokedAt,
			&lastUsedAt,
			&key.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		if err := json.Unmarshal([]byte(scopes), &key.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes for key %s: %w", key.ID, err)
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			key.RevokedAt = &t
		}
		if lastUsedAt.Valid {
			t := lastUsedAt.Time
			key.LastUsedAt = &t
		}
		keys = append(keys, &key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate API keys", err)
	}
	return keys, nil
}
