package sqlite

import (
	"context"
	"time"
)

// Contains reports whether userID is on the NIPSA list.
func (s *Store) Contains(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM nipsa_user WHERE user_id = ?)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, unavailable("check nipsa user", err)
	}
	return exists, nil
}

// Add puts userID on the NIPSA list. Does nothing if already present.
func (s *Store) Add(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nipsa_user (user_id, created_at) VALUES (?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return unavailable("add nipsa user", err)
	}
	return nil
}

// Remove takes userID off the NIPSA list. Does nothing if absent.
func (s *Store) Remove(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nipsa_user WHERE user_id = ?`, userID); err != nil {
		return unavailable("remove nipsa user", err)
	}
	return nil
}

// List returns all NIPSA'd user IDs in the order they were flagged.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM nipsa_user ORDER BY created_at, user_id`)
	if err != nil {
		return nil, unavailable("list nipsa users", err)
	}
	defer rows.Close()

	userIDs := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, unavailable("scan nipsa user", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate nipsa users", err)
	}
	return userIDs, nil
}
