package postgres

import (
	"context"
)

// Contains reports whether userID is on the NIPSA list.
func (r *Repository) Contains(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM nipsa_user WHERE user_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, unavailable("check nipsa user", err)
	}
	return exists, nil
}

// Add puts userID on the NIPSA list. Does nothing if already present.
func (r *Repository) Add(ctx context.Context, userID string) error {
	query := `
		INSERT INTO nipsa_user (user_id, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return unavailable("add nipsa user", err)
	}
	return nil
}

// Remove takes userID off the NIPSA list. Does nothing if absent.
func (r *Repository) Remove(ctx context.Context, userID string) error {
	query := `DELETE FROM nipsa_user WHERE user_id = $1`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return unavailable("remove nipsa user", err)
	}
	return nil
}

// List returns all NIPSA'd user IDs in the order they were flagged.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	query := `SELECT user_id FROM nipsa_user ORDER BY created_at, user_id`

	rows, err := r.pool.Query(ctx, query)
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
