package postgres

import (
	"context"

	"github.com/habitquest/progression-engine/internal/domain/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Store implements store.Store and store.Seeder on PostgreSQL. Methods are
// spread over character_repo.go, habit_repo.go and goal_repo.go.
type Store struct {
	conn *Connection
}

// NewStore creates a Store over conn.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// DefaultUserPageSize is used by ListUserIDs when limit is not positive.
const DefaultUserPageSize = 500

// ListUserIDs pages through every user owning a character, habit or goal,
// ordered by id.
func (s *Store) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultUserPageSize
	}

	query := `
		SELECT user_id FROM (
			SELECT user_id FROM characters WHERE user_id > $1
			UNION
			SELECT user_id FROM habits WHERE user_id > $1
			UNION
			SELECT user_id FROM goals WHERE user_id > $1
		) owners
		ORDER BY user_id
		LIMIT $2
	`

	rows, err := s.conn.Query(ctx, query, after, limit)
	if err != nil {
		return nil, classify("user", "ListUserIDs", after, err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("user", "ListUserIDs", after, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("user", "ListUserIDs", after, err)
	}
	return ids, nil
}
