package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/habitquest/progression-engine/internal/domain/goal"
)

// ══════════════════════════════════════════════════════════════════════════════
// GOALS
// ══════════════════════════════════════════════════════════════════════════════

const goalColumns = `id, character_id, title, progress, completed_at, version, updated_at`

// CreateGoal inserts g for userID. An empty id is replaced with a new uuid.
func (s *Store) CreateGoal(ctx context.Context, userID string, g *goal.Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO goals (user_id, ` + goalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.conn.Exec(ctx, query,
		userID,
		g.ID,
		g.CharacterID,
		g.Title,
		g.Progress,
		g.CompletedAt,
		g.Version,
		g.UpdatedAt,
	)
	return classify("goal", "Create", g.ID, err)
}

// ListGoals returns the user's goals ordered by id.
func (s *Store) ListGoals(ctx context.Context, userID string) ([]*goal.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE user_id = $1 ORDER BY id`

	rows, err := s.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, classify("goal", "ListGoals", userID, err)
	}
	defer rows.Close()

	out := make([]*goal.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, classify("goal", "ListGoals", userID, err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("goal", "ListGoals", userID, err)
	}
	return out, nil
}

// GetGoal returns a goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*goal.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE id = $1`

	g, err := scanGoal(s.conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classify("goal", "GetGoal", id, err)
	}
	return g, nil
}

// UpdateGoal writes g when the stored version matches g.Version and
// increments g.Version on success.
func (s *Store) UpdateGoal(ctx context.Context, g *goal.Goal) error {
	query := `
		UPDATE goals SET
			title = $1,
			progress = $2,
			completed_at = $3,
			updated_at = $4,
			version = version + 1
		WHERE id = $5 AND version = $6
	`

	updatedAt := g.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.conn.Exec(ctx, query, g.Title, g.Progress, g.CompletedAt, updatedAt, g.ID, g.Version)
	if err != nil {
		return classify("goal", "Update", g.ID, err)
	}
	if result.RowsAffected() == 0 {
		return missingOrStale(ctx, s.conn, "goals", "goal", g.ID, g.Version)
	}
	g.Version++
	return nil
}

func scanGoal(row scanner) (*goal.Goal, error) {
	var g goal.Goal
	err := row.Scan(
		&g.ID,
		&g.CharacterID,
		&g.Title,
		&g.Progress,
		&g.CompletedAt,
		&g.Version,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
