package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/habitquest/progression-engine/internal/domain/habit"
)

// ══════════════════════════════════════════════════════════════════════════════
// HABITS
// ══════════════════════════════════════════════════════════════════════════════

const habitColumns = `
	id, character_id, name, frequency, attribute, experience_reward,
	completions, current_streak, longest_streak, version, updated_at
`

// CreateHabit inserts h for userID. An empty id is replaced with a new uuid.
func (s *Store) CreateHabit(ctx context.Context, userID string, h *habit.Habit) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO habits (user_id, ` + habitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.conn.Exec(ctx, query,
		userID,
		h.ID,
		h.CharacterID,
		h.Name,
		string(h.Frequency),
		h.Attribute,
		h.ExperienceReward,
		completionsOrEmpty(h.Completions),
		h.CurrentStreak,
		h.LongestStreak,
		h.Version,
		h.UpdatedAt,
	)
	return classify("habit", "Create", h.ID, err)
}

// ListHabits returns the user's habits ordered by id.
func (s *Store) ListHabits(ctx context.Context, userID string) ([]*habit.Habit, error) {
	query := `SELECT ` + habitColumns + ` FROM habits WHERE user_id = $1 ORDER BY id`

	rows, err := s.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, classify("habit", "ListHabits", userID, err)
	}
	defer rows.Close()

	out := make([]*habit.Habit, 0)
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, classify("habit", "ListHabits", userID, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("habit", "ListHabits", userID, err)
	}
	return out, nil
}

// GetHabit returns a habit by id.
func (s *Store) GetHabit(ctx context.Context, id string) (*habit.Habit, error) {
	query := `SELECT ` + habitColumns + ` FROM habits WHERE id = $1`

	h, err := scanHabit(s.conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classify("habit", "GetHabit", id, err)
	}
	return h, nil
}

// UpdateHabit writes h when the stored version matches h.Version and
// increments h.Version on success.
func (s *Store) UpdateHabit(ctx context.Context, h *habit.Habit) error {
	query := `
		UPDATE habits SET
			name = $1,
			frequency = $2,
			attribute = $3,
			experience_reward = $4,
			completions = $5,
			current_streak = $6,
			longest_streak = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $9 AND version = $10
	`

	updatedAt := h.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.conn.Exec(ctx, query,
		h.Name,
		string(h.Frequency),
		h.Attribute,
		h.ExperienceReward,
		completionsOrEmpty(h.Completions),
		h.CurrentStreak,
		h.LongestStreak,
		updatedAt,
		h.ID,
		h.Version,
	)
	if err != nil {
		return classify("habit", "Update", h.ID, err)
	}
	if result.RowsAffected() == 0 {
		return missingOrStale(ctx, s.conn, "habits", "habit", h.ID, h.Version)
	}
	h.Version++
	return nil
}

func scanHabit(row scanner) (*habit.Habit, error) {
	var h habit.Habit
	var frequency string

	err := row.Scan(
		&h.ID,
		&h.CharacterID,
		&h.Name,
		&frequency,
		&h.Attribute,
		&h.ExperienceReward,
		&h.Completions,
		&h.CurrentStreak,
		&h.LongestStreak,
		&h.Version,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.Frequency = habit.Frequency(frequency)
	return &h, nil
}

// completionsOrEmpty keeps NOT NULL array columns from receiving a nil slice.
func completionsOrEmpty(c []time.Time) []time.Time {
	if c == nil {
		return []time.Time{}
	}
	return c
}
