package store

import (
	"context"
	"fmt"

	"github.com/habitquest/progression-engine/internal/domain/integrity"
)

// LoadSnapshot reads every record the integrity checker needs for userID.
// Any store failure aborts the load.
func LoadSnapshot(ctx context.Context, s Store, userID string) (integrity.Snapshot, error) {
	characters, err := s.ListCharacters(ctx, userID)
	if err != nil {
		return integrity.Snapshot{}, fmt.Errorf("load characters: %w", err)
	}
	habits, err := s.ListHabits(ctx, userID)
	if err != nil {
		return integrity.Snapshot{}, fmt.Errorf("load habits: %w", err)
	}
	goals, err := s.ListGoals(ctx, userID)
	if err != nil {
		return integrity.Snapshot{}, fmt.Errorf("load goals: %w", err)
	}

	return integrity.Snapshot{
		UserID:     userID,
		Characters: characters,
		Habits:     habits,
		Goals:      goals,
	}, nil
}
