package root

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/habitquest/progression-engine/internal/app"
	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
)

func newMigrateCmd(open Opener, flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				applied, err := a.Migrate(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"applied": applied})
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they have been applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
					migrations, err := a.MigrationStatus(ctx)
					if err != nil {
						return err
					}
					views := make([]migrationView, 0, len(migrations))
					for _, m := range migrations {
						v := migrationView{Version: m.Version, Name: m.Name, Applied: m.IsApplied}
						if m.IsApplied {
							at := m.AppliedAt
							v.AppliedAt = &at
						}
						views = append(views, v)
					}
					return printJSON(cmd.OutOrStdout(), views)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the most recently applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
					if err := a.RollbackMigration(ctx); err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]bool{"rolled_back": true})
				})
			},
		},
	)
	return cmd
}

type migrationView struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

type seedView struct {
	UserID      string   `json:"user_id"`
	CharacterID string   `json:"character_id"`
	HabitIDs    []string `json:"habit_ids"`
	GoalID      string   `json:"goal_id"`
}

func newSeedCmd(open Opener, flags *Flags) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo character with habits and a goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = uuid.NewString()
			}
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				view, err := seed(ctx, a, userID, time.Now().UTC())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the demo data (default a new uuid)")

	return cmd
}

func seed(ctx context.Context, a *app.App, userID string, now time.Time) (*seedView, error) {
	c, err := character.New(uuid.NewString(), userID, now)
	if err != nil {
		return nil, err
	}
	if err := a.Seeder.CreateCharacter(ctx, c); err != nil {
		return nil, err
	}

	view := &seedView{UserID: userID, CharacterID: c.ID}
	habits := []*habit.Habit{
		{Name: "Morning run", Frequency: habit.FrequencyDaily, Attribute: character.AttributeStrength, ExperienceReward: 20},
		{Name: "Read a chapter", Frequency: habit.FrequencyDaily, Attribute: character.AttributeWisdom, ExperienceReward: habit.DefaultExperienceReward},
	}
	for _, h := range habits {
		h.ID = uuid.NewString()
		h.CharacterID = c.ID
		h.UpdatedAt = now
		if err := a.Seeder.CreateHabit(ctx, userID, h); err != nil {
			return nil, err
		}
		view.HabitIDs = append(view.HabitIDs, h.ID)
	}

	g := &goal.Goal{ID: uuid.NewString(), CharacterID: c.ID, Title: "Run a 10k", UpdatedAt: now}
	if err := a.Seeder.CreateGoal(ctx, userID, g); err != nil {
		return nil, err
	}
	view.GoalID = g.ID

	return view, nil
}
