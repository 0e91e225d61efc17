package root

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/habitquest/progression-engine/internal/app"
	"github.com/habitquest/progression-engine/internal/application/command"
	"github.com/habitquest/progression-engine/internal/domain/character"
)

func newApplyCmd(open Opener, flags *Flags) *cobra.Command {
	var (
		c      command.ApplyExperienceCommand
		source string
	)

	cmd := &cobra.Command{
		Use:   "apply <character-id>",
		Short: "Grant experience to a character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.CharacterID = args[0]
			c.Source = character.Source(source)
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				res, err := a.Experience.Handle(ctx, c)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&c.Amount, "amount", 0, "experience to grant")
	cmd.Flags().StringVar(&c.Attribute, "attribute", "", "attribute tied to the action")
	cmd.Flags().BoolVar(&c.IsCustomAttribute, "custom", false, "treat --attribute as a custom attribute")
	cmd.Flags().StringVar(&c.HabitID, "habit", "", "habit whose streak is checked for milestones")
	cmd.Flags().StringVar(&c.RequestID, "request-id", "", "idempotency key")
	cmd.Flags().StringVar(&source, "source", string(character.SourceManual), "source of the grant (habit, goal, manual, bonus)")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newCompleteCmd(open Opener, flags *Flags) *cobra.Command {
	var (
		c  command.RecordCompletionCommand
		at string
	)

	cmd := &cobra.Command{
		Use:   "complete <habit-id>",
		Short: "Record a habit completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.HabitID = args[0]
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				c.At = t
			}
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				res, err := a.Completions.Handle(ctx, c)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&c.CharacterID, "character", "", "character completing the habit")
	cmd.Flags().StringVar(&at, "at", "", "completion time in RFC 3339 (default now)")
	_ = cmd.MarkFlagRequired("character")

	return cmd
}

func newGoalCmd(open Opener, flags *Flags) *cobra.Command {
	var c command.UpdateGoalProgressCommand

	cmd := &cobra.Command{
		Use:   "goal <goal-id>",
		Short: "Update goal progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.GoalID = args[0]
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				res, err := a.Goals.Handle(ctx, c)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&c.CharacterID, "character", "", "character owning the goal")
	cmd.Flags().IntVar(&c.Progress, "progress", 0, "new progress, clamped into 0..100")
	_ = cmd.MarkFlagRequired("character")
	_ = cmd.MarkFlagRequired("progress")

	return cmd
}
