package root

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/habitquest/progression-engine/internal/app"
	"github.com/habitquest/progression-engine/internal/application/query"
)

// ErrInvalidReport is returned by check when the report carries errors, so
// scripts can rely on the exit status.
var ErrInvalidReport = errors.New("integrity check found errors")

func newCheckCmd(open Opener, flags *Flags) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "check <user-id>",
		Short: "Check a user's progression data for drift and corruption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				report, err := a.Check.Handle(ctx, query.CheckIntegrityQuery{UserID: args[0], Fresh: fresh})
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.IsValid {
					return ErrInvalidReport
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass the report cache")

	return cmd
}

func newRepairCmd(open Opener, flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <user-id>",
		Short: "Repair drifted fields for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				res, err := a.Repair.Handle(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

type scanView struct {
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
	Users      int       `json:"users"`
	Clean      int       `json:"clean"`
	Drifted    int       `json:"drifted"`
	WithErrors int       `json:"with_errors"`
	Repaired   int       `json:"repaired"`
	Failed     int       `json:"failed"`
	Writes     int       `json:"writes"`
}

func newScanCmd(open Opener, flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run the integrity scan over every user once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, a *app.App) error {
				stats, err := a.NewScanJob().Scan(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), scanView{
					StartedAt:  stats.StartedAt,
					Duration:   stats.Duration.Round(time.Millisecond).String(),
					Users:      stats.Users,
					Clean:      stats.Clean,
					Drifted:    stats.Drifted,
					WithErrors: stats.WithErrors,
					Repaired:   stats.Repaired,
					Failed:     stats.Failed,
					Writes:     stats.Writes,
				})
			})
		},
	}
}
