// Package root wires the questctl command tree.
package root

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/habitquest/progression-engine/config"
	"github.com/habitquest/progression-engine/internal/app"
	"github.com/habitquest/progression-engine/pkg/logger"
)

const Version = "0.1.0"

// Flags are the persistent flags shared by every subcommand.
type Flags struct {
	Memory  bool
	EnvFile string
}

// Opener builds the application for one command invocation. The returned
// cleanup releases it.
type Opener func(ctx context.Context, flags *Flags) (*app.App, func(), error)

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := NewRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree around open.
func NewRootCmd(open Opener) *cobra.Command {
	flags := &Flags{}

	cmd := &cobra.Command{
		Use:           "questctl",
		Short:         "Progression and data-integrity tooling for HabitQuest",
		Long:          "questctl grants experience, records habit completions, updates goals and checks or repairs stored progression data.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&flags.Memory, "memory", false, "use the in-memory store instead of PostgreSQL and Redis")
	cmd.PersistentFlags().StringVar(&flags.EnvFile, "env-file", ".env", "dotenv file loaded before the environment")

	cmd.AddCommand(
		newCheckCmd(open, flags),
		newRepairCmd(open, flags),
		newApplyCmd(open, flags),
		newCompleteCmd(open, flags),
		newGoalCmd(open, flags),
		newMigrateCmd(open, flags),
		newSeedCmd(open, flags),
		newScanCmd(open, flags),
	)
	return cmd
}

func openApp(ctx context.Context, flags *Flags) (*app.App, func(), error) {
	cfg, err := config.Load(flags.EnvFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Telemetry.LogLevel),
	})

	a, err := app.New(ctx, cfg, log, app.Options{InMemory: flags.Memory})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		a.Close()
		_ = log.Sync()
	}
	return a, cleanup, nil
}

// withApp opens the application, runs fn and releases it.
func withApp(cmd *cobra.Command, open Opener, flags *Flags, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, cleanup, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
