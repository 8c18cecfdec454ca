// gamectl is the operator CLI: schema migration, chip retention, and
// story-time replay against a deployment's database.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/plastr/extrasolar/internal/config"
	"github.com/plastr/extrasolar/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "gamectl",
		Short:         "Operate an extrasolar deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config",
		os.Getenv("EXTRASOLAR_CONFIG"), "deployment config file")

	cmd.AddCommand(newMigrateCommand(&configPath))
	cmd.AddCommand(newVacuumChipsCommand(&configPath))
	cmd.AddCommand(newAdvanceCommand(&configPath))

	return cmd
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			app, err := server.NewApp(cfg)
			if err != nil {
				return err
			}
			if err := app.RunMigrations(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newVacuumChipsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum-chips",
		Short: "Delete chips older than the configured retention age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			app, err := server.NewApp(cfg)
			if err != nil {
				return err
			}
			n, err := app.VacuumChips(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d chips\n", n)
			return nil
		},
	}
}

func newAdvanceCommand(configPath *string) *cobra.Command {
	var (
		by   time.Duration
		step time.Duration
	)

	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Replay story time forward, draining deferred rows as they come due",
		Long: `Advance freezes the game clock at the present, then steps it forward
in increments, draining the deferred queue after each step. Arrivals,
message deliveries, and timers fire in the order the story scheduled
them, without waiting for wall time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if by <= 0 {
				return fmt.Errorf("--by must be positive, got %s", by)
			}
			if step <= 0 || step > by {
				return fmt.Errorf("--step must be in (0, --by], got %s", step)
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			app, clock, err := server.NewReplayApp(cfg)
			if err != nil {
				return err
			}

			start := time.Now().UTC()
			clock.Freeze(start)
			for elapsed := time.Duration(0); elapsed < by; {
				d := step
				if remaining := by - elapsed; remaining < d {
					d = remaining
				}
				clock.Advance(d)
				elapsed += d
				if err := app.TickDeferred(cmd.Context()); err != nil {
					return fmt.Errorf("tick at +%s: %w", elapsed, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "advanced %s from %s\n", by, start.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&by, "by", 24*time.Hour, "how far to advance the game clock")
	cmd.Flags().DurationVar(&step, "step", 5*time.Minute, "clock increment between queue drains")

	return cmd
}
