package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"candle-quiz/internal/models"
	"candle-quiz/pkg/utils"
)

func newSessionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a quiz session",
		Long: `Start, continue and inspect the persisted quiz session.

A session is keyed by difficulty, candle count and horizon. Starting with
the same settings resumes the stored queue; different settings replace it.`,
	}

	cmd.AddCommand(newSessionStartCmd(app))
	cmd.AddCommand(newSessionNextCmd(app))
	cmd.AddCommand(newSessionStatsCmd(app))
	cmd.AddCommand(newSessionResetCmd(app))
	return cmd
}

func newSessionStartCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start or resume a session and show its first item",
		Example: `  quiz session start
  quiz session start --difficulty Easy --candles 3 --horizon 1
  quiz session start --wait=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ctrl, err := app.controller(ctx)
			if err != nil {
				return err
			}

			item, err := ctrl.Start(ctx, settingsFromFlags(cmd, app.Config.Settings()))
			if err != nil {
				return err
			}

			if wait, _ := cmd.Flags().GetBool("wait"); wait {
				ctrl.WaitBatch()
			}

			if output.IsJSON() {
				return output.JSON(item)
			}
			output.Item(item)
			return nil
		},
	}
	addSettingsFlags(cmd)
	cmd.Flags().Bool("wait", true, "wait for the background batch so it is persisted before exit")
	return cmd
}

func newSessionNextCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Serve the next item of the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ctrl, err := app.controller(ctx)
			if err != nil {
				return err
			}

			count, _ := cmd.Flags().GetInt("count")
			items := make([]models.Item, 0, count)
			for i := 0; i < max(1, count); i++ {
				item, err := ctrl.Next(ctx)
				if err != nil {
					return err
				}
				items = append(items, item)
			}

			if output.IsJSON() {
				if len(items) == 1 {
					return output.JSON(items[0])
				}
				return output.JSON(items)
			}
			for i, item := range items {
				if i > 0 {
					output.Println()
				}
				output.Item(item)
			}
			return nil
		},
	}
	cmd.Flags().IntP("count", "n", 1, "number of items to serve")
	return cmd
}

func newSessionStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session and telemetry counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ctrl, err := app.controller(ctx)
			if err != nil {
				return err
			}
			stats, err := ctrl.Stats(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(stats)
			}

			output.Bold("Session %s", stats.Hash)
			output.Printf("  Settings:        %s, %d candles, horizon %d\n",
				stats.Settings.Difficulty, stats.Settings.Candles, stats.Settings.Horizon)
			output.Printf("  Queued:          %d external, %d local\n", stats.ExternalQueued, stats.LocalQueued)
			output.Printf("  Served:          %d\n", stats.Served)
			output.Printf("  Discarded:       %d (+%d duplicates)\n", stats.Discarded, stats.Duplicates)
			output.Printf("  Variants used:   %d\n", stats.UsedVariants)
			output.Printf("  Batch fired:     %v\n", stats.BatchFired)
			if stats.Offline {
				output.Warning("  Operating offline")
			}
			output.Println()

			t := stats.Telemetry
			output.Bold("Telemetry")
			output.Printf("  Served total:    %d\n", t.Served)
			for _, src := range []models.Source{models.SourceExternal, models.SourceLocal} {
				n := t.BySource[string(src)]
				output.Printf("    %-9s      %d (%s)\n", src, n, utils.FormatShare(n, t.Served))
			}
			output.Printf("  Renormalized:    %d\n", t.Renormalized)
			output.Printf("  Ambiguous:       %d\n", t.Ambiguous)
			output.Printf("  Gen issues:      %d\n", t.GenIssues)
			output.Printf("  Ext. failures:   %d\n", t.ExternalFailures)
			output.Printf("  Pool exhausted:  %d\n", t.PoolExhausted)

			if len(t.ByPattern) > 0 {
				output.Println()
				table := NewTable(output, "Pattern", "Served")
				for _, name := range sortedKeys(t.ByPattern) {
					table.AddRow(name, fmt.Sprintf("%d", t.ByPattern[name]))
				}
				table.Render()
			}
			return nil
		},
	}
}

func newSessionResetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctrl, err := app.controller(cmd.Context())
			if err != nil {
				return err
			}
			ctrl.Reset(cmd.Context())
			if output.IsJSON() {
				return output.JSON(map[string]bool{"reset": true})
			}
			output.Success("✓ Session reset")
			return nil
		},
	}
}

func addSettingsFlags(cmd *cobra.Command) {
	cmd.Flags().String("difficulty", "", "Easy, Medium or Hard (default from config)")
	cmd.Flags().Int("candles", 0, "candles per item, 2-5 (default from config)")
	cmd.Flags().Int("horizon", 0, "prediction horizon, 1 or 3 (default from config)")
}

func settingsFromFlags(cmd *cobra.Command, base models.Settings) models.Settings {
	s := base
	if v, _ := cmd.Flags().GetString("difficulty"); v != "" {
		s.Difficulty = models.ParseDifficulty(v)
	}
	if v, _ := cmd.Flags().GetInt("candles"); v != 0 {
		s.Candles = v
	}
	if v, _ := cmd.Flags().GetInt("horizon"); v != 0 {
		s.Horizon = v
	}
	return s.Normalized()
}
