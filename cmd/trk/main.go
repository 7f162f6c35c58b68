package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trk-go/internal/app"
	"trk-go/internal/config"
	"trk-go/internal/trk"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a TrkApp. The caller must defer
// app.Close(). operation identifies the CLI command being run.
func newApp(operation string) (*app.TrkApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewTrkApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func printResult(res *trk.ImportResult) {
	switch res.Outcome {
	case trk.OutcomePersisted:
		fmt.Printf("persisted  %s  activities:%d", res.Fingerprint[:12], len(res.ActivityIDs))
		if res.Truncated {
			fmt.Print("  (truncated source)")
		}
		fmt.Println()
	case trk.OutcomeSkipped:
		fmt.Printf("skipped    %s  (already imported)\n", res.Fingerprint[:12])
	case trk.OutcomeFailed:
		fmt.Printf("failed     %s  %s\n", res.Fingerprint[:12], res.Reason)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trk",
	Short: "Activity recorder ingestion service",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Scan Roots: %v (every %dm, depth %d, %s)\n",
			cfg.Scan.Roots, cfg.Scan.IntervalMinutes, cfg.Scan.MaxDepth, cfg.Scan.Extension)
		fmt.Printf("Archive:    %s %s\n", cfg.Archive.Type, cfg.Archive.Root)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Listen:     %s\n", cfg.Server.Listen)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan-and-import pass over the configured roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := a.RunScan(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pass finished in %s: persisted %d, skipped %d, failed %d\n",
			pass.FinishedAt.Sub(pass.StartedAt).Truncate(1e6),
			pass.Persisted, pass.Skipped, pass.Failed)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a single recording file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ImportFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

// retry command
var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-attempt decoding of failed assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Retry")
		if err != nil {
			return err
		}
		defer a.Close()

		recovered, err := a.RetryFailed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("recovered %d asset(s)\n", recovered)
		return nil
	},
}

// activities command
var activitiesCmd = &cobra.Command{
	Use:   "activities [ID]",
	Short: "List activities, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Activities")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if len(args) == 1 {
			return showActivity(ctx, a, args[0])
		}

		limit, _ := cmd.Flags().GetInt("limit")
		activities, err := a.ListActivities(ctx, limit)
		if err != nil {
			return err
		}
		if len(activities) == 0 {
			fmt.Println("No activities recorded.")
			return nil
		}
		for _, act := range activities {
			distance := "-"
			if act.DistanceM != nil {
				distance = fmt.Sprintf("%.1fkm", *act.DistanceM/1000)
			}
			fmt.Printf("%s  %s  %-10s  %6.0fs  %s\n",
				act.ID,
				act.StartTime.Format("2006-01-02 15:04"),
				act.Sport,
				act.DurationS,
				distance,
			)
		}
		return nil
	},
}

func showActivity(ctx context.Context, a *app.TrkApp, id string) error {
	act, samples, err := a.GetActivity(ctx, id)
	if err != nil {
		return err
	}
	if act == nil {
		return fmt.Errorf("activity not found: %s", id)
	}

	fmt.Printf("ID:        %s\n", act.ID)
	fmt.Printf("Asset:     %s\n", act.AssetID)
	fmt.Printf("Sport:     %s\n", act.Sport)
	fmt.Printf("Start:     %s\n", act.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Duration:  %.0fs\n", act.DurationS)
	if act.DistanceM != nil {
		fmt.Printf("Distance:  %.1fm\n", *act.DistanceM)
	}
	if act.AvgHeartRate != nil {
		fmt.Printf("Avg HR:    %.0f\n", *act.AvgHeartRate)
	}
	if act.AvgPower != nil {
		fmt.Printf("Avg Power: %.0fW\n", *act.AvgPower)
	}
	if act.TrainingStress != nil {
		fmt.Printf("TSS:       %.1f\n", *act.TrainingStress)
	}
	fmt.Printf("Laps:      %d\n", act.NumLaps)
	fmt.Printf("Samples:   %d\n", len(samples))
	return nil
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an activity (the archived source file is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteActivity(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingest health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		if st.LastPass == nil {
			fmt.Println("No passes recorded yet.")
		} else {
			p := st.LastPass
			fmt.Printf("Last pass: %s (%s)  persisted %d, skipped %d, failed %d\n",
				p.FinishedAt.Format("2006-01-02 15:04:05"), p.Trigger,
				p.Persisted, p.Skipped, p.Failed)
		}
		fmt.Printf("Failed assets: %d\n", st.FailedAssets)
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Stats")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Assets:     %d\n", st.Assets)
		fmt.Printf("Activities: %d\n", st.Activities)
		fmt.Printf("Duration:   %.1fh\n", st.TotalDurationS/3600)
		fmt.Printf("Distance:   %.1fkm\n", st.TotalDistanceM/1000)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background scanner and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.RunDaemon(ctx)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(activitiesCmd)
	activitiesCmd.Flags().IntP("limit", "n", 50, "Maximum number of activities to show")
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}
