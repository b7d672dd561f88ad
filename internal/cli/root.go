// Package cli provides the command-line interface for the backtester.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hs-backtest/internal/config"
	"hs-backtest/internal/logging"
	"hs-backtest/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. A nil Config is loaded from the
// --config directory before any command runs.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger

	storeOnce sync.Once
	store     store.DataStore
	storeErr  error
}

// Store opens the SQLite store on first use.
func (a *App) Store() (store.DataStore, error) {
	a.storeOnce.Do(func() {
		path := a.Config.Store.Path
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			a.storeErr = fmt.Errorf("creating store directory: %w", err)
			return
		}
		db, err := store.NewSQLiteStore(path)
		if err != nil {
			a.storeErr = err
			return
		}
		a.store = db
		a.Logger.Debug().Str("path", path).Msg("SQLite store initialized")
	})
	return a.store, a.storeErr
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hsbt",
		Short: "Head and shoulders pattern backtester",
		Long: `hsbt smooths a price history with kernel regression, finds its turning
points, detects head and shoulders and inverse head and shoulders patterns,
and simulates the neckline breakout trade of every pattern found.

Use 'hsbt scan <symbol>' to run a backtest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				dir, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(dir)
				if err != nil {
					fallback := logging.NewLogger()
					fallback.Error().Err(err).Str("dir", dir).Msg("Failed to load configuration")
					return err
				}
				app.Config = cfg
				app.ConfigDir = dir
				app.Logger = logging.NewLoggerWithConfig(cfg.LogConfig())
			}
			if app.ConfigDir == "" {
				app.ConfigDir = config.DefaultConfigDir()
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			if !app.Config.UI.ColorEnabled {
				color.NoColor = true
			}
			app.Logger = logging.WithCommand(app.Logger, cmd.Name())
			cmd.SetContext(logging.WithLogger(cmd.Context(), app.Logger))
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/hs-backtest)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newFetchCmd(app))
	rootCmd.AddCommand(newSymbolsCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("hsbt v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	row := func(label string, value interface{}) {
		output.Printf("  %s %v\n", PadRight(label+":", 20), value)
	}

	output.Bold("Analysis")
	row("Bandwidth", cfg.Analysis.Bandwidth)
	row("Regression", cfg.Analysis.Regression)
	row("CV bounds", fmt.Sprintf("[%g, %g]", cfg.Analysis.MinBandwidth, cfg.Analysis.MaxBandwidth))
	row("Collapse runs", cfg.Extrema.CollapseRuns)
	output.Println()

	output.Bold("Patterns")
	row("Max span", cfg.Patterns.MaxSpan)
	row("Shoulder tolerance", cfg.Patterns.ShoulderTolerance)
	row("Ratio", fmt.Sprintf("[%g, %g]", cfg.Patterns.RatioMin, cfg.Patterns.RatioMax))
	row("Min prominence", cfg.Patterns.MinProminence)
	output.Println()

	output.Bold("Simulation")
	row("Max hold bars", cfg.Simulation.MaxHoldBars)
	row("Workers", cfg.Simulation.Workers)
	output.Println()

	output.Bold("Data")
	row("Source", cfg.Data.Source)
	row("Symbol", cfg.Data.Symbol)
	if cfg.Data.CSVPath != "" {
		row("CSV path", cfg.Data.CSVPath)
	}
	row("Range", fmt.Sprintf("%s .. %s", orOpen(cfg.Data.Start), orOpen(cfg.Data.End)))
	row("Store", cfg.Store.Path)
	row("Log file", cfg.Logging.FilePath)
}

func orOpen(s string) string {
	if s == "" {
		return "open"
	}
	return s
}
