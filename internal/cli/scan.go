package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hs-backtest/internal/config"
	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/feed"
	"hs-backtest/internal/logging"
	"hs-backtest/internal/models"
	"hs-backtest/internal/store"
	"hs-backtest/internal/trading"
)

// scanReport is the JSON form of a scan.
type scanReport struct {
	RunID     string                                 `json:"run_id"`
	Symbol    string                                 `json:"symbol"`
	Bars      int                                    `json:"bars"`
	Bandwidth float64                                `json:"bandwidth"`
	Extrema   int                                    `json:"extrema"`
	Saved     bool                                   `json:"saved"`
	Summaries map[models.PatternKind]trading.Summary `json:"summaries"`
	Trades    []store.TradeRecord                    `json:"trades"`
	Duration  time.Duration                          `json:"duration_ns"`
}

func newScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [symbol]",
		Short: "Backtest head and shoulders patterns on a price history",
		Long: `Load a price history, smooth it, detect head and shoulders and inverse
head and shoulders patterns, and simulate the breakout trade of each one.

Flags override the matching config.toml settings for this run.`,
		Example: `  hsbt scan SPY --start 2015-01-01
  hsbt scan ^GSPC --bandwidth 1.5 --trades
  hsbt scan TEST --source csv --csv prices.csv --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cfg := *app.Config
			if len(args) == 1 {
				cfg.Data.Symbol = strings.ToUpper(args[0])
			}
			applyScanFlags(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				var verr *apperrors.ValidationError
				if apperrors.As(err, &verr) {
					output.Error("Invalid %s: %s", verr.Field, verr.Message)
				} else {
					output.Error("Invalid settings: %v", err)
				}
				return err
			}

			series, err := loadSeries(ctx, app, &cfg)
			if err != nil {
				output.Error("Failed to load prices: %v", err)
				return err
			}

			pipeline, err := PipelineFromConfig(&cfg, logging.FromContext(ctx))
			if err != nil {
				return err
			}
			result, err := trading.NewDefaultBacktester(pipeline, logging.FromContext(ctx)).Run(ctx, series)
			if err != nil {
				output.Error("Backtest failed: %v", err)
				return err
			}

			record := result.Record()
			saved := false
			if noSave, _ := cmd.Flags().GetBool("no-save"); cfg.Store.SaveRun && !noSave {
				if err := saveRun(ctx, app, record); err != nil {
					output.Warning("Run not saved: %v", err)
				} else {
					saved = true
				}
			}

			if output.IsJSON() {
				return output.JSON(scanReport{
					RunID:     result.RunID,
					Symbol:    result.Symbol,
					Bars:      result.Bars,
					Bandwidth: result.Bandwidth,
					Extrema:   len(result.RawExtrema),
					Saved:     saved,
					Summaries: result.Summaries,
					Trades:    record.Trades,
					Duration:  result.Duration,
				})
			}

			displayScan(output, result, series, cfg.UI.DateFormat)
			if showTrades, _ := cmd.Flags().GetBool("trades"); showTrades {
				output.Println()
				displayTrades(output, record.Trades, series, cfg.UI.DateFormat)
			}
			if saved {
				output.Println()
				output.Dim("Saved as run %s", result.RunID)
			}
			return nil
		},
	}

	cmd.Flags().String("source", "", "price source: yahoo, csv or store")
	cmd.Flags().String("csv", "", "CSV file (implies --source csv)")
	cmd.Flags().String("start", "", "first date, YYYY-MM-DD")
	cmd.Flags().String("end", "", "last date, YYYY-MM-DD")
	cmd.Flags().String("bandwidth", "", "kernel bandwidth in bars, or cv_ls")
	cmd.Flags().Int("workers", 1, "concurrent simulations")
	cmd.Flags().Int("max-hold", 0, "maximum bars held after entry (0 = unbounded)")
	cmd.Flags().Bool("collapse", false, "collapse consecutive same-kind extrema")
	cmd.Flags().Bool("trades", false, "list every simulated pattern")
	cmd.Flags().Bool("no-save", false, "do not persist the run")

	return cmd
}

func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if v, _ := flags.GetString("source"); v != "" {
		cfg.Data.Source = v
	}
	if v, _ := flags.GetString("csv"); v != "" {
		cfg.Data.Source = "csv"
		cfg.Data.CSVPath = v
	}
	if flags.Changed("start") {
		cfg.Data.Start, _ = flags.GetString("start")
	}
	if flags.Changed("end") {
		cfg.Data.End, _ = flags.GetString("end")
	}
	if v, _ := flags.GetString("bandwidth"); v != "" {
		cfg.Analysis.Bandwidth = v
	}
	if flags.Changed("workers") {
		cfg.Simulation.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("max-hold") {
		cfg.Simulation.MaxHoldBars, _ = flags.GetInt("max-hold")
	}
	if flags.Changed("collapse") {
		cfg.Extrema.CollapseRuns, _ = flags.GetBool("collapse")
	}
}

// loadSeries loads prices through the configured source. Yahoo downloads
// are cached in the store.
func loadSeries(ctx context.Context, app *App, cfg *config.Config) (*models.PriceSeries, error) {
	from, to, err := cfg.Data.Range()
	if err != nil {
		return nil, err
	}

	var st store.DataStore
	if cfg.Data.Source == "store" || cfg.Data.Source == "yahoo" {
		if st, err = app.Store(); err != nil {
			if cfg.Data.Source == "store" {
				return nil, err
			}
			app.Logger.Warn().Err(err).Msg("Store unavailable, prices will not be cached")
			st = nil
		}
	}

	src, err := SourceFromConfig(cfg, st, app.Logger)
	if err != nil {
		return nil, err
	}

	series, err := feed.LoadSeries(ctx, src, cfg.Data.Symbol, from, to)
	if err != nil {
		return nil, err
	}

	if cfg.Data.Source == "yahoo" && st != nil {
		if err := st.SavePrices(ctx, cfg.Data.Symbol, series.Bars()); err != nil {
			app.Logger.Warn().Err(err).Msg("Failed to cache prices")
		}
	}
	return series, nil
}

func saveRun(ctx context.Context, app *App, record *store.RunRecord) error {
	st, err := app.Store()
	if err != nil {
		return err
	}
	return st.SaveRun(ctx, record)
}

func displayScan(output *Output, result *trading.BacktestResult, series *models.PriceSeries, dateFormat string) {
	output.Bold("%s  %d bars  %s .. %s", result.Symbol, result.Bars,
		FormatDate(series.Time(0), dateFormat), FormatDate(series.Time(series.Len()-1), dateFormat))
	output.Printf("  Bandwidth: %s   Extrema: %d   Patterns: %d   %s\n",
		FormatBandwidth(result.Bandwidth), len(result.RawExtrema), result.Patterns.Count(),
		output.DimText(FormatDuration(result.Duration)))
	output.Println()

	for _, kind := range models.PatternKinds {
		s := result.Summaries[kind]
		lines := []string{
			fmt.Sprintf("Patterns:    %d  (breakouts %d, failures %d)", s.Patterns, s.Breakouts, s.Failures),
		}
		if s.Breakouts > 0 {
			lines = append(lines,
				fmt.Sprintf("Exits:       %s %d  %s %d", output.Green("TP"), s.TakeProfits, output.Red("SL"), s.StopLosses),
				fmt.Sprintf("Mean:        %s  (median %s, σ %.2f%%)", output.Return(s.MeanReturn), FormatReturn(s.MedianReturn), s.StdDev*100),
				fmt.Sprintf("Best/Worst:  %s / %s", output.Return(s.BestReturn), output.Return(s.WorstReturn)),
				fmt.Sprintf("Win rate:    %.1f%%", s.WinRate),
				fmt.Sprintf("Compounded:  %s  (max drawdown %.2f%%)", output.Return(s.CompoundedReturn), s.MaxDrawdown*100),
			)
		}
		output.Box(kind.Name(), lines)
	}
}

func displayTrades(output *Output, trades []store.TradeRecord, series *models.PriceSeries, dateFormat string) {
	if len(trades) == 0 {
		output.Dim("No patterns found")
		return
	}

	date := func(i int) string {
		if series == nil || i < 0 || i >= series.Len() {
			return fmt.Sprintf("#%d", i)
		}
		return FormatDate(series.Time(i), dateFormat)
	}

	table := NewTable(output, "#", "KIND", "BARS", "NECKLINE", "ENTRY", "EXIT", "EXIT PRICE", "REASON", "RETURN")
	for _, t := range trades {
		switch {
		case t.Failed():
			table.AddRow(fmt.Sprint(t.Window), string(t.Kind), FormatIndices(t.Indices), "", "", "", "",
				output.Yellow(TruncateString(t.Error, 40)), "")
		case t.Outcome == models.OutcomeNoBreakout:
			table.AddRow(fmt.Sprint(t.Window), string(t.Kind), FormatIndices(t.Indices), FormatPrice(t.Neckline),
				"", "", "", output.DimText("no breakout"), FormatReturn(0))
		default:
			table.AddRow(fmt.Sprint(t.Window), string(t.Kind), FormatIndices(t.Indices), FormatPrice(t.Neckline),
				date(t.EntryIndex), date(t.ExitIndex), FormatPrice(t.ExitPrice),
				output.ExitReason(string(t.ExitReason)), output.Return(t.NetReturn))
		}
	}
	table.Render()
}
