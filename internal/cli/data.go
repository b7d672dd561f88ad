package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hs-backtest/internal/feed"
)

func newFetchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <symbol>",
		Short: "Download a price history",
		Long: `Download closing prices and cache them in the local store, or write them
to a CSV file with --out. Cached prices can be scanned offline with
'hsbt scan <symbol> --source store'.`,
		Example: `  hsbt fetch SPY --start 2000-01-01
  hsbt fetch ^GSPC --out sp500.csv
  hsbt fetch TEST --source csv --csv export.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			cfg := *app.Config
			cfg.Data.Symbol = strings.ToUpper(args[0])
			applyScanFlags(cmd, &cfg)
			if cfg.Data.Source == "store" {
				return fmt.Errorf("fetch reads from yahoo or csv, not the store")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			from, to, err := cfg.Data.Range()
			if err != nil {
				return err
			}

			src, err := SourceFromConfig(&cfg, nil, app.Logger)
			if err != nil {
				return err
			}
			bars, err := src.Fetch(ctx, cfg.Data.Symbol, from, to)
			if err != nil {
				output.Error("Failed to fetch %s: %v", cfg.Data.Symbol, err)
				return err
			}

			out, _ := cmd.Flags().GetString("out")
			switch out {
			case "":
				st, err := app.Store()
				if err != nil {
					return err
				}
				if err := st.SavePrices(ctx, cfg.Data.Symbol, bars); err != nil {
					return err
				}
			case "-":
				return feed.WriteCSV(cmd.OutOrStdout(), bars)
			default:
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := feed.WriteCSV(f, bars); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				result := map[string]interface{}{"symbol": cfg.Data.Symbol, "bars": len(bars), "source": src.Name()}
				if len(bars) > 0 {
					result["first"] = bars[0].Timestamp
					result["last"] = bars[len(bars)-1].Timestamp
				}
				return output.JSON(result)
			}

			if len(bars) == 0 {
				output.Warning("No bars returned for %s", cfg.Data.Symbol)
				return nil
			}
			dest := "store"
			if out != "" {
				dest = out
			}
			output.Success("✓ %d bars of %s from %s saved to %s", len(bars), cfg.Data.Symbol, src.Name(), dest)
			output.Dim("  %s .. %s", FormatDate(bars[0].Timestamp, cfg.UI.DateFormat),
				FormatDate(bars[len(bars)-1].Timestamp, cfg.UI.DateFormat))
			return nil
		},
	}

	cmd.Flags().String("source", "", "price source: yahoo or csv")
	cmd.Flags().String("csv", "", "CSV file (implies --source csv)")
	cmd.Flags().String("start", "", "first date, YYYY-MM-DD")
	cmd.Flags().String("end", "", "last date, YYYY-MM-DD")
	cmd.Flags().StringP("out", "o", "", "write CSV to this file instead of the store (- for stdout)")

	return cmd
}

func newSymbolsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "symbols",
		Short: "List symbols cached in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			st, err := app.Store()
			if err != nil {
				return err
			}
			symbols, err := st.ListSymbols(ctx)
			if err != nil {
				return err
			}

			type entry struct {
				Symbol string    `json:"symbol"`
				Last   time.Time `json:"last"`
			}
			entries := make([]entry, 0, len(symbols))
			for _, s := range symbols {
				last, err := st.GetPricesFreshness(ctx, s)
				if err != nil {
					app.Logger.Warn().Err(err).Str("symbol", s).Msg("Failed to read freshness")
				}
				entries = append(entries, entry{Symbol: s, Last: last})
			}

			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Dim("No cached symbols. Use 'hsbt fetch <symbol>' first.")
				return nil
			}
			table := NewTable(output, "SYMBOL", "LAST BAR")
			for _, e := range entries {
				table.AddRow(e.Symbol, FormatDate(e.Last, app.Config.UI.DateFormat))
			}
			table.Render()
			return nil
		},
	}
}
