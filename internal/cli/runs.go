package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
	"hs-backtest/internal/store"
)

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect saved backtest runs",
	}
	cmd.AddCommand(newRunsListCmd(app))
	cmd.AddCommand(newRunsShowCmd(app))
	return cmd
}

func newRunsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			filter := store.RunFilter{}
			filter.Symbol, _ = cmd.Flags().GetString("symbol")
			filter.Symbol = strings.ToUpper(filter.Symbol)
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			runs, err := st.ListRuns(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if runs == nil {
					runs = []store.RunRecord{}
				}
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Dim("No saved runs")
				return nil
			}

			table := NewTable(output, "ID", "SYMBOL", "STARTED", "BARS", "BANDWIDTH", "PATTERNS", "FAILURES")
			for _, r := range runs {
				table.AddRow(r.ID, r.Symbol, r.StartedAt.Local().Format("2006-01-02 15:04"),
					fmt.Sprint(r.Bars), fmt.Sprintf("%.3f", r.Bandwidth), fmt.Sprint(r.Patterns), fmt.Sprint(r.Failures))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "only runs of this symbol")
	cmd.Flags().Int("limit", 20, "maximum runs listed (0 = all)")
	cmd.Flags().Int("days", 0, "only runs started in the last N days")
	return cmd
}

func newRunsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a saved run and its trades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			st, err := app.Store()
			if err != nil {
				return err
			}
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				if apperrors.Is(err, apperrors.ErrDataNotFound) {
					output.Error("No run with id %s", args[0])
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(run)
			}

			output.Bold("Run %s", run.ID)
			output.Printf("  Symbol:    %s\n", run.Symbol)
			output.Printf("  Started:   %s  (%s)\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"), FormatDuration(run.Duration))
			output.Printf("  Bars:      %d\n", run.Bars)
			output.Printf("  Bandwidth: %s\n", FormatBandwidth(run.Bandwidth))
			output.Printf("  Patterns:  %d  (failures %d)\n", run.Patterns, run.Failures)
			for _, kind := range models.PatternKinds {
				output.Printf("  %-10s %s\n", string(kind)+":", output.Return(meanNetReturn(run.Trades, kind)))
			}
			output.Println()
			displayTrades(output, run.Trades, nil, app.Config.UI.DateFormat)
			return nil
		},
	}
}

// meanNetReturn averages the net return of the breakouts of one kind.
func meanNetReturn(trades []store.TradeRecord, kind models.PatternKind) float64 {
	sum, n := 0.0, 0
	for _, t := range trades {
		if t.Kind != kind || t.Failed() || t.Outcome != models.OutcomeExited {
			continue
		}
		sum += t.NetReturn
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
