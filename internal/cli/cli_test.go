package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hs-backtest/internal/config"
	"hs-backtest/internal/models"
	"hs-backtest/internal/store"
)

// writeZigzagCSV writes daily closes linearly interpolated between anchors.
// The anchors hold one head and shoulders on bars 6..20 that breaks its
// neckline (95) and reaches the take-profit band.
func writeZigzagCSV(t *testing.T, dir string) string {
	t.Helper()
	anchors := [][2]float64{{0, 90}, {6, 100}, {10, 95}, {14, 120}, {18, 95}, {20, 100}, {25, 70}, {33, 86}}

	var b strings.Builder
	b.WriteString("date,price\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for k := 0; k+1 < len(anchors); k++ {
		x0, y0 := int(anchors[k][0]), anchors[k][1]
		x1, y1 := int(anchors[k+1][0]), anchors[k+1][1]
		for x := x0; x < x1 || (x == x1 && k == len(anchors)-2); x++ {
			y := y0 + (y1-y0)*float64(x-x0)/float64(x1-x0)
			fmt.Fprintf(&b, "%s,%v\n", start.AddDate(0, 0, x).Format("2006-01-02"), y)
		}
	}

	path := filepath.Join(dir, "zigzag.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Data.Source = "csv"
	cfg.Data.CSVPath = writeZigzagCSV(t, dir)
	cfg.Analysis.Bandwidth = "0.3"
	cfg.UI.ColorEnabled = false

	app := &App{Config: cfg, ConfigDir: dir, Logger: zerolog.Nop()}
	t.Cleanup(func() { app.Close() })
	return app, dir
}

func execute(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCmd(app)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestScanCommand_SavesAndShowsRun(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := execute(t, app, "scan", "zig", "--json")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}

	var report scanReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, out)
	}
	if report.Symbol != "ZIG" || report.Bars != 34 || !report.Saved {
		t.Errorf("report = %+v", report)
	}
	hs := report.Summaries[models.HeadAndShoulders]
	if hs.Patterns != 1 || hs.Breakouts != 1 || hs.TakeProfits != 1 {
		t.Errorf("HS summary = %+v", hs)
	}
	if len(report.Trades) != 1 || report.Trades[0].Indices != [5]int{6, 10, 14, 18, 20} {
		t.Fatalf("trades = %+v", report.Trades)
	}

	out, err = execute(t, app, "runs", "list", "--json")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	var runs []store.RunRecord
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decoding runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Patterns != 1 {
		t.Fatalf("runs = %+v", runs)
	}

	out, err = execute(t, app, "runs", "show", report.RunID)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	for _, want := range []string{report.RunID, "6-10-14-18-20", "take-profit"} {
		if !strings.Contains(out, want) {
			t.Errorf("runs show output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, app, "runs", "show", "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestScanCommand_TextOutput(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := execute(t, app, "scan", "zig", "--no-save", "--trades")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	for _, want := range []string{"ZIG  34 bars", "Head and Shoulders", "Inverse Head and Shoulders", "take-profit"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Saved as run") {
		t.Error("run saved despite --no-save")
	}
}

func TestScanCommand_InvalidFlags(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := execute(t, app, "scan", "--bandwidth", "wide")
	if err == nil {
		t.Error("expected error for invalid bandwidth")
	}
	if !strings.Contains(out, "Invalid analysis.bandwidth") {
		t.Errorf("output does not name the field:\n%s", out)
	}
	if _, err := execute(t, app, "scan", "--csv", filepath.Join(t.TempDir(), "none.csv")); err == nil {
		t.Error("expected error for missing CSV")
	}
}

func TestFetchCommand_CSVToStoreAndFile(t *testing.T) {
	app, dir := newTestApp(t)

	if out, err := execute(t, app, "fetch", "zig"); err != nil {
		t.Fatalf("fetch: %v\n%s", err, out)
	}

	out, err := execute(t, app, "symbols", "--json")
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if !strings.Contains(out, `"ZIG"`) || !strings.Contains(out, "2024-02-03") {
		t.Errorf("symbols output:\n%s", out)
	}

	// The cached prices scan the same as the CSV.
	out, err = execute(t, app, "scan", "zig", "--source", "store", "--no-save", "--json")
	if err != nil {
		t.Fatalf("scan from store: %v\n%s", err, out)
	}
	var report scanReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Bars != 34 || report.Summaries[models.HeadAndShoulders].Breakouts != 1 {
		t.Errorf("store scan = %+v", report)
	}

	outFile := filepath.Join(dir, "copy.csv")
	if _, err := execute(t, app, "fetch", "zig", "--start", "2024-01-10", "--out", outFile); err != nil {
		t.Fatalf("fetch --out: %v", err)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "date,price\n2024-01-10,") {
		t.Errorf("csv output starts %q", string(data[:min(len(data), 40)]))
	}
}

func TestConfigCommands(t *testing.T) {
	app, dir := newTestApp(t)

	out, err := execute(t, app, "config", "path")
	if err != nil || strings.TrimSpace(out) != filepath.Join(dir, "config.toml") {
		t.Errorf("config path = %q, %v", out, err)
	}

	if out, err := execute(t, app, "config", "validate"); err != nil || !strings.Contains(out, "valid") {
		t.Errorf("config validate = %q, %v", out, err)
	}

	out, err = execute(t, app, "config", "show")
	if err != nil || !strings.Contains(out, "Bandwidth:") || !strings.Contains(out, "0.3") {
		t.Errorf("config show = %q, %v", out, err)
	}

	app.Config.Patterns.MaxSpan = 0
	if _, err := execute(t, app, "config", "validate"); err == nil {
		t.Error("expected validation failure")
	}
}

func TestPipelineFromConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Analysis.Regression = "lc"
	cfg.Extrema.CollapseRuns = true
	cfg.Simulation.MaxHoldBars = 15
	cfg.Simulation.Workers = 4

	p, err := PipelineFromConfig(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Backtest.Bandwidth.CrossValidate || p.Backtest.Workers != 4 {
		t.Errorf("backtest = %+v", p.Backtest)
	}
	if p.Smoothing.Regression != "lc" || !p.Extrema.CollapseRuns || p.Simulation.MaxHoldBars != 15 {
		t.Errorf("pipeline = %+v", p)
	}
	if p.Patterns.MaxSpan != cfg.Patterns.MaxSpan || p.Patterns.RatioMax != cfg.Patterns.RatioMax {
		t.Errorf("patterns = %+v", p.Patterns)
	}

	cfg.Analysis.Bandwidth = "nope"
	if _, err := PipelineFromConfig(cfg, zerolog.Nop()); err == nil {
		t.Error("expected bandwidth error")
	}
}

func TestScanCommand_LoggerReachesPipeline(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	app, _ := newTestApp(t)
	var logs bytes.Buffer
	app.Logger = zerolog.New(&logs)

	if out, err := execute(t, app, "scan", "--no-save"); err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}

	text := logs.String()
	for _, want := range []string{
		`"command":"scan"`,
		`"operation":"smooth"`,
		`"operation":"match"`,
		`"message":"Backtest started"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("logs missing %s:\n%s", want, text)
		}
	}
}
