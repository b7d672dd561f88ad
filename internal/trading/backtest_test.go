package trading

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"hs-backtest/internal/analysis"
	"hs-backtest/internal/analysis/extrema"
	"hs-backtest/internal/analysis/patterns"
	"hs-backtest/internal/analysis/smoothing"
	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
)

// zigzag interpolates linearly between (bar, price) anchors.
func zigzag(anchors [][2]float64) []float64 {
	last := int(anchors[len(anchors)-1][0])
	out := make([]float64, last+1)
	for k := 0; k+1 < len(anchors); k++ {
		x0, y0 := int(anchors[k][0]), anchors[k][1]
		x1, y1 := int(anchors[k+1][0]), anchors[k+1][1]
		for x := x0; x <= x1; x++ {
			out[x] = y0 + (y1-y0)*float64(x-x0)/float64(x1-x0)
		}
	}
	return out
}

// hsHistory holds one head and shoulders on bars 6..20 (neckline 95) that
// breaks down and reaches its take-profit band at bar 25.
func hsHistory(t *testing.T) *models.PriceSeries {
	t.Helper()
	s, err := models.NewPriceSeries("ZIGZAG", zigzag([][2]float64{
		{0, 90}, {6, 100}, {10, 95}, {14, 120}, {18, 95}, {20, 100}, {25, 70}, {33, 86},
	}))
	if err != nil {
		t.Fatalf("NewPriceSeries: %v", err)
	}
	return s
}

func pipelineConfig(workers int) PipelineConfig {
	return PipelineConfig{
		Smoothing:  smoothing.DefaultConfig(),
		Extrema:    extrema.DefaultConfig(),
		Patterns:   patterns.DefaultConfig(),
		Simulation: SimulatorConfig{},
		Backtest: BacktestConfig{
			Bandwidth: analysis.FixedBandwidth(0.3),
			Workers:   workers,
		},
	}
}

func TestBacktest_EndToEndHeadAndShoulders(t *testing.T) {
	bt := NewDefaultBacktester(pipelineConfig(1), zerolog.Nop())

	result, err := bt.Run(context.Background(), hsHistory(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := result.RawExtrema.Indices(); !reflect.DeepEqual(got, []int{6, 10, 14, 18, 20, 25}) {
		t.Fatalf("raw extrema at %v", got)
	}
	if result.Smoothed.Len() != result.Bars {
		t.Errorf("smoothed length %d != %d", result.Smoothed.Len(), result.Bars)
	}

	hs := result.Trades[models.HeadAndShoulders]
	if len(hs) != 1 || len(result.Trades[models.InverseHeadAndShoulders]) != 0 {
		t.Fatalf("trades = %+v", result.Trades)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures %+v", result.Failures)
	}

	trade := hs[0]
	if trade.Pattern.Indices != [5]int{6, 10, 14, 18, 20} {
		t.Errorf("pattern indices = %v", trade.Pattern.Indices)
	}
	if trade.ExitReason != models.ExitTakeProfit || trade.ExitIndex != 26 {
		t.Errorf("trade = %+v", trade)
	}
	want := 1 - 72.0/95.0
	if got := result.Returns()[models.HeadAndShoulders]; len(got) != 1 || math.Abs(got[0]-want) > 1e-9 {
		t.Errorf("returns = %v, want [%v]", got, want)
	}

	s := result.Summaries[models.HeadAndShoulders]
	if s.Patterns != 1 || s.Breakouts != 1 || s.TakeProfits != 1 || s.WinRate != 100 {
		t.Errorf("summary = %+v", s)
	}
	if result.RunID == "" {
		t.Error("missing run id")
	}
}

func TestBacktest_Idempotent(t *testing.T) {
	prices := hsHistory(t)
	bt := NewDefaultBacktester(pipelineConfig(1), zerolog.Nop())

	first, err := bt.Run(context.Background(), prices)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := bt.Run(context.Background(), prices)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !reflect.DeepEqual(first.Smoothed.Values(), second.Smoothed.Values()) {
		t.Error("smoothed series differ")
	}
	if !reflect.DeepEqual(first.RawExtrema, second.RawExtrema) {
		t.Error("extrema differ")
	}
	if !reflect.DeepEqual(first.Patterns, second.Patterns) {
		t.Error("patterns differ")
	}
	if !reflect.DeepEqual(first.Returns(), second.Returns()) {
		t.Error("returns differ")
	}
	if first.RunID == second.RunID {
		t.Error("run ids must be unique")
	}
}

// fixedMatcher returns a canned pattern list regardless of input.
type fixedMatcher struct {
	set models.PatternSet
}

func (m fixedMatcher) Name() string { return "fixed" }

func (m fixedMatcher) Match(models.ExtremaSequence) models.PatternSet { return m.set }

func manyPatterns(n int) models.PatternSet {
	set := models.NewPatternSet()
	for w := 0; w < n; w++ {
		p := hsPattern(100, 90, 110, 90, 100)
		p.Window = w
		if w%3 == 0 {
			// No confirmation bar in a 14 bar series.
			p.Indices = [5]int{5, 7, 9, 11, 13}
		}
		if w%5 == 0 {
			p.Kind = models.InverseHeadAndShoulders
		}
		set[p.Kind] = append(set[p.Kind], p)
	}
	return set
}

func TestBacktest_ParallelMatchesSequential(t *testing.T) {
	prices := priceSeries(t, withTail(85, 75, 65, 63, 60)...)
	set := manyPatterns(200)

	run := func(workers int) *BacktestResult {
		bt := NewBacktester(
			smoothing.NewKernelSmoother(smoothing.DefaultConfig()),
			extrema.NewExtractor(extrema.DefaultConfig()),
			fixedMatcher{set: set},
			NewProfitSimulator(SimulatorConfig{}),
			BacktestConfig{Bandwidth: analysis.FixedBandwidth(1), Workers: workers},
			zerolog.Nop(),
		)
		r, err := bt.Run(context.Background(), prices)
		if err != nil {
			t.Fatalf("Run(workers=%d): %v", workers, err)
		}
		return r
	}

	seq, par := run(1), run(8)

	if !reflect.DeepEqual(seq.Trades, par.Trades) {
		t.Error("trades differ between sequential and parallel runs")
	}
	if len(seq.Failures) != len(par.Failures) || len(seq.Failures) == 0 {
		t.Fatalf("failures: sequential %d, parallel %d", len(seq.Failures), len(par.Failures))
	}
	for i := range seq.Failures {
		if seq.Failures[i].Pattern != par.Failures[i].Pattern {
			t.Errorf("failure %d differs", i)
		}
		if !errors.Is(par.Failures[i].Err, apperrors.ErrInsufficientForwardData) {
			t.Errorf("failure %d: %v", i, par.Failures[i].Err)
		}
	}
	if !reflect.DeepEqual(seq.Summaries, par.Summaries) {
		t.Error("summaries differ")
	}
}

func TestBacktest_FailuresDoNotAbortRun(t *testing.T) {
	prices := priceSeries(t, withTail(85, 75, 65, 63, 60)...)

	good := hsPattern(100, 90, 110, 90, 100)
	bad := hsPattern(100, 90, 110, 90, 100)
	bad.Window = 1
	bad.Indices = [5]int{0, 6, 4, 2, 8}

	set := models.NewPatternSet()
	set[models.HeadAndShoulders] = []models.PatternInstance{good, bad}

	bt := NewBacktester(
		smoothing.NewKernelSmoother(smoothing.DefaultConfig()),
		extrema.NewExtractor(extrema.DefaultConfig()),
		fixedMatcher{set: set},
		NewProfitSimulator(SimulatorConfig{}),
		BacktestConfig{Bandwidth: analysis.FixedBandwidth(1)},
		zerolog.Nop(),
	)

	result, err := bt.Run(context.Background(), prices)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trades[models.HeadAndShoulders]) != 1 || len(result.Failures) != 1 {
		t.Fatalf("trades %d, failures %d", len(result.Trades[models.HeadAndShoulders]), len(result.Failures))
	}
	if !errors.Is(result.Failures[0].Err, apperrors.ErrMalformedPattern) {
		t.Errorf("failure = %v", result.Failures[0].Err)
	}
	if s := result.Summaries[models.HeadAndShoulders]; s.Patterns != 2 || s.Failures != 1 {
		t.Errorf("summary = %+v", s)
	}

	rec := result.Record()
	if rec.ID != result.RunID || rec.Patterns != 2 || rec.Failures != 1 || len(rec.Trades) != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Trades[0].Failed() || !rec.Trades[1].Failed() || rec.Trades[1].Window != 1 {
		t.Errorf("record trades = %+v", rec.Trades)
	}
	if math.Abs(rec.Trades[0].NetReturn-0.3) > 1e-9 {
		t.Errorf("net return = %v", rec.Trades[0].NetReturn)
	}
}

func TestBacktest_SmoothingErrorAborts(t *testing.T) {
	prices := priceSeries(t, 1, 2)
	bt := NewDefaultBacktester(pipelineConfig(1), zerolog.Nop())

	if _, err := bt.Run(context.Background(), prices); !errors.Is(err, apperrors.ErrNumericalFailure) {
		t.Fatalf("expected ErrNumericalFailure, got %v", err)
	}
}

func TestBacktest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bt := NewDefaultBacktester(pipelineConfig(4), zerolog.Nop())
	if _, err := bt.Run(ctx, hsHistory(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	mk := func(kind models.PatternKind, ret float64, reason models.ExitReason) models.SimulationResult {
		return models.SimulationResult{
			Pattern:    models.PatternInstance{Kind: kind},
			Outcome:    models.OutcomeExited,
			Return:     ret,
			ExitReason: reason,
		}
	}

	trades := []models.SimulationResult{
		mk(models.InverseHeadAndShoulders, 1.2, models.ExitTakeProfit),
		mk(models.InverseHeadAndShoulders, 0.9, models.ExitStopLoss),
		{Pattern: models.PatternInstance{Kind: models.InverseHeadAndShoulders}, Outcome: models.OutcomeNoBreakout},
	}

	s := Summarize(models.InverseHeadAndShoulders, trades, 1)
	if s.Patterns != 4 || s.Breakouts != 2 || s.Failures != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.TakeProfits != 1 || s.StopLosses != 1 || s.WinRate != 50 {
		t.Errorf("exits = %+v", s)
	}
	if math.Abs(s.MeanReturn-0.05) > 1e-9 || math.Abs(s.BestReturn-0.2) > 1e-9 || math.Abs(s.WorstReturn+0.1) > 1e-9 {
		t.Errorf("returns = %+v", s)
	}
	// 1.2 * 0.9 = 1.08, drawdown from 1.2 to 1.08
	if math.Abs(s.CompoundedReturn-0.08) > 1e-9 || math.Abs(s.MaxDrawdown-0.1) > 1e-9 {
		t.Errorf("equity = %+v", s)
	}

	if empty := Summarize(models.HeadAndShoulders, nil, 0); empty.MeanReturn != 0 || empty.Breakouts != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}
