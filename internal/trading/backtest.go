// Package trading runs the pattern backtest: smoothing, extrema extraction,
// pattern matching and trade simulation over one price history.
package trading

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"hs-backtest/internal/analysis"
	"hs-backtest/internal/analysis/extrema"
	"hs-backtest/internal/analysis/patterns"
	"hs-backtest/internal/analysis/smoothing"
	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/logging"
	"hs-backtest/internal/models"
	"hs-backtest/internal/performance"
	"hs-backtest/internal/store"
)

// BacktestConfig holds orchestrator settings.
type BacktestConfig struct {
	Bandwidth analysis.Bandwidth
	// Workers > 1 fans simulations out over a worker pool.
	Workers int
}

// PipelineConfig bundles the settings of every default stage.
type PipelineConfig struct {
	Smoothing  smoothing.Config
	Extrema    extrema.Config
	Patterns   patterns.Config
	Simulation SimulatorConfig
	Backtest   BacktestConfig
}

// Backtester wires Smoother -> ExtremaExtractor -> PatternMatcher ->
// Simulator over a full price history.
type Backtester struct {
	smoother  analysis.Smoother
	extractor analysis.ExtremaExtractor
	matcher   analysis.PatternMatcher
	simulator Simulator
	cfg       BacktestConfig
	logger    zerolog.Logger
}

// NewBacktester creates a backtester from explicit stages.
func NewBacktester(
	smoother analysis.Smoother,
	extractor analysis.ExtremaExtractor,
	matcher analysis.PatternMatcher,
	simulator Simulator,
	cfg BacktestConfig,
	logger zerolog.Logger,
) *Backtester {
	return &Backtester{
		smoother:  smoother,
		extractor: extractor,
		matcher:   matcher,
		simulator: simulator,
		cfg:       cfg,
		logger:    logger,
	}
}

// NewDefaultBacktester builds the kernel smoother, extrema extractor, head
// and shoulders matcher and profit simulator from cfg.
func NewDefaultBacktester(cfg PipelineConfig, logger zerolog.Logger) *Backtester {
	return NewBacktester(
		smoothing.NewKernelSmoother(cfg.Smoothing),
		extrema.NewExtractor(cfg.Extrema),
		patterns.NewHeadShouldersMatcher(cfg.Patterns),
		NewProfitSimulator(cfg.Simulation),
		cfg.Backtest,
		logger,
	)
}

// SimulationFailure records a pattern whose simulation returned an error.
type SimulationFailure struct {
	Pattern models.PatternInstance
	Err     error
}

// BacktestResult holds a run's intermediate artifacts and per-kind results.
type BacktestResult struct {
	RunID           string
	Symbol          string
	Bars            int
	Bandwidth       float64
	Smoothed        *models.SmoothedSeries
	RawExtrema      models.ExtremaSequence
	SmoothedExtrema models.ExtremaSequence
	Patterns        models.PatternSet
	// Trades holds successful simulations per kind in window order.
	Trades    map[models.PatternKind][]models.SimulationResult
	Failures  []SimulationFailure
	Summaries map[models.PatternKind]Summary
	StartedAt time.Time
	Duration  time.Duration
}

// Returns maps each pattern kind to the simulated return of every
// successfully simulated instance, zero for instances without a breakout.
func (r *BacktestResult) Returns() map[models.PatternKind][]float64 {
	out := make(map[models.PatternKind][]float64, len(models.PatternKinds))
	for _, kind := range models.PatternKinds {
		returns := make([]float64, 0, len(r.Trades[kind]))
		for _, t := range r.Trades[kind] {
			returns = append(returns, t.Return)
		}
		out[kind] = returns
	}
	return out
}

// FailuresOf returns the recorded failures of one pattern kind.
func (r *BacktestResult) FailuresOf(kind models.PatternKind) []SimulationFailure {
	var out []SimulationFailure
	for _, f := range r.Failures {
		if f.Pattern.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Record converts the result into its persisted form. Trades and failures
// are merged in window order.
func (r *BacktestResult) Record() *store.RunRecord {
	rec := &store.RunRecord{
		ID:        r.RunID,
		Symbol:    r.Symbol,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Bars:      r.Bars,
		Bandwidth: r.Bandwidth,
		Patterns:  r.Patterns.Count(),
		Failures:  len(r.Failures),
	}

	for _, kind := range models.PatternKinds {
		for _, t := range r.Trades[kind] {
			rec.Trades = append(rec.Trades, store.TradeRecord{
				Kind:       kind,
				Window:     t.Pattern.Window,
				Indices:    t.Pattern.Indices,
				Prices:     t.Pattern.Prices,
				Outcome:    t.Outcome,
				Return:     t.Return,
				NetReturn:  t.NetReturn(),
				Neckline:   t.Neckline,
				EntryIndex: t.EntryIndex,
				ExitIndex:  t.ExitIndex,
				ExitPrice:  t.ExitPrice,
				ExitReason: t.ExitReason,
			})
		}
	}
	for _, f := range r.Failures {
		rec.Trades = append(rec.Trades, store.TradeRecord{
			Kind:    f.Pattern.Kind,
			Window:  f.Pattern.Window,
			Indices: f.Pattern.Indices,
			Prices:  f.Pattern.Prices,
			Error:   f.Err.Error(),
		})
	}
	sort.SliceStable(rec.Trades, func(a, b int) bool { return rec.Trades[a].Window < rec.Trades[b].Window })

	return rec
}

type simOutcome struct {
	result models.SimulationResult
	err    error
}

// Run executes the full pipeline on prices. Smoothing and extraction errors
// abort the run; simulation errors are recorded per pattern.
func (b *Backtester) Run(ctx context.Context, prices *models.PriceSeries) (*BacktestResult, error) {
	if prices == nil || prices.Len() == 0 {
		return nil, fmt.Errorf("%w: empty price series", apperrors.ErrInsufficientData)
	}

	result := &BacktestResult{
		RunID:     uuid.NewString(),
		Symbol:    prices.Symbol(),
		Bars:      prices.Len(),
		StartedAt: time.Now(),
		Trades:    make(map[models.PatternKind][]models.SimulationResult, len(models.PatternKinds)),
		Summaries: make(map[models.PatternKind]Summary, len(models.PatternKinds)),
	}
	logger := logging.WithRun(logging.WithSymbol(b.logger, prices.Symbol()), result.RunID)

	logger.Info().
		Int("bars", prices.Len()).
		Str("bandwidth", b.cfg.Bandwidth.String()).
		Msg("Backtest started")

	stage := time.Now()
	smoothed, err := b.smoother.Smooth(prices, b.cfg.Bandwidth)
	if err != nil {
		return nil, apperrors.Wrapf(err, "smoothing %s", prices.Symbol())
	}
	result.Smoothed = smoothed
	result.Bandwidth = smoothed.Bandwidth()
	logging.LogStage(logger, "smooth", smoothed.Len(), time.Since(stage))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	raw, smooth, err := b.extractor.Extract(prices, smoothed)
	if err != nil {
		return nil, apperrors.Wrap(err, "extracting extrema")
	}
	result.RawExtrema = raw
	result.SmoothedExtrema = smooth
	logging.LogStage(logger, "extract", len(raw), time.Since(stage))

	stage = time.Now()
	result.Patterns = b.matcher.Match(raw)
	logging.LogStage(logger, "match", result.Patterns.Count(), time.Since(stage))

	found := result.Patterns.All()
	for _, p := range found {
		logging.LogPattern(logger, p)
	}

	stage = time.Now()
	outcomes, err := b.simulateAll(ctx, prices, found)
	if err != nil {
		return nil, err
	}
	logging.LogStage(logger, "simulate", len(outcomes), time.Since(stage))

	for _, kind := range models.PatternKinds {
		result.Trades[kind] = []models.SimulationResult{}
	}
	for i, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, SimulationFailure{Pattern: found[i], Err: o.err})
			logging.LogSimulationFailure(logger, found[i], o.err)
			continue
		}
		result.Trades[found[i].Kind] = append(result.Trades[found[i].Kind], o.result)
		logging.LogSimulation(logger, o.result)
	}

	for _, kind := range models.PatternKinds {
		s := Summarize(kind, result.Trades[kind], len(result.FailuresOf(kind)))
		result.Summaries[kind] = s
		logging.LogRunSummary(logger, kind, s.Patterns, s.Breakouts, s.Failures, s.MeanReturn)
	}

	result.Duration = time.Since(result.StartedAt)
	logger.Info().
		Int("patterns", result.Patterns.Count()).
		Int("failures", len(result.Failures)).
		Dur("duration", result.Duration).
		Msg("Backtest completed")

	return result, nil
}

// simulateAll returns one outcome per pattern, in the order given.
func (b *Backtester) simulateAll(ctx context.Context, prices *models.PriceSeries, found []models.PatternInstance) ([]simOutcome, error) {
	simulate := func(p models.PatternInstance) simOutcome {
		r, err := b.simulator.Simulate(prices, p)
		return simOutcome{result: r, err: err}
	}

	if b.cfg.Workers <= 1 || len(found) < 2 {
		out := make([]simOutcome, len(found))
		for i, p := range found {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out[i] = simulate(p)
		}
		return out, nil
	}

	pool := performance.NewWorkerPool(b.cfg.Workers)
	pool.Start()
	defer pool.Stop()

	out, err := performance.Map(ctx, pool, found, simulate)
	stats := pool.Stats()
	b.logger.Debug().
		Int("workers", stats.Workers).
		Uint64("pooled", stats.TasksDone).
		Int("patterns", len(found)).
		Msg("Simulations fanned out")
	return out, err
}

// Summary aggregates the trades of one pattern kind. Return statistics are
// computed over net returns of breakouts only.
type Summary struct {
	Kind        models.PatternKind
	Patterns    int
	Breakouts   int
	Failures    int
	TakeProfits int
	StopLosses  int

	MeanReturn       float64
	MedianReturn     float64
	StdDev           float64
	BestReturn       float64
	WorstReturn      float64
	WinRate          float64 // percent of breakouts with a positive net return
	CompoundedReturn float64 // product of (1 + r) - 1, in window order
	MaxDrawdown      float64 // largest peak-to-trough fall of the compounded equity, fraction
}

// Summarize computes a Summary from successful simulations and the number
// of failed ones.
func Summarize(kind models.PatternKind, trades []models.SimulationResult, failures int) Summary {
	s := Summary{
		Kind:     kind,
		Patterns: len(trades) + failures,
		Failures: failures,
	}

	var net stats.Float64Data
	for _, t := range trades {
		if !t.Breakout() {
			continue
		}
		s.Breakouts++
		switch t.ExitReason {
		case models.ExitTakeProfit:
			s.TakeProfits++
		case models.ExitStopLoss:
			s.StopLosses++
		}
		net = append(net, t.NetReturn())
	}
	if len(net) == 0 {
		return s
	}

	s.MeanReturn, _ = stats.Mean(net)
	s.MedianReturn, _ = stats.Median(net)
	s.StdDev, _ = stats.StandardDeviationPopulation(net)
	s.BestReturn, _ = stats.Max(net)
	s.WorstReturn, _ = stats.Min(net)

	wins := 0
	equity, peak := 1.0, 1.0
	for _, r := range net {
		if r > 0 {
			wins++
		}
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > s.MaxDrawdown {
				s.MaxDrawdown = dd
			}
		}
	}
	s.WinRate = float64(wins) / float64(len(net)) * 100
	s.CompoundedReturn = equity - 1

	return s
}
