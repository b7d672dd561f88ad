package trading

import (
	"fmt"
	"math"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
)

// Simulator turns a detected pattern into a simulated trade.
type Simulator interface {
	Simulate(prices *models.PriceSeries, pattern models.PatternInstance) (models.SimulationResult, error)
}

// SimulatorConfig holds profit simulation settings.
type SimulatorConfig struct {
	// MaxHoldBars caps the forward walk after entry. Zero walks until the
	// end of the series.
	MaxHoldBars int
}

// ProfitSimulator opens a trade when price breaks the pattern's neckline
// and walks forward bar by bar until price leaves the take-profit or
// stop-loss band.
type ProfitSimulator struct {
	cfg SimulatorConfig
}

// NewProfitSimulator creates a new profit simulator.
func NewProfitSimulator(cfg SimulatorConfig) *ProfitSimulator {
	if cfg.MaxHoldBars < 0 {
		cfg.MaxHoldBars = 0
	}
	return &ProfitSimulator{cfg: cfg}
}

// NecklineAt evaluates the line through (e2 index, e2) and (e4 index, e4)
// at bar x.
func NecklineAt(p models.PatternInstance, x int) float64 {
	i, j := p.NecklineStart(), p.NecklineEnd()
	slope := (p.E(4) - p.E(2)) / float64(j-i)
	return p.E(2) + slope*float64(x-i)
}

// Simulate returns the trade outcome for one pattern. A pattern whose price
// never breaks the neckline yields OutcomeNoBreakout with a zero return.
func (s *ProfitSimulator) Simulate(prices *models.PriceSeries, p models.PatternInstance) (models.SimulationResult, error) {
	if err := validatePattern(prices, p); err != nil {
		return models.SimulationResult{}, err
	}

	n := prices.Len()
	i, j := p.NecklineStart(), p.NecklineEnd()
	entry := j + 2

	neck := NecklineAt(p, entry)
	if neck == 0 {
		return models.SimulationResult{}, apperrors.NewPatternError(string(p.Kind), p.Window, "neckline is zero at entry")
	}

	result := models.SimulationResult{
		Pattern:    p,
		Outcome:    models.OutcomeNoBreakout,
		Neckline:   neck,
		TakeProfit: math.Abs(p.E(3) - NecklineAt(p, i+1)),
		StopLoss:   math.Abs(p.E(5) - NecklineAt(p, j+1)),
		EntryIndex: entry,
	}

	confirm := j + 3
	if confirm >= n {
		return models.SimulationResult{}, apperrors.NewSimulationError(string(p.Kind), p.Window, n, confirm)
	}
	if !brokeOut(p.Kind, neck, prices.At(confirm)) {
		return result, nil
	}

	last := n - 1
	if s.cfg.MaxHoldBars > 0 {
		last = min(last, entry+s.cfg.MaxHoldBars)
	}

	k := entry
	for {
		if k+1 > last {
			return models.SimulationResult{}, apperrors.NewSimulationError(string(p.Kind), p.Window, last+1, k+1)
		}

		// fav > 0 means price moved in the trade's favour.
		fav := favourable(p.Kind, neck, prices.At(k))
		if fav > 0 && fav >= result.TakeProfit {
			result.ExitReason = models.ExitTakeProfit
			break
		}
		if fav <= 0 && -fav > result.StopLoss {
			result.ExitReason = models.ExitStopLoss
			break
		}
		k++
	}

	result.Outcome = models.OutcomeExited
	result.ExitBar = k
	result.ExitIndex = k + 1
	result.ExitPrice = prices.At(k + 1)
	if p.Kind == models.HeadAndShoulders {
		result.Return = 1 - result.ExitPrice/neck
	} else {
		result.Return = result.ExitPrice / neck
	}
	return result, nil
}

// brokeOut: HS confirms on a close below the neckline, IHS on a close above.
func brokeOut(kind models.PatternKind, neck, price float64) bool {
	if kind == models.HeadAndShoulders {
		return price < neck
	}
	return price > neck
}

// favourable is the signed move from the neckline in the trade's direction:
// HS trades short, IHS trades long.
func favourable(kind models.PatternKind, neck, price float64) float64 {
	if kind == models.HeadAndShoulders {
		return neck - price
	}
	return price - neck
}

func validatePattern(prices *models.PriceSeries, p models.PatternInstance) error {
	fail := func(format string, args ...interface{}) error {
		return apperrors.NewPatternError(string(p.Kind), p.Window, fmt.Sprintf(format, args...))
	}

	if !p.Kind.Valid() {
		return fail("unknown pattern kind %q", p.Kind)
	}
	for k, idx := range p.Indices {
		if idx < 0 || idx >= prices.Len() {
			return fail("e%d bar %d outside series of %d bars", k+1, idx, prices.Len())
		}
		if k > 0 && idx <= p.Indices[k-1] {
			return fail("e%d bar %d does not follow e%d bar %d", k+1, idx, k, p.Indices[k-1])
		}
	}
	for k, v := range p.Prices {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("e%d price is not finite", k+1)
		}
	}
	return nil
}
