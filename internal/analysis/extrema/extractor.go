// Package extrema finds turning points on a smoothed curve and pins them
// to the tradable raw price bars.
package extrema

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
)

// Config holds extractor settings.
type Config struct {
	// HalfWindow sets the raw re-localization window [i-HalfWindow, i+HalfWindow).
	HalfWindow int
	// Margin is the number of bars at each end of the series that never
	// carry an extremum.
	Margin int
	// CollapseRuns keeps only the most extreme point of consecutive
	// same-kind extrema.
	CollapseRuns bool
	Logger       zerolog.Logger
}

// DefaultConfig returns the default extractor configuration.
func DefaultConfig() Config {
	return Config{
		HalfWindow: 2,
		Margin:     2,
		Logger:     zerolog.Nop(),
	}
}

// Extractor implements analysis.ExtremaExtractor.
type Extractor struct {
	cfg Config
}

// NewExtractor creates a new extrema extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.HalfWindow <= 0 {
		cfg.HalfWindow = 2
	}
	if cfg.Margin < 0 {
		cfg.Margin = 0
	}
	return &Extractor{cfg: cfg}
}

func (e *Extractor) Name() string {
	return "ExtremaExtractor"
}

// candidate is a re-localized raw extremum and the smoothed bar it came from.
type candidate struct {
	point  models.ExtremumPoint
	source int
}

// Extract returns the raw extrema (re-localized onto the price series) and
// the strict local extrema of the smoothed series, both sorted by index.
func (e *Extractor) Extract(prices *models.PriceSeries, smoothed *models.SmoothedSeries) (models.ExtremaSequence, models.ExtremaSequence, error) {
	n := prices.Len()
	if smoothed.Len() != n {
		return nil, nil, fmt.Errorf("%w: smoothed series has %d bars, prices have %d",
			apperrors.ErrInvalidSeries, smoothed.Len(), n)
	}

	smooth := SmoothedExtrema(smoothed)

	byIndex := make(map[int]candidate, len(smooth))
	for _, se := range smooth {
		i := se.Index
		if i <= 1 || i >= n-1 {
			continue
		}

		idx := e.relocalize(prices, i, se.Kind)
		if idx < e.cfg.Margin || idx > n-1-e.cfg.Margin {
			continue
		}

		c := candidate{
			point:  models.ExtremumPoint{Index: idx, Price: prices.At(idx), Kind: se.Kind},
			source: i,
		}
		if prev, ok := byIndex[idx]; ok && !closer(c, prev) {
			continue
		}
		byIndex[idx] = c
	}

	raw := make(models.ExtremaSequence, 0, len(byIndex))
	for _, c := range byIndex {
		raw = append(raw, c.point)
	}
	sort.Slice(raw, func(a, b int) bool { return raw[a].Index < raw[b].Index })

	if e.cfg.CollapseRuns {
		raw = collapseRuns(raw)
	}

	e.cfg.Logger.Debug().
		Int("bars", n).
		Int("smoothed_extrema", len(smooth)).
		Int("raw_extrema", len(raw)).
		Msg("Extrema extracted")

	return raw, smooth, nil
}

// SmoothedExtrema returns the strict local maxima and minima of s.
// Endpoints are never extrema.
func SmoothedExtrema(s *models.SmoothedSeries) models.ExtremaSequence {
	var out models.ExtremaSequence
	for i := 1; i < s.Len()-1; i++ {
		v := s.At(i)
		switch {
		case v > s.At(i-1) && v > s.At(i+1):
			out = append(out, models.ExtremumPoint{Index: i, Price: v, Kind: models.ExtremumMax})
		case v < s.At(i-1) && v < s.At(i+1):
			out = append(out, models.ExtremumPoint{Index: i, Price: v, Kind: models.ExtremumMin})
		}
	}
	return out
}

// relocalize returns the first bar holding the raw max (or min) of the
// window around smoothed bar i.
func (e *Extractor) relocalize(prices *models.PriceSeries, i int, kind models.ExtremumKind) int {
	lo := max(0, i-e.cfg.HalfWindow)
	hi := min(prices.Len(), i+e.cfg.HalfWindow)

	best := lo
	for j := lo + 1; j < hi; j++ {
		p := prices.At(j)
		if kind == models.ExtremumMax && p > prices.At(best) {
			best = j
		}
		if kind == models.ExtremumMin && p < prices.At(best) {
			best = j
		}
	}
	return best
}

// closer decides a collision on one raw bar: the candidate whose smoothed
// source is nearer wins, ties keep the earlier source.
func closer(c, prev candidate) bool {
	if c.point.Kind == prev.point.Kind {
		return false
	}
	dc := abs(c.source - c.point.Index)
	dp := abs(prev.source - prev.point.Index)
	if dc != dp {
		return dc < dp
	}
	return c.source < prev.source
}

// collapseRuns reduces every run of same-kind extrema to its most extreme
// point (earliest on ties).
func collapseRuns(seq models.ExtremaSequence) models.ExtremaSequence {
	if len(seq) == 0 {
		return seq
	}
	out := models.ExtremaSequence{seq[0]}
	for _, p := range seq[1:] {
		last := &out[len(out)-1]
		if p.Kind != last.Kind {
			out = append(out, p)
			continue
		}
		if (p.Kind == models.ExtremumMax && p.Price > last.Price) ||
			(p.Kind == models.ExtremumMin && p.Price < last.Price) {
			*last = p
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
