// Package patterns provides chart pattern detection over extrema sequences.
package patterns

import (
	"math"

	"github.com/rs/zerolog"

	"hs-backtest/internal/models"
)

// WindowSize is the number of consecutive extrema a pattern spans.
const WindowSize = 5

// Config holds the geometric thresholds of the matcher.
type Config struct {
	MaxSpan           int     // Maximum bars between e1 and e5
	ShoulderTolerance float64 // Allowed shoulder/trough mismatch relative to their mean
	RatioMin          float64 // Lower bound of shoulder-to-head ratio
	RatioMax          float64 // Upper bound of shoulder-to-head ratio
	MinProminence     float64 // Minimum head height relative to the head price
	Logger            zerolog.Logger
}

// DefaultConfig returns the default matcher thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSpan:           30,
		ShoulderTolerance: 0.04,
		RatioMin:          0.25,
		RatioMax:          0.7,
		MinProminence:     0.03,
		Logger:            zerolog.Nop(),
	}
}

// HeadShouldersMatcher slides a window of five extrema over a sequence and
// classifies each window as Head and Shoulders, Inverse Head and
// Shoulders, or nothing.
type HeadShouldersMatcher struct {
	cfg Config
}

// NewHeadShouldersMatcher creates a new matcher. Zero thresholds take
// their defaults.
func NewHeadShouldersMatcher(cfg Config) *HeadShouldersMatcher {
	def := DefaultConfig()
	if cfg.MaxSpan <= 0 {
		cfg.MaxSpan = def.MaxSpan
	}
	if cfg.ShoulderTolerance <= 0 {
		cfg.ShoulderTolerance = def.ShoulderTolerance
	}
	if cfg.RatioMin <= 0 {
		cfg.RatioMin = def.RatioMin
	}
	if cfg.RatioMax <= 0 {
		cfg.RatioMax = def.RatioMax
	}
	if cfg.MinProminence <= 0 {
		cfg.MinProminence = def.MinProminence
	}
	return &HeadShouldersMatcher{cfg: cfg}
}

func (m *HeadShouldersMatcher) Name() string {
	return "HeadShouldersMatcher"
}

// Match classifies every window of five consecutive extrema. Windows wider
// than MaxSpan bars are skipped.
func (m *HeadShouldersMatcher) Match(extrema models.ExtremaSequence) models.PatternSet {
	set := models.NewPatternSet()

	for w := 0; w+WindowSize <= len(extrema); w++ {
		window := extrema[w : w+WindowSize]
		if window[WindowSize-1].Index-window[0].Index > m.cfg.MaxSpan {
			continue
		}

		var p models.PatternInstance
		p.Window = w
		for k, e := range window {
			p.Prices[k] = e.Price
			p.Indices[k] = e.Index
		}

		kind, ok := m.Classify(p.Prices)
		if !ok {
			continue
		}
		p.Kind = kind
		set[kind] = append(set[kind], p)

		m.cfg.Logger.Debug().
			Str("kind", string(kind)).
			Int("window", w).
			Int("start", p.Start()).
			Int("end", p.End()).
			Msg("Pattern matched")
	}

	return set
}

// Classify applies the Head and Shoulders test first and the inverse test
// only when it fails.
func (m *HeadShouldersMatcher) Classify(e [5]float64) (models.PatternKind, bool) {
	if m.isHeadAndShoulders(e) {
		return models.HeadAndShoulders, true
	}
	if m.isInverseHeadAndShoulders(e) {
		return models.InverseHeadAndShoulders, true
	}
	return "", false
}

// isHeadAndShoulders: the middle peak is the highest, shoulders and
// troughs are level, and the head stands out.
func (m *HeadShouldersMatcher) isHeadAndShoulders(e [5]float64) bool {
	e1, e2, e3, e4, e5 := e[0], e[1], e[2], e[3], e[4]

	if !(e1 > e2 && e3 > e1 && e3 > e5) {
		return false
	}
	if !m.level(e1, e5) || !m.level(e2, e4) {
		return false
	}

	head := e3 - (e2+e4)/2
	ratio := ((e1 - e2) + (e5 - e4)) / head
	if !(ratio >= m.cfg.RatioMin && ratio <= m.cfg.RatioMax) {
		return false
	}
	return head/e3 >= m.cfg.MinProminence
}

// isInverseHeadAndShoulders mirrors isHeadAndShoulders; ratio and
// prominence are compared in absolute value.
func (m *HeadShouldersMatcher) isInverseHeadAndShoulders(e [5]float64) bool {
	e1, e2, e3, e4, e5 := e[0], e[1], e[2], e[3], e[4]

	if !(e1 < e2 && e3 < e1 && e3 < e5) {
		return false
	}
	if !m.level(e1, e5) || !m.level(e2, e4) {
		return false
	}

	head := e3 - (e2+e4)/2
	ratio := math.Abs(((e1 - e2) + (e5 - e4)) / head)
	if !(ratio >= m.cfg.RatioMin && ratio <= m.cfg.RatioMax) {
		return false
	}
	return math.Abs(head/e3) >= m.cfg.MinProminence
}

// level reports whether two prices are within tolerance of their mean.
func (m *HeadShouldersMatcher) level(a, b float64) bool {
	return math.Abs(a-b) <= m.cfg.ShoulderTolerance*(a+b)/2
}
