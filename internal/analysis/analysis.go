// Package analysis provides the technical analysis stages of the backtester:
// smoothing, extrema extraction and chart pattern detection.
package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"hs-backtest/internal/models"
)

// Smoother fits a denoised curve over a price series.
type Smoother interface {
	Name() string
	Smooth(prices *models.PriceSeries, bw Bandwidth) (*models.SmoothedSeries, error)
}

// ExtremaExtractor finds turning points of a series.
type ExtremaExtractor interface {
	Name() string
	Extract(prices *models.PriceSeries, smoothed *models.SmoothedSeries) (raw, smooth models.ExtremaSequence, err error)
}

// PatternMatcher classifies windows of consecutive extrema.
type PatternMatcher interface {
	Name() string
	Match(extrema models.ExtremaSequence) models.PatternSet
}

// CrossValidationLS is the textual name of least-squares cross-validation.
const CrossValidationLS = "cv_ls"

// Bandwidth selects either a fixed kernel bandwidth or automatic
// least-squares cross-validated selection.
type Bandwidth struct {
	Value         float64
	CrossValidate bool
}

// FixedBandwidth returns a fixed bandwidth of h bars.
func FixedBandwidth(h float64) Bandwidth {
	return Bandwidth{Value: h}
}

// CrossValidatedBandwidth returns the cross-validation selection mode.
func CrossValidatedBandwidth() Bandwidth {
	return Bandwidth{CrossValidate: true}
}

// ParseBandwidth accepts "cv_ls" or a positive number.
func ParseBandwidth(s string) (Bandwidth, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, CrossValidationLS) {
		return CrossValidatedBandwidth(), nil
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Bandwidth{}, fmt.Errorf("bandwidth must be %q or a number: %w", CrossValidationLS, err)
	}
	if h <= 0 {
		return Bandwidth{}, fmt.Errorf("bandwidth must be positive, got %g", h)
	}
	return FixedBandwidth(h), nil
}

func (b Bandwidth) String() string {
	if b.CrossValidate {
		return CrossValidationLS
	}
	return strconv.FormatFloat(b.Value, 'g', -1, 64)
}
