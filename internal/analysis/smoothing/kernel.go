// Package smoothing provides non-parametric kernel regression of price
// against bar index.
package smoothing

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"hs-backtest/internal/analysis"
	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
)

const (
	// MinPoints is the smallest series any smoothing accepts.
	MinPoints = 3
	// MinPointsCV is the smallest series cross-validation accepts.
	MinPointsCV = 10

	// Gaussian weights beyond this many bandwidths are below 1e-14.
	kernelReach = 8.0
)

// RegressionType selects the local polynomial degree.
type RegressionType string

const (
	LocalLinear   RegressionType = "ll"
	LocalConstant RegressionType = "lc"
)

// Config holds kernel smoother settings.
type Config struct {
	Regression RegressionType
	// MinBandwidth and MaxBandwidth bound the cross-validation search.
	// A zero MaxBandwidth means four times the normal reference bandwidth.
	MinBandwidth float64
	MaxBandwidth float64
	GridSize     int
	Tolerance    float64
	MaxIter      int
	Logger       zerolog.Logger
}

// DefaultConfig returns the default smoother configuration.
func DefaultConfig() Config {
	return Config{
		Regression:   LocalLinear,
		MinBandwidth: 0.5,
		GridSize:     24,
		Tolerance:    1e-3,
		MaxIter:      60,
		Logger:       zerolog.Nop(),
	}
}

// KernelSmoother fits a Gaussian kernel regression evaluated at every bar.
type KernelSmoother struct {
	cfg Config
}

// NewKernelSmoother creates a new kernel smoother.
func NewKernelSmoother(cfg Config) *KernelSmoother {
	def := DefaultConfig()
	if cfg.Regression == "" {
		cfg.Regression = def.Regression
	}
	if cfg.MinBandwidth <= 0 {
		cfg.MinBandwidth = def.MinBandwidth
	}
	if cfg.GridSize < 3 {
		cfg.GridSize = def.GridSize
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = def.MaxIter
	}
	return &KernelSmoother{cfg: cfg}
}

func (k *KernelSmoother) Name() string {
	return "KernelSmoother"
}

// Smooth fits the series with the given bandwidth, selecting one by
// cross-validation first when requested.
func (k *KernelSmoother) Smooth(prices *models.PriceSeries, bw analysis.Bandwidth) (*models.SmoothedSeries, error) {
	n := prices.Len()
	if n < MinPoints {
		return nil, apperrors.NewNumericalError("smooth", 0,
			fmt.Sprintf("need at least %d points, got %d", MinPoints, n))
	}

	y := prices.Values()
	h := bw.Value
	if bw.CrossValidate {
		selected, err := k.SelectBandwidth(y)
		if err != nil {
			return nil, err
		}
		h = selected
	}
	if h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return nil, apperrors.NewNumericalError("smooth", 0, fmt.Sprintf("invalid bandwidth %v", h))
	}

	fitted := make([]float64, n)
	for i := range fitted {
		m, ok := k.estimate(y, i, h, -1)
		if !ok || math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, apperrors.NewNumericalError("smooth", h, fmt.Sprintf("no finite fit at bar %d", i))
		}
		fitted[i] = m
	}

	k.cfg.Logger.Debug().
		Str("regression", string(k.cfg.Regression)).
		Float64("bandwidth", h).
		Int("bars", n).
		Msg("Series smoothed")

	return models.NewSmoothedSeries(fitted, h), nil
}

// SelectBandwidth minimises the leave-one-out least-squares
// cross-validation score: a log-spaced grid scan followed by golden-section
// refinement around the best grid point.
func (k *KernelSmoother) SelectBandwidth(y []float64) (float64, error) {
	n := len(y)
	if n < MinPointsCV {
		return 0, apperrors.NewNumericalError("cv_ls", 0,
			fmt.Sprintf("cross-validation needs at least %d points, got %d", MinPointsCV, n))
	}

	lo := k.cfg.MinBandwidth
	hi := k.cfg.MaxBandwidth
	if hi <= 0 {
		hi = 4 * NormalReference(n)
	}
	if hi <= lo {
		return 0, apperrors.NewNumericalError("cv_ls", 0,
			fmt.Sprintf("empty search interval [%g, %g]", lo, hi))
	}

	score := func(logH float64) float64 {
		return k.cvScore(y, math.Exp(logH))
	}

	logLo, logHi := math.Log(lo), math.Log(hi)
	step := (logHi - logLo) / float64(k.cfg.GridSize-1)
	best, bestScore := -1, math.Inf(1)
	for g := 0; g < k.cfg.GridSize; g++ {
		if s := score(logLo + step*float64(g)); s < bestScore {
			best, bestScore = g, s
		}
	}
	if best < 0 {
		return 0, apperrors.NewNumericalError("cv_ls", 0, "no bandwidth produced a finite cross-validation score")
	}

	a := logLo + step*float64(max(best-1, 0))
	b := logLo + step*float64(min(best+1, k.cfg.GridSize-1))
	logH, refined := goldenSection(score, a, b, k.cfg.Tolerance, k.cfg.MaxIter)
	if refined > bestScore || math.IsInf(refined, 1) {
		logH = logLo + step*float64(best)
	}

	h := math.Exp(logH)
	if logH-logLo <= step || logHi-logH <= step {
		k.cfg.Logger.Warn().
			Float64("bandwidth", h).
			Float64("search_lo", lo).
			Float64("search_hi", hi).
			Msg("Selected bandwidth lies at the edge of the search interval")
	}
	k.cfg.Logger.Debug().
		Float64("bandwidth", h).
		Float64("cv_score", math.Min(refined, bestScore)).
		Float64("search_lo", lo).
		Float64("search_hi", hi).
		Msg("Bandwidth selected")
	return h, nil
}

// cvScore is the mean squared leave-one-out residual at bandwidth h.
func (k *KernelSmoother) cvScore(y []float64, h float64) float64 {
	var sse float64
	for i := range y {
		m, ok := k.estimate(y, i, h, i)
		if !ok {
			return math.Inf(1)
		}
		r := y[i] - m
		sse += r * r
	}
	score := sse / float64(len(y))
	if math.IsNaN(score) {
		return math.Inf(1)
	}
	return score
}

// estimate evaluates the regression at bar x0, leaving out bar skip
// (pass -1 to keep every bar).
func (k *KernelSmoother) estimate(y []float64, x0 int, h float64, skip int) (float64, bool) {
	reach := int(math.Ceil(kernelReach * h))
	lo := max(0, x0-reach)
	hi := min(len(y)-1, x0+reach)

	var s0, s1, s2, t0, t1 float64
	for i := lo; i <= hi; i++ {
		if i == skip {
			continue
		}
		d := float64(i - x0)
		u := d / h
		w := math.Exp(-0.5 * u * u)
		s0 += w
		s1 += w * d
		s2 += w * d * d
		t0 += w * y[i]
		t1 += w * d * y[i]
	}

	if s0 < 1e-300 {
		return 0, false
	}
	if k.cfg.Regression == LocalConstant {
		return t0 / s0, true
	}

	// Degenerate design (one effective point): fall back to local constant.
	den := s0*s2 - s1*s1
	if den <= 1e-12*s0*s2 {
		return t0 / s0, true
	}
	return (s2*t0 - s1*t1) / den, true
}

// NormalReference is the rule-of-thumb bandwidth 1.06·σ·n^(-1/5) for an
// index domain 0..n-1.
func NormalReference(n int) float64 {
	x := make(stats.Float64Data, n)
	for i := range x {
		x[i] = float64(i)
	}
	sd, err := stats.StandardDeviationPopulation(x)
	if err != nil || sd == 0 {
		return 1
	}
	return 1.06 * sd * math.Pow(float64(n), -0.2)
}

// goldenSection minimises f on [a, b]; it returns the argmin and the value.
func goldenSection(f func(float64) float64, a, b, tol float64, maxIter int) (float64, float64) {
	const invPhi = 0.6180339887498949

	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for iter := 0; iter < maxIter && math.Abs(b-a) > tol; iter++ {
		if fc <= fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	if fc <= fd {
		return c, fc
	}
	return d, fd
}
