// Package models provides domain models for the pattern backtester.
package models

import (
	"fmt"
	"math"
	"time"

	apperrors "hs-backtest/internal/errors"
)

// Bar is one externally supplied observation of an instrument's price.
type Bar struct {
	Timestamp time.Time
	Price     float64
}

// PriceSeries is an immutable, 0-based, gap-free sequence of prices.
// Bar i of the series is simply index i; timestamps are kept for reporting only.
type PriceSeries struct {
	symbol string
	times  []time.Time
	prices []float64
}

// NewPriceSeries builds a series from raw prices with indices 0..N-1.
func NewPriceSeries(symbol string, prices []float64) (*PriceSeries, error) {
	for i, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: price at bar %d is not finite: %v", apperrors.ErrInvalidSeries, i, p)
		}
	}
	values := make([]float64, len(prices))
	copy(values, prices)
	return &PriceSeries{symbol: symbol, prices: values}, nil
}

// NewPriceSeriesFromBars rebases timestamped bars onto a 0-based index.
// Bars must already be in strictly increasing time order.
func NewPriceSeriesFromBars(symbol string, bars []Bar) (*PriceSeries, error) {
	prices := make([]float64, len(bars))
	times := make([]time.Time, len(bars))
	for i, b := range bars {
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: bar %d (%s) is not after bar %d (%s)",
				apperrors.ErrInvalidSeries, i, b.Timestamp.Format(time.RFC3339), i-1, bars[i-1].Timestamp.Format(time.RFC3339))
		}
		prices[i] = b.Price
		times[i] = b.Timestamp
	}

	s, err := NewPriceSeries(symbol, prices)
	if err != nil {
		return nil, err
	}
	s.times = times
	return s, nil
}

// Symbol returns the instrument the series belongs to, if known.
func (s *PriceSeries) Symbol() string { return s.symbol }

// Len returns the number of bars.
func (s *PriceSeries) Len() int { return len(s.prices) }

// At returns the price at bar i.
func (s *PriceSeries) At(i int) float64 { return s.prices[i] }

// Time returns the timestamp of bar i, or the zero time when the series
// was built without timestamps.
func (s *PriceSeries) Time(i int) time.Time {
	if s.times == nil || i < 0 || i >= len(s.times) {
		return time.Time{}
	}
	return s.times[i]
}

// Values returns a copy of the prices.
func (s *PriceSeries) Values() []float64 {
	out := make([]float64, len(s.prices))
	copy(out, s.prices)
	return out
}

// Bars returns the series as timestamped bars.
func (s *PriceSeries) Bars() []Bar {
	out := make([]Bar, len(s.prices))
	for i, p := range s.prices {
		out[i] = Bar{Timestamp: s.Time(i), Price: p}
	}
	return out
}

// SmoothedSeries holds kernel-regression fitted values over the same index
// domain as the PriceSeries it was derived from.
type SmoothedSeries struct {
	values    []float64
	bandwidth float64
}

// NewSmoothedSeries wraps fitted values produced with the given bandwidth.
func NewSmoothedSeries(values []float64, bandwidth float64) *SmoothedSeries {
	v := make([]float64, len(values))
	copy(v, values)
	return &SmoothedSeries{values: v, bandwidth: bandwidth}
}

// Len returns the number of fitted values.
func (s *SmoothedSeries) Len() int { return len(s.values) }

// At returns the fitted value at bar i.
func (s *SmoothedSeries) At(i int) float64 { return s.values[i] }

// Bandwidth returns the bandwidth the series was fitted with.
func (s *SmoothedSeries) Bandwidth() float64 { return s.bandwidth }

// Values returns a copy of the fitted values.
func (s *SmoothedSeries) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}
