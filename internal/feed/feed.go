// Package feed loads price histories from CSV files, the Yahoo Finance
// chart API or the local store.
package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
	"hs-backtest/internal/store"
)

// Source supplies timestamped prices for one symbol.
type Source interface {
	Name() string
	// Fetch returns bars in [from, to] in strictly increasing time order.
	// Zero bounds are open.
	Fetch(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
}

// LoadSeries fetches bars from src and rebases them into a PriceSeries.
func LoadSeries(ctx context.Context, src Source, symbol string, from, to time.Time) (*models.PriceSeries, error) {
	bars, err := src.Fetch(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, apperrors.NewDataError(src.Name(), symbol, "no prices in range", apperrors.ErrDataNotFound)
	}
	return models.NewPriceSeriesFromBars(symbol, bars)
}

// normalize sorts bars by time, keeps the last bar of any duplicate
// timestamp and drops bars outside [from, to].
func normalize(bars []models.Bar, from, to time.Time) []models.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	out := bars[:0]
	for _, b := range bars {
		if !from.IsZero() && b.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && b.Timestamp.After(to) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// StoreSource reads prices previously saved in the local database.
type StoreSource struct {
	Store store.DataStore
}

func (s *StoreSource) Name() string { return "store" }

func (s *StoreSource) Fetch(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	bars, err := s.Store.GetPrices(ctx, symbol, from, to)
	if err != nil {
		return nil, apperrors.NewDataError(s.Name(), symbol, "reading stored prices", err)
	}
	return bars, nil
}

// ParseDate accepts the date layouts commonly found in price exports.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"20060102",
}
