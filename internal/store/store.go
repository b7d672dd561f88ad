// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"hs-backtest/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Prices
	SavePrices(ctx context.Context, symbol string, bars []models.Bar) error
	GetPrices(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
	GetPricesFreshness(ctx context.Context, symbol string) (time.Time, error)
	ListSymbols(ctx context.Context) ([]string, error)

	// Backtest runs
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)

	// Lifecycle
	Close() error
}

// RunRecord is a persisted backtest run.
type RunRecord struct {
	ID        string
	Symbol    string
	StartedAt time.Time
	Duration  time.Duration
	Bars      int
	Bandwidth float64
	Patterns  int
	Failures  int
	Trades    []TradeRecord
}

// TradeRecord is one simulated (or failed) pattern of a run.
type TradeRecord struct {
	Kind       models.PatternKind
	Window     int
	Indices    [5]int
	Prices     [5]float64
	Outcome    models.SimulationOutcome
	Return     float64
	NetReturn  float64
	Neckline   float64
	EntryIndex int
	ExitIndex  int
	ExitPrice  float64
	ExitReason models.ExitReason
	// Error is set instead of the outcome fields when simulation failed.
	Error string
}

// Failed reports whether the trade's simulation returned an error.
func (t TradeRecord) Failed() bool {
	return t.Error != ""
}

// RunFilter represents filters for querying runs.
type RunFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
