package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"hs-backtest/internal/analysis"
	"hs-backtest/internal/analysis/extrema"
	"hs-backtest/internal/analysis/patterns"
	"hs-backtest/internal/analysis/smoothing"
	"hs-backtest/internal/config"
	"hs-backtest/internal/feed"
	"hs-backtest/internal/logging"
	"hs-backtest/internal/store"
	"hs-backtest/internal/trading"
)

// PipelineFromConfig maps the configuration onto the pipeline stages.
func PipelineFromConfig(cfg *config.Config, logger zerolog.Logger) (trading.PipelineConfig, error) {
	bw, err := analysis.ParseBandwidth(cfg.Analysis.Bandwidth)
	if err != nil {
		return trading.PipelineConfig{}, err
	}

	sm := smoothing.DefaultConfig()
	sm.Regression = smoothing.RegressionType(cfg.Analysis.Regression)
	sm.MinBandwidth = cfg.Analysis.MinBandwidth
	sm.MaxBandwidth = cfg.Analysis.MaxBandwidth
	if cfg.Analysis.GridSize > 0 {
		sm.GridSize = cfg.Analysis.GridSize
	}
	sm.Logger = logging.WithOperation(logger, "smooth")

	ex := extrema.DefaultConfig()
	ex.CollapseRuns = cfg.Extrema.CollapseRuns
	ex.Logger = logging.WithOperation(logger, "extract")

	pt := patterns.DefaultConfig()
	pt.MaxSpan = cfg.Patterns.MaxSpan
	pt.ShoulderTolerance = cfg.Patterns.ShoulderTolerance
	pt.RatioMin = cfg.Patterns.RatioMin
	pt.RatioMax = cfg.Patterns.RatioMax
	pt.MinProminence = cfg.Patterns.MinProminence
	pt.Logger = logging.WithOperation(logger, "match")

	return trading.PipelineConfig{
		Smoothing:  sm,
		Extrema:    ex,
		Patterns:   pt,
		Simulation: trading.SimulatorConfig{MaxHoldBars: cfg.Simulation.MaxHoldBars},
		Backtest: trading.BacktestConfig{
			Bandwidth: bw,
			Workers:   cfg.Simulation.Workers,
		},
	}, nil
}

// SourceFromConfig builds the price source named by data.source.
func SourceFromConfig(cfg *config.Config, st store.DataStore, logger zerolog.Logger) (feed.Source, error) {
	switch cfg.Data.Source {
	case "csv":
		return &feed.CSVSource{Path: cfg.Data.CSVPath}, nil
	case "yahoo":
		y := feed.NewYahooSource(cfg.Data.ProxyURL, cfg.Data.RateLimit, logger)
		if cfg.Data.Interval != "" {
			y.Interval = cfg.Data.Interval
		}
		return y, nil
	case "store":
		if st == nil {
			return nil, fmt.Errorf("store source selected but no database is available")
		}
		return &feed.StoreSource{Store: st}, nil
	}
	return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
}
