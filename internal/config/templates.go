package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Head and Shoulders Backtester Configuration

[analysis]
# Kernel bandwidth in bars, or "cv_ls" for least-squares cross-validation
bandwidth = "cv_ls"
# Regression type: "ll" (local linear) or "lc" (local constant)
regression = "ll"
# Cross-validation search bounds in bars (max 0 = four times the normal reference rule)
min_bandwidth = 0.5
max_bandwidth = 0.0
grid_size = 24

[extrema]
# Keep only the most extreme point of consecutive same-kind extrema
collapse_runs = false

[patterns]
# Maximum bars between the first and last extremum of a pattern
max_span = 30
# Shoulders and troughs must agree within this fraction of their mean
shoulder_tolerance = 0.04
# Bounds of (left shoulder height + right shoulder height) / head height
ratio_min = 0.25
ratio_max = 0.7
# Minimum head height relative to the head price
min_prominence = 0.03

[simulation]
# Maximum bars to hold after entry (0 = until the end of the series)
max_hold_bars = 0
# Concurrent simulations (1 = sequential)
workers = 1

[data]
# Price source: "yahoo", "csv" or "store"
source = "yahoo"
symbol = "SPY"
# CSV file with date and price (or close / adj_close) columns
csv_path = ""
# Date range, YYYY-MM-DD; empty means open
start = ""
end = ""
interval = "1d"
proxy_url = ""
# Yahoo requests per second
rate_limit = 2.0

[store]
# SQLite database; empty uses hsbt.db in the config directory
# path = "~/.config/hs-backtest/hsbt.db"
save_runs = true

[logging]
level = "info"
console = true
file = true
# file_path = "~/.config/hs-backtest/logs/hsbt.log"
max_size = 100
max_backups = 7
max_age = 30

[ui]
color_enabled = true
date_format = "2006-01-02"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
