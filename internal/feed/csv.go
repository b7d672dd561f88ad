package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
)

// priceRow is one CSV line. Exports name the price column differently, so
// the first non-empty of price, adj_close and close is used.
type priceRow struct {
	Date     string `csv:"date"`
	Price    string `csv:"price"`
	AdjClose string `csv:"adj_close"`
	Close    string `csv:"close"`
}

func (r priceRow) value() string {
	for _, v := range []string{r.Price, r.AdjClose, r.Close} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// CSVSource reads a date,price CSV file. The symbol passed to Fetch only
// labels the data.
type CSVSource struct {
	Path string
}

func (c *CSVSource) Name() string { return "csv" }

func (c *CSVSource) Fetch(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, apperrors.NewDataError(c.Name(), symbol, "opening "+c.Path, err)
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, apperrors.NewDataError(c.Name(), symbol, "parsing "+c.Path, err)
	}
	return normalize(bars, from, to), nil
}

// ReadCSV parses bars from CSV with a header row. Header names are matched
// case-insensitively with spaces read as underscores ("Adj Close").
// Rows with an empty or "null" price are skipped.
func ReadCSV(r io.Reader) ([]models.Bar, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	header = strings.ReplaceAll(strings.ToLower(header), " ", "_")

	var rows []*priceRow
	if err := gocsv.Unmarshal(io.MultiReader(strings.NewReader(header), br), &rows); err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		raw := row.value()
		if raw == "" || strings.EqualFold(raw, "null") {
			continue
		}
		ts, err := ParseDate(strings.TrimSpace(row.Date))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid price %q", i+2, raw)
		}
		bars = append(bars, models.Bar{Timestamp: ts, Price: price})
	}
	return normalize(bars, time.Time{}, time.Time{}), nil
}

// WriteCSV writes bars as date,price rows.
func WriteCSV(w io.Writer, bars []models.Bar) error {
	type outRow struct {
		Date  string  `csv:"date"`
		Price float64 `csv:"price"`
	}

	rows := make([]*outRow, len(bars))
	for i, b := range bars {
		ts := b.Timestamp.UTC()
		date := ts.Format(time.RFC3339)
		if ts.Equal(ts.Truncate(24 * time.Hour)) {
			date = ts.Format("2006-01-02")
		}
		rows[i] = &outRow{Date: date, Price: b.Price}
	}
	return gocsv.Marshal(rows, w)
}
