package feed

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
	"hs-backtest/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []models.Bar
	}{
		{
			name:  "date and price",
			input: "date,price\n2024-01-03,101.5\n2024-01-02,100\n",
			want:  []models.Bar{{Timestamp: day(2024, 1, 2), Price: 100}, {Timestamp: day(2024, 1, 3), Price: 101.5}},
		},
		{
			name:  "yahoo export prefers adjusted close",
			input: "Date,Open,High,Low,Close,Adj Close,Volume\n2024-01-02,1,2,0.5,10,9.5,100\n2024-01-03,1,2,0.5,null,null,0\n",
			want:  []models.Bar{{Timestamp: day(2024, 1, 2), Price: 9.5}},
		},
		{
			name:  "duplicate dates keep the last row",
			input: "date,close\n01/02/2024,5\n01/02/2024,6\n",
			want:  []models.Bar{{Timestamp: day(2024, 1, 2), Price: 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadCSV: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if !got[i].Timestamp.Equal(tt.want[i].Timestamp) || got[i].Price != tt.want[i].Price {
					t.Errorf("bar %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReadCSV_Errors(t *testing.T) {
	for name, input := range map[string]string{
		"bad date":  "date,price\nyesterday,1\n",
		"bad price": "date,price\n2024-01-02,abc\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	bars := []models.Bar{{Timestamp: day(2024, 5, 1), Price: 10.25}, {Timestamp: day(2024, 5, 2), Price: 11}}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, bars); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "date,price\n2024-05-01,") {
		t.Errorf("output = %q", buf.String())
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != 2 || got[0].Price != 10.25 || !got[1].Timestamp.Equal(bars[1].Timestamp) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestCSVSource_RangeAndLoadSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	data := "date,price\n2024-01-01,1\n2024-01-02,2\n2024-01-03,3\n2024-01-04,4\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	src := &CSVSource{Path: path}
	series, err := LoadSeries(context.Background(), src, "TEST", day(2024, 1, 2), day(2024, 1, 3))
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if series.Len() != 2 || series.At(0) != 2 || !series.Time(1).Equal(day(2024, 1, 3)) {
		t.Errorf("series = %v", series.Values())
	}

	_, err = LoadSeries(context.Background(), src, "TEST", day(2025, 1, 1), time.Time{})
	if !errors.Is(err, apperrors.ErrDataNotFound) {
		t.Errorf("expected ErrDataNotFound, got %v", err)
	}

	_, err = (&CSVSource{Path: filepath.Join(t.TempDir(), "missing.csv")}).Fetch(context.Background(), "X", time.Time{}, time.Time{})
	var dataErr *apperrors.DataError
	if !errors.As(err, &dataErr) {
		t.Errorf("expected DataError, got %v", err)
	}
}

const chartJSON = `{
  "chart": {
    "result": [{
      "timestamp": [1704205800, 1704292200, 1704378600],
      "indicators": {
        "quote": [{"close": [10.0, null, 12.0]}],
        "adjclose": [{"adjclose": [9.5, null, 11.5]}]
      }
    }],
    "error": null
  }
}`

func TestYahooSource_Fetch(t *testing.T) {
	var gotPath, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		w.Write([]byte(chartJSON))
	}))
	defer srv.Close()

	y := NewYahooSource("", 1000, zerolog.Nop())
	y.BaseURL = srv.URL

	bars, err := y.Fetch(context.Background(), "SPX", day(2024, 1, 1), day(2024, 1, 5))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/^GSPC" || gotInterval != "1d" {
		t.Errorf("request path %q interval %q", gotPath, gotInterval)
	}
	if len(bars) != 2 || bars[0].Price != 9.5 || bars[1].Price != 11.5 {
		t.Errorf("bars = %+v", bars)
	}
	if !bars[0].Timestamp.Equal(time.Unix(1704205800, 0)) {
		t.Errorf("timestamp = %v", bars[0].Timestamp)
	}
}

func TestYahooSource_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{"not found", http.StatusNotFound, `{}`, true},
		{"server error", http.StatusInternalServerError, `oops`, false},
		{"api error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, false},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			y := NewYahooSource("", 1000, zerolog.Nop())
			y.BaseURL = srv.URL
			y.Retry.InitialDelay = time.Millisecond

			_, err := y.Fetch(context.Background(), "XYZ", time.Time{}, time.Time{})
			var dataErr *apperrors.DataError
			if !errors.As(err, &dataErr) {
				t.Fatalf("expected DataError, got %v", err)
			}
			if got := errors.Is(err, apperrors.ErrDataNotFound); got != tt.notFound {
				t.Errorf("ErrDataNotFound = %v, want %v (%v)", got, tt.notFound, err)
			}
		})
	}
}

func TestYahooSource_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case strings.HasSuffix(r.URL.Path, "/NOPE"):
			w.WriteHeader(http.StatusNotFound)
		case n == 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte(chartJSON))
		}
	}))
	defer srv.Close()

	y := NewYahooSource("", 1000, zerolog.Nop())
	y.BaseURL = srv.URL
	y.Retry.InitialDelay = time.Millisecond

	bars, err := y.Fetch(context.Background(), "SPY", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() != 2 || len(bars) != 2 {
		t.Errorf("calls = %d, bars = %d", calls.Load(), len(bars))
	}

	// Unknown symbols are not retried.
	calls.Store(10)
	if _, err := y.Fetch(context.Background(), "NOPE", time.Time{}, time.Time{}); !errors.Is(err, apperrors.ErrDataNotFound) {
		t.Fatalf("expected ErrDataNotFound, got %v", err)
	}
	if calls.Load() != 11 {
		t.Errorf("404 requested %d times", calls.Load()-10)
	}
}

func TestStoreSource(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "feed.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	bars := []models.Bar{{Timestamp: day(2024, 2, 1), Price: 7}, {Timestamp: day(2024, 2, 2), Price: 8}}
	if err := db.SavePrices(ctx, "QQQ", bars); err != nil {
		t.Fatal(err)
	}

	series, err := LoadSeries(ctx, &StoreSource{Store: db}, "QQQ", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if series.Len() != 2 || series.At(1) != 8 || series.Symbol() != "QQQ" {
		t.Errorf("series = %v", series.Values())
	}
}
