package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
	"hs-backtest/internal/performance"
	"hs-backtest/pkg/utils"
)

// DefaultYahooURL is the public Yahoo Finance chart endpoint.
const DefaultYahooURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// errTransient marks failures worth retrying: network errors, throttling
// and server errors.
var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

// YahooSource fetches daily closes from the Yahoo Finance chart API.
type YahooSource struct {
	BaseURL   string
	Interval  string
	Client    *http.Client
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
	Retry     utils.RetryConfig
	Logger    zerolog.Logger

	limiter *performance.RateLimiter
}

// NewYahooSource creates a Yahoo source limited to ratePerSec requests.
func NewYahooSource(proxyURL string, ratePerSec float64, logger zerolog.Logger) *YahooSource {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	retry := utils.DefaultRetryConfig()
	retry.Retryable = isTransient
	return &YahooSource{
		BaseURL:  DefaultYahooURL,
		Interval: "1d",
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
		Retry:   retry,
		Logger:  logger,
		limiter: performance.NewRateLimiter(ratePerSec, 1),
	}
}

func (y *YahooSource) Name() string { return "yahoo" }

func (y *YahooSource) yahooSymbol(symbol string) string {
	if mapped, ok := y.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from the chart API. Missing bars
// (holidays, halts) come back as JSON nulls.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch downloads closes between from and to. A zero from means the
// earliest available bar, a zero to means now. Adjusted closes are used
// when the response carries them. Transient failures are retried.
func (y *YahooSource) Fetch(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	if to.IsZero() {
		to = time.Now()
	}

	attempt := 0
	return utils.Retry(ctx, y.Retry, func(ctx context.Context) ([]models.Bar, error) {
		attempt++
		bars, err := y.fetchOnce(ctx, symbol, from, to)
		if err != nil && isTransient(err) {
			y.Logger.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("Chart request failed")
		}
		return bars, err
	})
}

func (y *YahooSource) fetchOnce(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	if y.limiter != nil {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("interval", y.Interval)
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("events", "history")
	if from.IsZero() {
		q.Set("period1", "0")
	}
	u := fmt.Sprintf("%s/%s?%s", y.BaseURL, url.PathEscape(y.yahooSymbol(symbol)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	y.Logger.Debug().Str("symbol", symbol).Str("url", u).Msg("Fetching chart")

	resp, err := y.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewDataError(y.Name(), symbol, "request failed", fmt.Errorf("%w: %w", errTransient, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewDataError(y.Name(), symbol, "reading body", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewDataError(y.Name(), symbol, "unknown symbol", apperrors.ErrDataNotFound)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, apperrors.NewDataError(y.Name(), symbol, fmt.Sprintf("status %d", resp.StatusCode), errTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewDataError(y.Name(), symbol, fmt.Sprintf("status %d: %s", resp.StatusCode, body), nil)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, apperrors.NewDataError(y.Name(), symbol, "decoding response", err)
	}
	if chart.Chart.Error != nil {
		return nil, apperrors.NewDataError(y.Name(), symbol, chart.Chart.Error.Description, nil)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, apperrors.NewDataError(y.Name(), symbol, "no data returned", apperrors.ErrDataNotFound)
	}

	result := chart.Chart.Result[0]
	var closes []*float64
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) == len(result.Timestamp) {
		closes = result.Indicators.AdjClose[0].AdjClose
	} else if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}

	bars := make([]models.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		bars = append(bars, models.Bar{Timestamp: time.Unix(ts, 0).UTC(), Price: *closes[i]})
	}

	return normalize(bars, time.Time{}, time.Time{}), nil
}
