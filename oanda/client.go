// Package oanda fetches historical candles from OANDA's v3 REST API. The
// live time source uses it to build session-aligned daily bars.
package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davidmag854/fpg-trading/market"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"

	maxCount = 5000
)

// Granularity represents the time frame for candles
type Granularity string

const (
	M1 Granularity = "M1"
	H1 Granularity = "H1"
	D  Granularity = "D"
)

func (g Granularity) duration() time.Duration {
	switch g {
	case M1:
		return time.Minute
	case D:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Client represents an OANDA API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new OANDA API client
func NewClient(token string, practice bool) *Client {
	baseURL := LiveURL
	if practice {
		baseURL = PracticeURL
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Instrument converts "BTC/USD" to OANDA's "BTC_USD".
func Instrument(pair string) string {
	return strings.ReplaceAll(strings.ToUpper(pair), "/", "_")
}

type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// GetCandles fetches up to count complete mid-price candles starting at from.
func (c *Client) GetCandles(ctx context.Context, instrument string, g Granularity, from time.Time, count int) ([]market.Candle, error) {
	if instrument == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	if count <= 0 || count > maxCount {
		return nil, fmt.Errorf("count must be in 1..%d, got %d", maxCount, count)
	}

	params := url.Values{}
	params.Set("price", "M")
	params.Set("granularity", string(g))
	params.Set("from", from.UTC().Format(time.RFC3339))
	params.Set("count", strconv.Itoa(count))

	apiURL := fmt.Sprintf("%s/v3/instruments/%s/candles?%s", c.baseURL, instrument, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp candlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	candles := make([]market.Candle, 0, len(apiResp.Candles))
	for _, ac := range apiResp.Candles {
		if !ac.Complete {
			continue
		}
		candle, err := convert(ac)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func convert(ac apiCandle) (market.Candle, error) {
	t, err := time.Parse(time.RFC3339Nano, ac.Time)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse time %s: %w", ac.Time, err)
	}
	var ohlc [4]float64
	for i, s := range []string{ac.Mid.O, ac.Mid.H, ac.Mid.L, ac.Mid.C} {
		if ohlc[i], err = strconv.ParseFloat(s, 64); err != nil {
			return market.Candle{}, fmt.Errorf("parse price %q: %w", s, err)
		}
	}
	return market.Candle{
		Open:   ohlc[0],
		High:   ohlc[1],
		Low:    ohlc[2],
		Close:  ohlc[3],
		Time:   t.UTC(),
		Volume: float64(ac.Volume),
	}, nil
}

// FetchCandles returns every complete hourly candle for pair from since up
// to now, paging through the API's count limit. exchangeID is informational;
// OANDA serves a single consolidated feed.
func (c *Client) FetchCandles(ctx context.Context, exchangeID, pair string, since time.Time) ([]market.Candle, error) {
	instrument := Instrument(pair)
	end := c.now().UTC()
	step := H1.duration()

	var out []market.Candle
	for from := since.UTC(); from.Before(end); {
		count := int(end.Sub(from)/step) + 1
		if count > maxCount {
			count = maxCount
		}
		page, err := c.GetCandles(ctx, instrument, H1, from, count)
		if err != nil {
			return nil, fmt.Errorf("candles %s (%s): %w", pair, exchangeID, err)
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		from = page[len(page)-1].Time.Add(step)
	}
	return out, nil
}
