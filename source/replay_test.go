package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmag854/fpg-trading/market"
)

var t0 = time.Date(2018, 1, 10, 0, 0, 0, 0, time.UTC)

// hourlySeries returns n hourly quotes/candles starting at start with
// close == price == base+i.
func hourlySeries(start time.Time, n int, base float64) Series {
	var s Series
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		p := base + float64(i)
		s.Quotes = append(s.Quotes, Quote{Time: at, Price: p})
		s.Candles = append(s.Candles, market.Candle{Open: p, High: p, Low: p, Close: p, Time: at, Volume: 1})
	}
	return s
}

func TestReplay_StepsUnionTimeline(t *testing.T) {
	r, err := NewReplay(map[string]Series{
		"BTC/USD": {Quotes: []Quote{{t0, 1}, {t0.Add(2 * time.Minute), 3}}},
		"ETH/USD": {Quotes: []Quote{{t0.Add(time.Minute), 10}}},
	}, t0, time.Time{})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, t0, r.Now())
	p, err := r.MidPrice(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	_, err = r.MidPrice(ctx, "ETH/USD")
	assert.True(t, errors.Is(err, ErrNoData), "no ETH quote yet")

	require.True(t, r.Advance())
	assert.Equal(t, t0.Add(time.Minute), r.Now())
	p, err = r.MidPrice(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p, "as-of lookup keeps last quote")

	require.False(t, r.Advance() && r.Advance())
	assert.True(t, r.AtEnd())
	assert.Equal(t, t0.Add(2*time.Minute), r.Now(), "clock stays on last step")

	_, err = r.MidPrice(ctx, "XRP/USD")
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestNewReplay_Empty(t *testing.T) {
	_, err := NewReplay(map[string]Series{"BTC/USD": {}}, t0, t0.Add(time.Hour))
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestReplay_SeekAfter(t *testing.T) {
	r, err := NewReplay(map[string]Series{"BTC/USD": hourlySeries(t0, 5, 100)}, t0, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 2, r.SeekAfter(t0.Add(90*time.Minute)))
	assert.Equal(t, t0.Add(2*time.Hour), r.Now())

	assert.Equal(t, 2, r.SeekAfter(t0.Add(time.Hour)), "a step at t itself is already done")
	assert.Equal(t, 0, r.SeekAfter(t0.Add(-time.Hour)))

	assert.Equal(t, 5, r.SeekAfter(t0.Add(4*time.Hour)))
	assert.True(t, r.AtEnd())
}

func TestReplay_Seek(t *testing.T) {
	r, err := NewReplay(map[string]Series{"BTC/USD": hourlySeries(t0, 5, 1)}, t0, time.Time{})
	require.NoError(t, err)

	require.NoError(t, r.Seek(3))
	assert.Equal(t, t0.Add(3*time.Hour), r.Now())
	i, n := r.Position()
	assert.Equal(t, 3, i)
	assert.Equal(t, 5, n)
	assert.Error(t, r.Seek(6))
}

func TestReplay_AggregatedBarsClampsToCursor(t *testing.T) {
	// 30 days of hourly history starting 20 days before the replay start.
	history := t0.Add(-20 * market.Day)
	r, err := NewReplay(map[string]Series{"BTC/USD": hourlySeries(history, 30*24, 0)}, t0, time.Time{})
	require.NoError(t, err)

	open := market.MustSessionOpen("00:00:00")

	// Asking for 5 days from t0-2d would reach past the cursor, so the
	// window slides back to [t0-5d, t0).
	bars, err := r.AggregatedBars(context.Background(), "kraken", "BTC/USD", open, t0.Add(-2*market.Day), 5)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	assert.Equal(t, t0.Add(-5*market.Day), bars[0].Day)
	assert.Equal(t, t0.Add(-1*market.Day), bars[4].Day)
	for _, b := range bars {
		assert.False(t, b.Day.After(r.Now()))
	}
}

func TestReplay_AggregatedBarsSessionShift(t *testing.T) {
	history := t0.Add(-3 * market.Day)
	r, err := NewReplay(map[string]Series{"BTC/USD": hourlySeries(history, 4*24, 0)}, t0, time.Time{})
	require.NoError(t, err)

	open := market.MustSessionOpen("18:00:00")
	since := open.Anchor(t0).Add(-2 * market.Day) // t0-3d 18:00

	bars, err := r.AggregatedBars(context.Background(), "kraken", "BTC/USD", open, since, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	// The 18:00 bar opens the next shifted day.
	assert.Equal(t, time.Date(2018, 1, 8, 0, 0, 0, 0, time.UTC), bars[0].Day)
	assert.Equal(t, 24, int(bars[0].Volume))
}

func TestReadSeries(t *testing.T) {
	in := strings.Join([]string{
		"datetime,price,open,high,low,close,volume",
		"2018-01-09 23:00:00,9,8,10,7,9,1",
		"2018-01-10 00:00:00,10,9,11,8,10,2",
		"2018-01-10T01:00:00Z,11,10,12,9,11,3",
		"2018-01-11 00:00:00,12,11,13,10,12,4",
	}, "\n")

	s, err := ReadSeries(strings.NewReader(in), t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, s.Quotes, 2)
	assert.Equal(t, Quote{Time: t0, Price: 10}, s.Quotes[0])
	assert.Equal(t, 12.0, s.Candles[1].High)
	assert.Equal(t, 3.0, s.Candles[1].Volume)
}

func TestReadSeries_BadRow(t *testing.T) {
	_, err := ReadSeries(strings.NewReader("2018-01-10 00:00:00,x,1,1,1,1,1\n"), time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "bad number")

	_, err = ReadSeries(strings.NewReader("2018-01-10 00:00:00,1,1\n"), time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "want 7 columns")
}

func TestLoadReplay(t *testing.T) {
	dir := t.TempDir()
	body := "datetime,price,open,high,low,close,volume\n" +
		"2018-01-09 00:00:00,1,1,1,1,1,1\n" +
		"2018-01-10 00:00:00,2,2,2,2,2,1\n" +
		"2018-01-10 00:01:00,3,3,3,3,3,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSD.csv"), []byte(body), 0o644))

	r, err := LoadReplay(dir, []string{"BTC/USD"}, t0, t0.Add(time.Hour), 2*market.Day)
	require.NoError(t, err)
	_, n := r.Position()
	assert.Equal(t, 2, n, "warm-up rows are not clock steps")

	_, err = LoadReplay(dir, []string{"ETH/USD"}, t0, t0.Add(time.Hour), 0)
	assert.Error(t, err)
}
