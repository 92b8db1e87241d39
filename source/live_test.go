package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/market"
)

type fakePrices map[string]float64

func (f fakePrices) FetchPrice(ctx context.Context, pair string) (float64, error) {
	p, ok := f[pair]
	if !ok {
		return 0, errors.New("unknown pair")
	}
	return p, nil
}

type fakeCandles []market.Candle

func (f fakeCandles) FetchCandles(ctx context.Context, exchangeID, pair string, since time.Time) ([]market.Candle, error) {
	return f, nil
}

type recorded struct {
	pair  string
	price float64
}

type fakeRecorder struct{ got []recorded }

func (f *fakeRecorder) RecordPrice(ctx context.Context, pair string, at time.Time, price float64) error {
	f.got = append(f.got, recorded{pair, price})
	return nil
}

func TestLive_NowNeverGoesBack(t *testing.T) {
	l := NewLive(fakePrices{}, nil, nil, zap.NewNop())
	times := []time.Time{t0.Add(time.Minute), t0, t0.Add(2 * time.Minute)}
	i := 0
	l.clock = func() time.Time { i++; return times[i-1] }

	assert.Equal(t, t0.Add(time.Minute), l.Now())
	assert.Equal(t, t0.Add(time.Minute), l.Now())
	assert.Equal(t, t0.Add(2*time.Minute), l.Now())
}

func TestLive_MidPriceRecords(t *testing.T) {
	rec := &fakeRecorder{}
	l := NewLive(fakePrices{"BTC/USD": 100}, nil, rec, zap.NewNop())

	p, err := l.MidPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p)
	assert.Equal(t, []recorded{{"BTC/USD", 100}}, rec.got)

	_, err = l.MidPrice(context.Background(), "ETH/USD")
	assert.True(t, errors.Is(err, ErrNoData))
	assert.Len(t, rec.got, 1)
}

func TestLive_AggregatedBars(t *testing.T) {
	var candles fakeCandles
	for i := 0; i < 48; i++ {
		candles = append(candles, market.Candle{Open: 1, High: 2, Low: 0.5, Close: float64(i), Time: t0.Add(time.Duration(i) * time.Hour), Volume: 1})
	}
	l := NewLive(fakePrices{}, candles, nil, zap.NewNop())

	bars, err := l.AggregatedBars(context.Background(), "kraken", "BTC/USD", market.MustSessionOpen("00:00:00"), t0, 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 23.0, bars[0].Close)

	l = NewLive(fakePrices{}, nil, nil, zap.NewNop())
	_, err = l.AggregatedBars(context.Background(), "kraken", "BTC/USD", market.MustSessionOpen("00:00:00"), t0, 1)
	assert.True(t, errors.Is(err, ErrNoData))
}
