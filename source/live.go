package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/market"
)

// Live reads the wall clock and asks the gateway for prices. Every fetched
// price is handed to the optional recorder.
type Live struct {
	prices  PriceFetcher
	candles CandleFetcher
	rec     PriceRecorder
	clock   func() time.Time
	log     *zap.Logger

	mu   sync.Mutex
	last time.Time
}

func NewLive(prices PriceFetcher, candles CandleFetcher, rec PriceRecorder, log *zap.Logger) *Live {
	return &Live{
		prices:  prices,
		candles: candles,
		rec:     rec,
		clock:   time.Now,
		log:     log.With(zap.String("component", "live-source")),
	}
}

func (l *Live) Now() time.Time {
	t := l.clock().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	if t.Before(l.last) {
		t = l.last
	}
	l.last = t
	return t
}

func (l *Live) MidPrice(ctx context.Context, pair string) (float64, error) {
	p, err := l.prices.FetchPrice(ctx, pair)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNoData, pair, err)
	}
	if p <= 0 {
		return 0, fmt.Errorf("%w: %s: non-positive price %g", ErrNoData, pair, p)
	}

	if l.rec != nil {
		if err := l.rec.RecordPrice(ctx, pair, l.Now(), p); err != nil {
			l.log.Warn("record price", zap.String("pair", pair), zap.Error(err))
		}
	}
	return p, nil
}

func (l *Live) AggregatedBars(ctx context.Context, exchangeID, pair string, open market.SessionOpen, since time.Time, daysBack int) ([]market.Bar, error) {
	if l.candles == nil {
		return nil, fmt.Errorf("%w: no candle history configured", ErrNoData)
	}
	from, to := window(since, daysBack)

	candles, err := l.candles.FetchCandles(ctx, exchangeID, pair, from)
	if err != nil {
		return nil, fmt.Errorf("%w: %s bars: %v", ErrNoData, pair, err)
	}
	bars := market.Aggregate(filter(candles, from, to), open)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s has no bars since %s", ErrNoData, pair, from.Format(time.DateTime))
	}
	return bars, nil
}
