// Package source supplies the scheduler's notion of time, current prices
// and historical bars. Live and replay sessions use different variants of
// the same Source interface.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/davidmag854/fpg-trading/market"
)

var (
	// ErrNoData means no quote or bar exists for the requested pair/time.
	ErrNoData = errors.New("no data")

	// ErrEndOfData is returned by replay operations past the last step.
	ErrEndOfData = errors.New("end of replay data")
)

type Source interface {
	// Now never goes backwards within a run.
	Now() time.Time

	MidPrice(ctx context.Context, pair string) (float64, error)

	// AggregatedBars returns daily bars for [since, since+daysBack days),
	// bucketed after shifting timestamps so the session open falls on
	// midnight.
	AggregatedBars(ctx context.Context, exchangeID, pair string, open market.SessionOpen, since time.Time, daysBack int) ([]market.Bar, error)
}

// Stepper is implemented by sources whose clock moves only when told to.
type Stepper interface {
	Advance() bool
	AtEnd() bool
}

type PriceFetcher interface {
	FetchPrice(ctx context.Context, pair string) (float64, error)
}

type CandleFetcher interface {
	FetchCandles(ctx context.Context, exchangeID, pair string, since time.Time) ([]market.Candle, error)
}

type PriceRecorder interface {
	RecordPrice(ctx context.Context, pair string, at time.Time, price float64) error
}

func window(since time.Time, daysBack int) (time.Time, time.Time) {
	if daysBack <= 0 {
		return since, time.Time{}
	}
	return since, since.Add(time.Duration(daysBack) * market.Day)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func filter(candles []market.Candle, from, to time.Time) []market.Candle {
	out := make([]market.Candle, 0, len(candles))
	for _, c := range candles {
		if inRange(c.Time, from, to) {
			out = append(out, c)
		}
	}
	return out
}
