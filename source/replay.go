package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/davidmag854/fpg-trading/market"
)

// Quote is one sampled mid price.
type Quote struct {
	Time  time.Time
	Price float64
}

// Series is the replay data for one pair: the sampled prices the clock
// steps through, and the candles bars are aggregated from (including any
// warm-up history before the first step).
type Series struct {
	Quotes  []Quote
	Candles []market.Candle
}

// Replay steps a cursor over the union of every pair's quote times inside
// [start, end]. Prices are looked up as of the cursor; bars never include
// candles after it.
type Replay struct {
	series   map[string]Series
	timeline []time.Time
	cursor   int
}

func NewReplay(data map[string]Series, start, end time.Time) (*Replay, error) {
	r := &Replay{series: make(map[string]Series, len(data))}

	seen := make(map[time.Time]struct{})
	for pair, s := range data {
		quotes := append([]Quote(nil), s.Quotes...)
		sort.Slice(quotes, func(i, j int) bool { return quotes[i].Time.Before(quotes[j].Time) })
		candles := append([]market.Candle(nil), s.Candles...)
		sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
		r.series[pair] = Series{Quotes: quotes, Candles: candles}

		for _, q := range quotes {
			if q.Time.Before(start) || (!end.IsZero() && q.Time.After(end)) {
				continue
			}
			if _, ok := seen[q.Time]; !ok {
				seen[q.Time] = struct{}{}
				r.timeline = append(r.timeline, q.Time)
			}
		}
	}
	if len(r.timeline) == 0 {
		return nil, fmt.Errorf("%w: no quotes between %s and %s", ErrNoData, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	sort.Slice(r.timeline, func(i, j int) bool { return r.timeline[i].Before(r.timeline[j]) })
	return r, nil
}

// Now is the cursor time. Past the end it stays on the last step so that
// end-of-run liquidation prices at the final quote.
func (r *Replay) Now() time.Time {
	i := r.cursor
	if i >= len(r.timeline) {
		i = len(r.timeline) - 1
	}
	return r.timeline[i]
}

func (r *Replay) Advance() bool {
	if r.cursor < len(r.timeline) {
		r.cursor++
	}
	return r.cursor < len(r.timeline)
}

func (r *Replay) AtEnd() bool { return r.cursor >= len(r.timeline) }

// Position reports the cursor and the number of steps.
func (r *Replay) Position() (int, int) { return r.cursor, len(r.timeline) }

// Seek moves the cursor to step i, for resuming a run.
func (r *Replay) Seek(i int) error {
	if i < 0 || i > len(r.timeline) {
		return fmt.Errorf("seek %d out of range [0, %d]", i, len(r.timeline))
	}
	r.cursor = i
	return nil
}

// SeekAfter moves the cursor to the first step later than t and returns
// it. Past the last step the replay is at its end.
func (r *Replay) SeekAfter(t time.Time) int {
	i := sort.Search(len(r.timeline), func(i int) bool { return r.timeline[i].After(t) })
	_ = r.Seek(i)
	return i
}

func (r *Replay) MidPrice(ctx context.Context, pair string) (float64, error) {
	s, ok := r.series[pair]
	if !ok {
		return 0, fmt.Errorf("%w: unknown pair %s", ErrNoData, pair)
	}
	now := r.Now()
	i := sort.Search(len(s.Quotes), func(i int) bool { return s.Quotes[i].Time.After(now) }) - 1
	if i < 0 {
		return 0, fmt.Errorf("%w: %s has no quote at %s", ErrNoData, pair, now.Format(time.DateTime))
	}
	return s.Quotes[i].Price, nil
}

// AggregatedBars clamps the window so it never reaches past the cursor,
// stepping it back a day at a time.
func (r *Replay) AggregatedBars(ctx context.Context, exchangeID, pair string, open market.SessionOpen, since time.Time, daysBack int) ([]market.Bar, error) {
	s, ok := r.series[pair]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pair %s", ErrNoData, pair)
	}

	now := r.Now()
	from, to := window(since, daysBack)
	if !to.IsZero() {
		for to.After(now) {
			from = from.Add(-market.Day)
			to = to.Add(-market.Day)
		}
	}

	var candles []market.Candle
	for _, c := range filter(s.Candles, from, to) {
		if c.Time.After(now) {
			break
		}
		candles = append(candles, c)
	}
	bars := market.Aggregate(candles, open)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s has no bars in [%s, %s)", ErrNoData, pair, from.Format(time.DateTime), to.Format(time.DateTime))
	}
	return bars, nil
}
