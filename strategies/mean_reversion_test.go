package strategies

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategy"
)

type fakeSource struct {
	now   time.Time
	price float64
	bars  []market.Bar
	err   error

	since    time.Time
	daysBack int
}

func (f *fakeSource) Now() time.Time { return f.now }

func (f *fakeSource) MidPrice(ctx context.Context, pair string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func (f *fakeSource) AggregatedBars(ctx context.Context, exchangeID, pair string, open market.SessionOpen, since time.Time, daysBack int) ([]market.Bar, error) {
	f.since, f.daysBack = since, daysBack
	return f.bars, nil
}

func bars(closes ...float64) []market.Bar {
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{Close: c}
	}
	return out
}

var created = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

func newInitialized(t *testing.T, params map[string]any, inst strategy.Instance) *MeanReversion {
	t.Helper()
	if inst.ID == "" {
		inst = strategy.Instance{ID: "mr1", Pair: "BTC/USD", CreationTime: created, Leverage: 3, LongAllowed: true, ShortAllowed: true}
	}
	s, err := Catalog().New(MeanReversionName, inst)
	require.NoError(t, err)
	mr := s.(*MeanReversion)
	require.NoError(t, mr.Fields().Apply(params))

	src := &fakeSource{now: created, price: 5, bars: bars(2, 4, 4, 4, 5, 5, 7, 9)}
	require.NoError(t, mr.Initialize(context.Background(), src))
	return mr
}

func TestMeanReversion_Initialize(t *testing.T) {
	src := &fakeSource{now: created, price: 6, bars: bars(2, 4, 4, 4, 5, 5, 7, 9)}
	s := NewMeanReversion(strategy.Instance{ID: "mr1", Name: MeanReversionName, Pair: "BTC/USD", CreationTime: created}).(*MeanReversion)

	require.NoError(t, s.Initialize(context.Background(), src))

	anchor := time.Date(2024, 1, 4, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, anchor, s.LastSessionOpen, "13:00 today is in the future, so yesterday's open")
	assert.Equal(t, anchor.Add(-20*market.Day), src.since)
	assert.Equal(t, 20, src.daysBack)
	assert.InDelta(t, 1.0, s.Lower, 1e-12)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 9.0, s.Upper, 1e-12)
	assert.Equal(t, 6.0, s.CurrentPrice)
	assert.Equal(t, strategy.Monitoring, s.Instance().State)
}

func TestMeanReversion_InitializeNoData(t *testing.T) {
	src := &fakeSource{now: created, err: source.ErrNoData}
	s := NewMeanReversion(strategy.Instance{ID: "mr1", Pair: "BTC/USD", CreationTime: created})

	err := s.Initialize(context.Background(), src)
	assert.True(t, errors.Is(err, source.ErrNoData))
	assert.Equal(t, strategy.Initializing, s.Instance().State)
}

func TestMeanReversion_EntryNeedsConfirmation(t *testing.T) {
	s := newInitialized(t, map[string]any{"confirm_ticks": 3}, strategy.Instance{})
	now := created.Add(time.Minute)

	assert.Empty(t, s.Evaluate(10, now))
	assert.Empty(t, s.Evaluate(10, now))
	got := s.Evaluate(10, now)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.Intent{Pair: "BTC/USD", Side: strategy.Enter, Position: strategy.Short, StopPrice: 5, Leverage: 3}, got[0])
	assert.Equal(t, strategy.PositionOpen, s.Instance().State)
}

func TestMeanReversion_CounterResetsInsideBands(t *testing.T) {
	s := newInitialized(t, map[string]any{"confirm_ticks": 2}, strategy.Instance{})
	now := created.Add(time.Minute)

	assert.Empty(t, s.Evaluate(0.5, now))
	assert.Empty(t, s.Evaluate(5, now))
	assert.Equal(t, 0, s.LongCounter)
	assert.Empty(t, s.Evaluate(0.5, now))
	got := s.Evaluate(0.5, now)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.Long, got[0].Position)
}

func TestMeanReversion_RespectsEligibility(t *testing.T) {
	s := newInitialized(t, map[string]any{"confirm_ticks": 1}, strategy.Instance{
		ID: "mr2", Pair: "BTC/USD", CreationTime: created, LongAllowed: true,
	})
	assert.Empty(t, s.Evaluate(10, created.Add(time.Minute)), "short side not allowed")
	assert.Len(t, s.Evaluate(0, created.Add(time.Minute)), 1)
}

func TestMeanReversion_ExitNearMean(t *testing.T) {
	s := newInitialized(t, map[string]any{"confirm_ticks": 1, "exit_band": 0.5}, strategy.Instance{})
	now := created.Add(time.Minute)

	entry := s.Evaluate(10, now)
	require.Len(t, entry, 1)
	s.Instance().Filled(entry[0], 10, 0.25)

	assert.Empty(t, s.Evaluate(8, now), "still outside the exit band")

	got := s.Evaluate(5.3, now)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.Exit, got[0].Side)
	assert.Equal(t, strategy.Short, got[0].Position)
	require.NotNil(t, got[0].Amount)
	assert.Equal(t, 0.25, *got[0].Amount)
	assert.True(t, s.Instance().IsExpired)
}

func TestMeanReversion_ExpiresFlatAtSessionBoundary(t *testing.T) {
	s := newInitialized(t, nil, strategy.Instance{})
	boundary := s.LastSessionOpen.Add(market.Day)

	assert.Empty(t, s.Evaluate(5, boundary.Add(-3*time.Minute)))
	assert.False(t, s.Instance().IsExpired)

	assert.Empty(t, s.Evaluate(5, boundary.Add(-time.Minute)), "within tolerance counts as crossed")
	assert.True(t, s.Instance().IsExpired)
	assert.Equal(t, 1, s.Instance().DaysElapsed)
	assert.Equal(t, boundary, s.LastSessionOpen)
}

func TestMeanReversion_ExpiryExitsOpenPosition(t *testing.T) {
	s := newInitialized(t, map[string]any{"confirm_ticks": 1, "expiration_period": 2, "exit_band": 0.5}, strategy.Instance{})
	entry := s.Evaluate(0, created.Add(time.Minute))
	require.Len(t, entry, 1)
	s.Instance().Filled(entry[0], 0.9, 1.5)

	day1 := s.LastSessionOpen.Add(market.Day)
	assert.Empty(t, s.Evaluate(0, day1))
	assert.False(t, s.Instance().IsExpired, "holding a position keeps it alive")

	got := s.Evaluate(0, day1.Add(market.Day))
	require.Len(t, got, 1)
	assert.Equal(t, strategy.Exit, got[0].Side)
	assert.Equal(t, strategy.Long, got[0].Position)
	assert.Equal(t, 1.5, *got[0].Amount)
	assert.True(t, s.Instance().IsExpired)
	assert.Equal(t, 2, s.Instance().DaysElapsed)
}

func TestMeanReversion_RoundTrip(t *testing.T) {
	s := newInitialized(t, map[string]any{"confirm_ticks": 5, "tolerance": "90s"}, strategy.Instance{})
	s.Evaluate(9.5, created.Add(time.Minute))
	s.Instance().Amount = 0.333333

	snap, err := s.Serialize()
	require.NoError(t, err)
	raw, err := json.Marshal(snap.Settings)
	require.NoError(t, err)
	snap.Settings = nil
	require.NoError(t, json.Unmarshal(raw, &snap.Settings))

	restored, ignored, err := Catalog().Restore(snap)
	require.NoError(t, err)
	assert.Empty(t, ignored)

	back := restored.(*MeanReversion)
	assert.Equal(t, *s.Instance(), *back.Instance())
	assert.True(t, s.LastSessionOpen.Equal(back.LastSessionOpen))
	assert.True(t, s.LastFetch.Equal(back.LastFetch))
	assert.Equal(t, s.Lower, back.Lower)
	assert.Equal(t, s.Mean, back.Mean)
	assert.Equal(t, s.Upper, back.Upper)
	assert.Equal(t, 90*time.Second, back.Tolerance)

	again, err := back.Serialize()
	require.NoError(t, err)
	want, err := s.Serialize()
	require.NoError(t, err)
	assert.Equal(t, want, again)
	assert.Equal(t, 1, back.ShortCounter)
}

func TestMeanReversion_Describe(t *testing.T) {
	s := newInitialized(t, nil, strategy.Instance{})
	d := s.Describe()
	assert.Contains(t, d, "mr1")
	assert.Contains(t, d, "BTC/USD")
	assert.Contains(t, d, "monitoring")
}

func TestNoop(t *testing.T) {
	s, err := Catalog().New(NoopName, strategy.Instance{ID: "n1", Pair: "ETH/USD", CreationTime: created})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background(), &fakeSource{now: created}))

	assert.Empty(t, s.Evaluate(1, created.Add(time.Hour)))
	assert.False(t, s.Instance().IsExpired)
	assert.Empty(t, s.Evaluate(1, created.Add(market.Day)))
	assert.True(t, s.Instance().IsExpired)
	assert.Equal(t, 2, s.(*Noop).Ticks)
	assert.Contains(t, s.Describe(), "2 ticks")
}

func TestCatalog_Names(t *testing.T) {
	assert.Equal(t, []string{MeanReversionName, NoopName}, Catalog().Names())
}
