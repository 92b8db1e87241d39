package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionOpen_Shift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		open string
		want time.Duration
	}{
		{"18:00:00", 6 * time.Hour},
		{"13:00:00", 11 * time.Hour},
		{"00:00:00", 0},
		{"23:30:15", 29*time.Minute + 45*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.open, func(t *testing.T) {
			so, err := ParseSessionOpen(tt.open)
			require.NoError(t, err)
			assert.Equal(t, tt.want, so.Shift())
			assert.Equal(t, tt.open, so.String())
		})
	}
}

func TestParseSessionOpen_Invalid(t *testing.T) {
	_, err := ParseSessionOpen("25:99")
	assert.Error(t, err)
}

func TestSessionOpen_Anchor(t *testing.T) {
	so := MustSessionOpen("13:00:00")

	before := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), so.Anchor(before))

	after := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC), so.Anchor(after))
}

func hourly(start time.Time, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Time: start.Add(time.Duration(i) * time.Hour), Volume: 1}
	}
	return out
}

func TestAggregate_SessionShiftMovesEveningBarToNextDay(t *testing.T) {
	t.Parallel()

	candles := hourly(time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC), 10, 11, 12, 13)
	bars := Aggregate(candles, MustSessionOpen("18:00:00"))

	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bars[0].Day)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bars[1].Day)

	// 16:00 and 17:00 stay on Jan 1; 18:00 and 19:00 open Jan 2.
	assert.Equal(t, 10.0, bars[0].Open)
	assert.Equal(t, 11.0, bars[0].Close)
	assert.Equal(t, 12.0, bars[1].Open)
	assert.Equal(t, 13.0, bars[1].Close)
	assert.Equal(t, 14.0, bars[1].High)
	assert.Equal(t, 11.0, bars[1].Low)
	assert.Equal(t, 2.0, bars[1].Volume)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, MustSessionOpen("13:00:00")))
}

func TestSplitPair(t *testing.T) {
	base, quote, err := SplitPair("btc/usd")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USD", quote)
	assert.Equal(t, "BTCUSD", Symbol("BTC/USD"))

	_, _, err = SplitPair("BTCUSD")
	assert.Error(t, err)
}
