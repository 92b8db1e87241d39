package market

import "time"

// Candle represents one intraday OHLCV bar (hourly in practice).
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	time.Time
	Volume float64
}

// Bar is a session-aligned daily aggregate of candles. Day is midnight UTC
// of the shifted calendar day the bar belongs to.
type Bar struct {
	Day    time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Closes returns the close of every bar, in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
