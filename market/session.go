package market

import (
	"fmt"
	"sort"
	"time"
)

const Day = 24 * time.Hour

// SessionOpen is the exchange-local clock time at which a trading day
// starts, stored as an offset from midnight.
type SessionOpen time.Duration

// ParseSessionOpen parses "HH:MM:SS".
func ParseSessionOpen(s string) (SessionOpen, error) {
	t, err := time.Parse(time.TimeOnly, s)
	if err != nil {
		return 0, fmt.Errorf("parse session open %q: %w", s, err)
	}
	d := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
	return SessionOpen(d), nil
}

// MustSessionOpen is ParseSessionOpen for constants.
func MustSessionOpen(s string) SessionOpen {
	so, err := ParseSessionOpen(s)
	if err != nil {
		panic(err)
	}
	return so
}

func (s SessionOpen) String() string {
	d := time.Duration(s)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// Shift is how far a timestamp must move forward so the session open lands
// on midnight: 24h - open, mod 24h.
func (s SessionOpen) Shift() time.Duration {
	return (Day - time.Duration(s)%Day) % Day
}

// Anchor returns the most recent session open at or before t.
func (s SessionOpen) Anchor(t time.Time) time.Time {
	t = t.UTC()
	a := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(time.Duration(s))
	if a.After(t) {
		a = a.Add(-Day)
	}
	return a
}

// Aggregate buckets candles into daily bars after shifting each timestamp
// by open.Shift(). Candles must be in time order; the output is ordered by
// day.
func Aggregate(candles []Candle, open SessionOpen) []Bar {
	shift := open.Shift()
	byDay := make(map[time.Time]*Bar)
	var days []time.Time

	for _, c := range candles {
		st := c.Time.UTC().Add(shift)
		day := time.Date(st.Year(), st.Month(), st.Day(), 0, 0, 0, 0, time.UTC)

		b, ok := byDay[day]
		if !ok {
			byDay[day] = &Bar{Day: day, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
			days = append(days, day)
			continue
		}
		if c.High > b.High {
			b.High = c.High
		}
		if c.Low < b.Low {
			b.Low = c.Low
		}
		b.Close = c.Close
		b.Volume += c.Volume
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := make([]Bar, 0, len(days))
	for _, d := range days {
		out = append(out, *byDay[d])
	}
	return out
}
