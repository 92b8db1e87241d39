package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/davidmag854/fpg-trading/market"
)

// LoadReplay reads one CSV data bundle per pair from dir (BTC/USD is read
// from BTCUSD.csv) and builds a replay over [start, end]. Candles from
// warmup before start are kept for bar aggregation.
func LoadReplay(dir string, pairs []string, start, end time.Time, warmup time.Duration) (*Replay, error) {
	data := make(map[string]Series, len(pairs))
	for _, pair := range pairs {
		path := filepath.Join(dir, market.Symbol(pair)+".csv")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open data bundle for %s: %w", pair, err)
		}
		s, err := ReadSeries(f, start.Add(-warmup), end)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		data[pair] = s
	}
	return NewReplay(data, start, end)
}

// ReadSeries parses bundle rows:
//
//	datetime,price,open,high,low,close,volume
//
// datetime is "2006-01-02 15:04:05" or RFC3339, UTC. A header row is
// allowed and rows outside [from, end] are skipped.
func ReadSeries(rd io.Reader, from, end time.Time) (Series, error) {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1

	var s Series
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			return s, nil
		}
		if err != nil {
			return Series{}, err
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "datetime") {
			continue
		}
		if len(row) < 7 {
			return Series{}, fmt.Errorf("line %d: want 7 columns, got %d", line, len(row))
		}

		t, err := parseTime(row[0])
		if err != nil {
			return Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		if t.Before(from) || (!end.IsZero() && t.After(end)) {
			continue
		}

		var v [6]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64); err != nil {
				return Series{}, fmt.Errorf("line %d: bad number %q: %w", line, row[i+1], err)
			}
		}
		s.Quotes = append(s.Quotes, Quote{Time: t, Price: v[0]})
		s.Candles = append(s.Candles, market.Candle{Open: v[1], High: v[2], Low: v[3], Close: v[4], Time: t, Volume: v[5]})
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateTime, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}
