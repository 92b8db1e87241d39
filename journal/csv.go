package journal

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidmag854/fpg-trading/strategy"
)

var instanceColumns = []string{
	"id", "name", "pair", "creation_time", "state", "position", "amount", "entry_price", "exit_price",
	"is_executed", "is_expired", "days_elapsed", "leverage", "long_allowed", "short_allowed",
}

var tradeColumns = []string{
	"trade_id", "trade_time", "instance_id", "strategy_name", "pair", "asset",
	"enter_exit", "position", "amount", "price", "leverage",
}

// WriteInstancesCSV writes one row per instance: the lifecycle columns
// followed by every strategy setting seen in snaps, sorted by name.
// Instances without a setting leave its cell empty.
func WriteInstancesCSV(w io.Writer, snaps []strategy.Snapshot) error {
	keys := map[string]struct{}{}
	for _, s := range snaps {
		for k := range s.Settings {
			keys[k] = struct{}{}
		}
	}
	extra := sortedKeys(keys)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), instanceColumns...), extra...)); err != nil {
		return err
	}
	for _, s := range snaps {
		row := []string{
			s.ID, s.Name, s.Pair, ts(s.CreationTime), s.State.String(), string(s.Position),
			f(s.Amount), f(s.EntryPrice), f(s.ExitPrice),
			strconv.FormatBool(s.IsExecuted), strconv.FormatBool(s.IsExpired),
			strconv.Itoa(s.DaysElapsed), strconv.Itoa(s.Leverage),
			strconv.FormatBool(s.LongAllowed), strconv.FormatBool(s.ShortAllowed),
		}
		for _, k := range extra {
			row = append(row, settingValue(s.Settings[k]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTradesCSV writes one row per trade with the balance snapshot split
// into a balance_<COIN> column per coin.
func WriteTradesCSV(w io.Writer, trades []TradeRecord) error {
	keys := map[string]struct{}{}
	for _, t := range trades {
		for k := range t.Balance {
			keys[k] = struct{}{}
		}
	}
	coins := sortedKeys(keys)

	header := append([]string(nil), tradeColumns...)
	for _, c := range coins {
		header = append(header, "balance_"+c)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.TradeID, ts(t.Time), t.InstanceID, t.StrategyName, t.Pair, t.Asset,
			string(t.Side), string(t.Position), f(t.Amount), f(t.Price), strconv.Itoa(t.Leverage),
		}
		for _, c := range coins {
			v, ok := t.Balance[c]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, f(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export dumps every instance and trade of the store's session into
// <dir>/<session>_instances.csv and <dir>/<session>_trades.csv. Rows that
// cannot be decoded are skipped and reported in the returned error.
func Export(ctx context.Context, store Store, dir, session string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}

	snaps, snapErr := store.QueryAll(ctx)
	if snapErr != nil && !errors.Is(snapErr, ErrBadRecord) {
		return "", "", snapErr
	}
	trades, tradeErr := store.QueryAllTrades(ctx)
	if tradeErr != nil && !errors.Is(tradeErr, ErrBadRecord) {
		return "", "", tradeErr
	}

	instPath := filepath.Join(dir, session+"_instances.csv")
	if err := writeFile(instPath, func(w io.Writer) error { return WriteInstancesCSV(w, snaps) }); err != nil {
		return "", "", err
	}
	tradePath := filepath.Join(dir, session+"_trades.csv")
	if err := writeFile(tradePath, func(w io.Writer) error { return WriteTradesCSV(w, trades) }); err != nil {
		return "", "", err
	}
	return instPath, tradePath, errors.Join(snapErr, tradeErr)
}

func writeFile(path string, write func(io.Writer) error) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(fh); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return fh.Close()
}

func settingValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateTime)
}

func f(x float64) string {
	return decimal.NewFromFloat(x).String()
}
