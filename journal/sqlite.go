package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davidmag854/fpg-trading/strategy"
)

// SQLite stores one session's instances and trades in a pair of tables,
// and every sampled live price in price_history.
type SQLite struct {
	db *sql.DB

	mu      sync.RWMutex
	session string
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPersistence, path, err)
	}
	// One writer at a time; the cycle and control loops share this handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(priceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrPersistence, err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

// InitializeSchema creates the session's tables if needed and directs
// every later call at them.
func (j *SQLite) InitializeSchema(ctx context.Context, session string) error {
	schema, err := sessionSchema(session)
	if err != nil {
		return err
	}
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create session %s: %v", ErrPersistence, session, err)
	}

	j.mu.Lock()
	j.session = session
	j.mu.Unlock()
	return nil
}

func (j *SQLite) Session() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.session
}

func (j *SQLite) tables() (string, string, error) {
	s := j.Session()
	if s == "" {
		return "", "", fmt.Errorf("%w: schema not initialized", ErrPersistence)
	}
	return instanceTable(s), tradeTable(s), nil
}

func (j *SQLite) UpsertInstance(ctx context.Context, snap strategy.Snapshot) error {
	instances, _, err := j.tables()
	if err != nil {
		return err
	}
	settings, err := json.Marshal(snap.Settings)
	if err != nil {
		return fmt.Errorf("%w: encode settings %s: %v", ErrPersistence, snap.ID, err)
	}

	_, err = j.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(id, name, pair, creation_time, state, position, amount, entry_price, exit_price,
		 is_executed, is_expired, live_position, days_elapsed, leverage, long_allowed, short_allowed, settings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pair = excluded.pair,
			creation_time = excluded.creation_time,
			state = excluded.state,
			position = excluded.position,
			amount = excluded.amount,
			entry_price = excluded.entry_price,
			exit_price = excluded.exit_price,
			is_executed = excluded.is_executed,
			is_expired = excluded.is_expired,
			live_position = excluded.live_position,
			days_elapsed = excluded.days_elapsed,
			leverage = excluded.leverage,
			long_allowed = excluded.long_allowed,
			short_allowed = excluded.short_allowed,
			settings = excluded.settings`, instances),
		snap.ID, snap.Name, snap.Pair, unixNanos(snap.CreationTime), int(snap.State), string(snap.Position),
		snap.Amount, snap.EntryPrice, snap.ExitPrice,
		snap.IsExecuted, snap.IsExpired, snap.HasPosition(), snap.DaysElapsed, snap.Leverage,
		snap.LongAllowed, snap.ShortAllowed, string(settings),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrPersistence, snap.ID, err)
	}
	return nil
}

func (j *SQLite) MarkExpired(ctx context.Context, id string) error {
	instances, _, err := j.tables()
	if err != nil {
		return err
	}
	res, err := j.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET is_expired = 1, state = ? WHERE id = ?`, instances),
		int(strategy.Expired), id)
	if err != nil {
		return fmt.Errorf("%w: mark expired %s: %v", ErrPersistence, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: instance %q not found", ErrPersistence, id)
	}
	return nil
}

func (j *SQLite) QueryNonExpired(ctx context.Context) ([]strategy.Snapshot, error) {
	return j.queryInstances(ctx, "WHERE is_expired = 0")
}

func (j *SQLite) QueryAll(ctx context.Context) ([]strategy.Snapshot, error) {
	return j.queryInstances(ctx, "")
}

func (j *SQLite) queryInstances(ctx context.Context, where string) ([]strategy.Snapshot, error) {
	instances, _, err := j.tables()
	if err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, pair, creation_time, state, position, amount, entry_price, exit_price,
		       is_executed, is_expired, days_elapsed, leverage, long_allowed, short_allowed, settings
		FROM %s %s
		ORDER BY creation_time ASC, id ASC`, instances, where))
	if err != nil {
		return nil, fmt.Errorf("%w: query instances: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var (
		out []strategy.Snapshot
		bad []error
	)
	for rows.Next() {
		var (
			snap     strategy.Snapshot
			created  int64
			state    int
			position string
			settings string
		)
		if err := rows.Scan(
			&snap.ID, &snap.Name, &snap.Pair, &created, &state, &position,
			&snap.Amount, &snap.EntryPrice, &snap.ExitPrice,
			&snap.IsExecuted, &snap.IsExpired, &snap.DaysElapsed, &snap.Leverage,
			&snap.LongAllowed, &snap.ShortAllowed, &settings,
		); err != nil {
			return nil, fmt.Errorf("%w: scan instance: %v", ErrPersistence, err)
		}
		snap.CreationTime = fromUnixNanos(created)
		snap.State = strategy.State(state)

		if snap.Position, err = strategy.ParsePosition(position); err != nil {
			bad = append(bad, fmt.Errorf("%w: instance %s: %v", ErrBadRecord, snap.ID, err))
			continue
		}
		if err := json.Unmarshal([]byte(settings), &snap.Settings); err != nil {
			bad = append(bad, fmt.Errorf("%w: instance %s settings: %v", ErrBadRecord, snap.ID, err))
			continue
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query instances: %v", ErrPersistence, err)
	}
	return out, errors.Join(bad...)
}

func (j *SQLite) AppendTrade(ctx context.Context, rec TradeRecord) error {
	_, trades, err := j.tables()
	if err != nil {
		return err
	}
	balance, err := json.Marshal(rec.Balance)
	if err != nil {
		return fmt.Errorf("%w: encode balance %s: %v", ErrPersistence, rec.TradeID, err)
	}

	_, err = j.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(trade_id, trade_time, instance_id, strategy_name, pair, asset, enter_exit, position, amount, price, leverage, portfolio_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, trades),
		rec.TradeID, unixNanos(rec.Time), rec.InstanceID, rec.StrategyName, rec.Pair, rec.Asset,
		string(rec.Side), string(rec.Position), rec.Amount, rec.Price, rec.Leverage, string(balance),
	)
	if err != nil {
		return fmt.Errorf("%w: append trade %s: %v", ErrPersistence, rec.TradeID, err)
	}
	return nil
}

func (j *SQLite) QueryAllTrades(ctx context.Context) ([]TradeRecord, error) {
	_, trades, err := j.tables()
	if err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT trade_id, trade_time, instance_id, strategy_name, pair, asset, enter_exit, position, amount, price, leverage, portfolio_balance
		FROM %s
		ORDER BY trade_time ASC, trade_id ASC`, trades))
	if err != nil {
		return nil, fmt.Errorf("%w: query trades: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var (
		out []TradeRecord
		bad []error
	)
	for rows.Next() {
		var (
			rec      TradeRecord
			at       int64
			side     string
			position string
			balance  string
		)
		if err := rows.Scan(
			&rec.TradeID, &at, &rec.InstanceID, &rec.StrategyName, &rec.Pair, &rec.Asset,
			&side, &position, &rec.Amount, &rec.Price, &rec.Leverage, &balance,
		); err != nil {
			return nil, fmt.Errorf("%w: scan trade: %v", ErrPersistence, err)
		}
		rec.Time = fromUnixNanos(at)
		rec.Side = strategy.Side(side)
		rec.Position = strategy.Position(position)
		if err := json.Unmarshal([]byte(balance), &rec.Balance); err != nil {
			bad = append(bad, fmt.Errorf("%w: trade %s balance: %v", ErrBadRecord, rec.TradeID, err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query trades: %v", ErrPersistence, err)
	}
	return out, errors.Join(bad...)
}

// RecordPrice appends one sampled price to price_history.
func (j *SQLite) RecordPrice(ctx context.Context, pair string, at time.Time, price float64) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO price_history (pair, unix_time, price) VALUES (?, ?, ?)`,
		pair, at.Unix(), price)
	if err != nil {
		return fmt.Errorf("%w: record price %s: %v", ErrPersistence, pair, err)
	}
	return nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
