// Package journal persists strategy instances and executed trades.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/davidmag854/fpg-trading/strategy"
)

var (
	// ErrPersistence wraps every failed store operation.
	ErrPersistence = errors.New("persistence error")

	// ErrBadRecord marks a stored row that could not be decoded. Queries
	// still return every row that could.
	ErrBadRecord = errors.New("bad record")
)

// TradeRecord is an executed intent. Records are append-only.
type TradeRecord struct {
	TradeID      string
	Time         time.Time
	InstanceID   string
	StrategyName string
	Pair         string
	Asset        string
	Side         strategy.Side
	Position     strategy.Position
	Amount       float64
	Price        float64
	Leverage     int
	Balance      map[string]float64
}

// Store is the persistence contract the scheduler needs. Every row is a
// strategy.Snapshot: lifecycle columns plus the strategy's declared fields.
type Store interface {
	InitializeSchema(ctx context.Context, session string) error
	UpsertInstance(ctx context.Context, snap strategy.Snapshot) error
	MarkExpired(ctx context.Context, id string) error
	QueryNonExpired(ctx context.Context) ([]strategy.Snapshot, error)
	QueryAll(ctx context.Context) ([]strategy.Snapshot, error)
	AppendTrade(ctx context.Context, rec TradeRecord) error
	QueryAllTrades(ctx context.Context) ([]TradeRecord, error)
}
