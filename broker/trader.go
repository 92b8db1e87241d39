package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/pkg/id"
)

type TraderConfig struct {
	Timeout      time.Duration // per gateway call
	PollInterval time.Duration // between unconfirmed attempts
	MaxAttempts  int
}

func DefaultTraderConfig() TraderConfig {
	return TraderConfig{
		Timeout:      30 * time.Second,
		PollInterval: 400 * time.Millisecond,
		MaxAttempts:  25,
	}
}

// Dialer builds a fresh gateway connection.
type Dialer func(ctx context.Context) (Gateway, error)

// Trader wraps a Gateway with call timeouts, reconnects and the
// poll-until-succeeded order loop. It is itself a Gateway.
type Trader struct {
	mu   sync.RWMutex
	gw   Gateway
	dial Dialer
	cfg  TraderConfig
	log  *zap.Logger
}

func NewTrader(ctx context.Context, dial Dialer, cfg TraderConfig, log *zap.Logger) (*Trader, error) {
	if dial == nil {
		return nil, errors.New("dialer is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	t := &Trader{dial: dial, cfg: cfg, log: log.With(zap.String("component", "trader"))}
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Connect replaces the current gateway connection with a new one.
func (t *Trader) Connect(ctx context.Context) error {
	gw, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect gateway: %w", err)
	}
	t.mu.Lock()
	t.gw = gw
	t.mu.Unlock()
	t.log.Info("gateway connected")
	return nil
}

func (t *Trader) gateway() Gateway {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gw
}

func (t *Trader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.cfg.Timeout)
}

func (t *Trader) FetchPrice(ctx context.Context, pair string) (float64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.gateway().FetchPrice(ctx, pair)
}

func (t *Trader) FetchBalance(ctx context.Context, coins []string) (map[string]float64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.gateway().FetchBalance(ctx, coins)
}

func (t *Trader) FetchOrderbook(ctx context.Context, pair string) (Orderbook, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.gateway().FetchOrderbook(ctx, pair)
}

func (t *Trader) ExecuteTrade(ctx context.Context, req TradeRequest) (Execution, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.gateway().ExecuteTrade(ctx, req)
}

// Trade submits an order at the latest price and keeps resubmitting until
// the gateway confirms it or MaxAttempts is reached.
func (t *Trader) Trade(ctx context.Context, pair string, side Side, amount float64, leverage int) (Fill, error) {
	tradeID := id.New()
	log := t.log.With(zap.String("trade", tradeID), zap.String("pair", pair), zap.String("side", string(side)))
	log.Info("trading", zap.Float64("amount", amount), zap.Int("leverage", leverage))

	var last error
	for attempt := 1; ; attempt++ {
		price, err := t.FetchPrice(ctx, pair)
		if err == nil {
			var exec Execution
			exec, err = t.ExecuteTrade(ctx, TradeRequest{
				TradeID:    tradeID,
				Pair:       pair,
				Side:       side,
				Amount:     amount,
				Leverage:   leverage,
				LimitPrice: price,
			})
			if err == nil && exec.Succeeded {
				fill := Fill{TradeID: tradeID, Price: price, Attempts: attempt}
				if exec.TradeID != "" {
					fill.TradeID = exec.TradeID
				}
				if exec.ExecutedPrice > 0 {
					fill.Price = exec.ExecutedPrice
				}
				return fill, nil
			}
			if err == nil {
				err = errors.New("not confirmed")
			}
		}
		last = err
		log.Debug("trade attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt >= t.cfg.MaxAttempts {
			return Fill{}, fmt.Errorf("%w: %s %g %s after %d attempts: %v", ErrExecution, side, amount, pair, attempt, last)
		}
		select {
		case <-ctx.Done():
			return Fill{}, fmt.Errorf("%w: %s %g %s: %v", ErrExecution, side, amount, pair, ctx.Err())
		case <-time.After(t.cfg.PollInterval):
		}
	}
}
