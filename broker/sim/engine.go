// Package sim is an in-memory paper gateway. Orders fill immediately at the
// requested limit price (or the last set price) and move balances.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidmag854/fpg-trading/broker"
	"github.com/davidmag854/fpg-trading/market"
)

type Engine struct {
	mu       sync.Mutex
	prices   map[string]float64
	balances map[string]float64
	failures int
	orders   []broker.TradeRequest
}

func NewEngine(balances map[string]float64) *Engine {
	b := make(map[string]float64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Engine{prices: make(map[string]float64), balances: b}
}

func (e *Engine) SetPrice(pair string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[pair] = price
}

// FailNext makes the next n submissions come back unconfirmed.
func (e *Engine) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = n
}

// Orders returns every confirmed order, oldest first.
func (e *Engine) Orders() []broker.TradeRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]broker.TradeRequest(nil), e.orders...)
}

func (e *Engine) FetchPrice(ctx context.Context, pair string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[pair]
	if !ok {
		return 0, fmt.Errorf("no price for %s", pair)
	}
	return p, nil
}

func (e *Engine) FetchBalance(ctx context.Context, coins []string) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(coins))
	for _, c := range coins {
		out[c] = e.balances[c]
	}
	return out, nil
}

func (e *Engine) FetchOrderbook(ctx context.Context, pair string) (broker.Orderbook, error) {
	p, err := e.FetchPrice(ctx, pair)
	if err != nil {
		return broker.Orderbook{}, err
	}
	return broker.Orderbook{
		Bids: []broker.Level{{Price: p, Amount: 1}},
		Asks: []broker.Level{{Price: p, Amount: 1}},
	}, nil
}

func (e *Engine) ExecuteTrade(ctx context.Context, req broker.TradeRequest) (broker.Execution, error) {
	base, quote, err := market.SplitPair(req.Pair)
	if err != nil {
		return broker.Execution{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failures > 0 {
		e.failures--
		return broker.Execution{TradeID: req.TradeID}, nil
	}

	price := req.LimitPrice
	if price <= 0 {
		p, ok := e.prices[req.Pair]
		if !ok {
			return broker.Execution{}, fmt.Errorf("no price for %s", req.Pair)
		}
		price = p
	}

	switch req.Side {
	case broker.Buy:
		e.balances[base] += req.Amount
		e.balances[quote] -= req.Amount * price
	case broker.Sell:
		e.balances[base] -= req.Amount
		e.balances[quote] += req.Amount * price
	default:
		return broker.Execution{}, fmt.Errorf("unknown side %q", req.Side)
	}

	e.orders = append(e.orders, req)
	return broker.Execution{TradeID: req.TradeID, ExecutedPrice: price, Succeeded: true}, nil
}
