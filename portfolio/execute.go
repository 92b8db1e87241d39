package portfolio

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/broker"
	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/pkg/id"
	"github.com/davidmag854/fpg-trading/risk"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategy"
)

// Order is one intent on its way to execution, with the instance fields
// the executor needs.
type Order struct {
	InstanceID string
	Intent     strategy.Intent
	EntryPrice float64
}

// Fill is an executed order.
type Fill struct {
	TradeID string
	Time    time.Time
	Price   float64
	Amount  float64
	Balance map[string]float64
}

// Executor turns intents into fills. Entries are sized by the executor
// unless the intent already carries an amount.
type Executor interface {
	Execute(ctx context.Context, o Order) (Fill, error)
	Balance(ctx context.Context, coins []string) (map[string]float64, error)
}

// Trader is the part of broker.Trader the live executor uses.
type Trader interface {
	Trade(ctx context.Context, pair string, side broker.Side, amount float64, leverage int) (broker.Fill, error)
	FetchBalance(ctx context.Context, coins []string) (map[string]float64, error)
}

// LiveExecutor sizes entries against the gateway balance and sends every
// order through the trader's confirmation loop.
type LiveExecutor struct {
	sizer  *risk.Sizer
	trader Trader
	clock  func() time.Time
	log    *zap.Logger
}

func NewLiveExecutor(sizer *risk.Sizer, trader Trader, log *zap.Logger) *LiveExecutor {
	return &LiveExecutor{
		sizer:  sizer,
		trader: trader,
		clock:  time.Now,
		log:    log.With(zap.String("component", "executor")),
	}
}

func (e *LiveExecutor) Execute(ctx context.Context, o Order) (Fill, error) {
	in := o.Intent
	base, quote, err := market.SplitPair(in.Pair)
	if err != nil {
		return Fill{}, err
	}

	amount, err := e.amount(ctx, in)
	if err != nil {
		return Fill{}, err
	}

	side := broker.OrderSide(in.Side == strategy.Enter, in.Position == strategy.Long)
	f, err := e.trader.Trade(ctx, in.Pair, side, amount, in.Leverage)
	if err != nil {
		return Fill{}, err
	}

	bal, err := e.trader.FetchBalance(ctx, []string{base, quote})
	if err != nil {
		e.log.Warn("balance snapshot", zap.String("trade", f.TradeID), zap.Error(err))
	}
	return Fill{TradeID: f.TradeID, Time: e.clock().UTC(), Price: f.Price, Amount: amount, Balance: bal}, nil
}

func (e *LiveExecutor) amount(ctx context.Context, in strategy.Intent) (float64, error) {
	if in.Amount != nil {
		return *in.Amount, nil
	}
	if in.Side != strategy.Enter {
		return 0, fmt.Errorf("%w: exit of %s without an amount", risk.ErrSizing, in.Pair)
	}
	sz, err := e.sizer.Size(ctx, in.Pair, in.StopPrice, nil)
	if err != nil {
		return 0, err
	}
	return sz.Amount, nil
}

func (e *LiveExecutor) Balance(ctx context.Context, coins []string) (map[string]float64, error) {
	return e.trader.FetchBalance(ctx, coins)
}

// ReplayExecutor fills every order immediately at the source's mid price
// and books it against a cash ledger. Entries are sized from the ledger's
// quote balance.
type ReplayExecutor struct {
	src    source.Source
	sizer  *risk.Sizer
	ledger *Ledger
	ids    *id.Generator
}

func NewReplayExecutor(src source.Source, sizer *risk.Sizer, ledger *Ledger, ids *id.Generator) *ReplayExecutor {
	return &ReplayExecutor{src: src, sizer: sizer, ledger: ledger, ids: ids}
}

func (e *ReplayExecutor) Execute(ctx context.Context, o Order) (Fill, error) {
	in := o.Intent
	base, quote, err := market.SplitPair(in.Pair)
	if err != nil {
		return Fill{}, err
	}
	price, err := e.src.MidPrice(ctx, in.Pair)
	if err != nil {
		return Fill{}, err
	}

	var amount float64
	switch in.Side {
	case strategy.Enter:
		if in.Amount != nil {
			amount = *in.Amount
		} else {
			equity := e.ledger.Get(quote)
			sz, err := e.sizer.Size(ctx, in.Pair, in.StopPrice, &equity)
			if err != nil {
				return Fill{}, err
			}
			amount = sz.Amount
		}
		e.ledger.Debit(quote, price*amount)
	case strategy.Exit:
		if in.Amount == nil {
			return Fill{}, fmt.Errorf("%w: exit of %s without an amount", risk.ErrSizing, in.Pair)
		}
		amount = *in.Amount
		if in.Position == strategy.Short {
			e.ledger.Credit(quote, amount*(2*o.EntryPrice-price))
		} else {
			e.ledger.Credit(quote, price*amount)
		}
	}

	now := e.src.Now()
	return Fill{
		TradeID: e.ids.NewAt(now),
		Time:    now,
		Price:   price,
		Amount:  amount,
		Balance: e.ledger.Snapshot(base, quote),
	}, nil
}

func (e *ReplayExecutor) Balance(ctx context.Context, coins []string) (map[string]float64, error) {
	return e.ledger.Snapshot(coins...), nil
}
