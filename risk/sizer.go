package risk

import (
	"context"
	"fmt"

	"github.com/davidmag854/fpg-trading/market"
)

type PriceSource interface {
	MidPrice(ctx context.Context, pair string) (float64, error)
}

type BalanceSource interface {
	FetchBalance(ctx context.Context, coins []string) (map[string]float64, error)
}

// Size is the outcome of sizing one entry.
type Size struct {
	Amount      float64
	Quote       string
	QuoteAtRisk float64
	MidPrice    float64
}

// Sizer resolves mid price and quote equity, then applies Calculate.
// It keeps no state between calls.
type Sizer struct {
	prices   PriceSource
	balances BalanceSource
	fraction float64
}

// NewSizer returns a sizer. balances may be nil when every call passes an
// equity override. A non-positive fraction means DefaultRiskFraction.
func NewSizer(prices PriceSource, balances BalanceSource, fraction float64) *Sizer {
	if fraction <= 0 {
		fraction = DefaultRiskFraction
	}
	return &Sizer{prices: prices, balances: balances, fraction: fraction}
}

func (s *Sizer) Fraction() float64 { return s.fraction }

// Size computes the entry amount for pair with the given stop. When equity
// is nil the quote balance is read from the gateway.
func (s *Sizer) Size(ctx context.Context, pair string, stop float64, equity *float64) (Size, error) {
	_, quote, err := market.SplitPair(pair)
	if err != nil {
		return Size{}, err
	}

	mid, err := s.prices.MidPrice(ctx, pair)
	if err != nil {
		return Size{}, fmt.Errorf("size %s: %w", pair, err)
	}

	var eq float64
	switch {
	case equity != nil:
		eq = *equity
	case s.balances != nil:
		bal, err := s.balances.FetchBalance(ctx, []string{quote})
		if err != nil {
			return Size{}, fmt.Errorf("size %s: balance: %w", pair, err)
		}
		eq = bal[quote]
	default:
		return Size{}, fmt.Errorf("%w: no equity for %s", ErrSizing, quote)
	}

	res, err := Calculate(Inputs{Equity: eq, RiskFraction: s.fraction, MidPrice: mid, StopPrice: stop})
	if err != nil {
		return Size{}, fmt.Errorf("size %s: %w", pair, err)
	}
	return Size{Amount: res.Amount, Quote: quote, QuoteAtRisk: res.QuoteAtRisk, MidPrice: mid}, nil
}
