package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultRiskFraction is the share of quote-currency equity put at risk
// between entry and stop.
const DefaultRiskFraction = 0.01

// AmountPlaces is the precision trade amounts are rounded to.
const AmountPlaces = 6

var (
	ErrSizing         = errors.New("sizing error")
	ErrDivisionByZero = errors.New("division by zero: stop equals mid price")
)

type Inputs struct {
	Equity       float64 // quote currency
	RiskFraction float64 // 0.01
	MidPrice     float64
	StopPrice    float64
}

type Result struct {
	Amount       float64 // base currency
	StopDistance float64
	RiskAmount   float64 // quote currency lost if the stop is hit
	QuoteAtRisk  float64 // notional: mid * amount
}

// Calculate sizes a position so that a move from mid to stop loses
// |equity| * fraction, rounded to AmountPlaces.
func Calculate(in Inputs) (Result, error) {
	dist := math.Abs(in.MidPrice - in.StopPrice)
	if dist == 0 {
		return Result{}, fmt.Errorf("%w: %w", ErrSizing, ErrDivisionByZero)
	}
	if math.IsNaN(dist) || math.IsInf(dist, 0) {
		return Result{}, fmt.Errorf("%w: invalid stop distance (mid %g, stop %g)", ErrSizing, in.MidPrice, in.StopPrice)
	}

	riskAmt := math.Abs(in.Equity) * in.RiskFraction
	amount := decimal.NewFromFloat(riskAmt / dist).Round(AmountPlaces).InexactFloat64()
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: amount rounds to zero (equity %g)", ErrSizing, in.Equity)
	}

	return Result{
		Amount:       amount,
		StopDistance: dist,
		RiskAmount:   riskAmt,
		QuoteAtRisk:  in.MidPrice * amount,
	}, nil
}
