package broker

import (
	"context"
	"errors"
)

// ErrExecution is returned once a trade could not be confirmed within the
// gateway's retry policy.
var ErrExecution = errors.New("execution failed")

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderSide maps an entry or exit of a long or short position to the side
// sent to the exchange.
func OrderSide(entering, long bool) Side {
	if entering == long {
		return Buy
	}
	return Sell
}

// Gateway is the execution venue: prices, balances, book and order entry.
type Gateway interface {
	FetchPrice(ctx context.Context, pair string) (float64, error)
	FetchBalance(ctx context.Context, coins []string) (map[string]float64, error)
	FetchOrderbook(ctx context.Context, pair string) (Orderbook, error)
	ExecuteTrade(ctx context.Context, req TradeRequest) (Execution, error)
}

type Level struct {
	Price  float64
	Amount float64
}

type Orderbook struct {
	Bids []Level
	Asks []Level
}

// TradeRequest is a single order submission. TradeID is reused across
// retries of the same logical trade.
type TradeRequest struct {
	TradeID    string
	Pair       string
	Side       Side
	Amount     float64
	Leverage   int
	LimitPrice float64
}

// Execution is the gateway's answer to one submission.
type Execution struct {
	TradeID       string
	ExecutedPrice float64
	Succeeded     bool
}

// Fill is a confirmed execution.
type Fill struct {
	TradeID  string
	Price    float64
	Attempts int
}
