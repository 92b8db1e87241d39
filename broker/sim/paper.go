package sim

import (
	"context"

	"github.com/davidmag854/fpg-trading/broker"
)

// PriceFeed is the read side of a real gateway.
type PriceFeed interface {
	FetchPrice(ctx context.Context, pair string) (float64, error)
	FetchOrderbook(ctx context.Context, pair string) (broker.Orderbook, error)
}

// Paper prices from a real feed and fills orders in memory. Every fetched
// price becomes the engine's fill price for that pair.
type Paper struct {
	*Engine
	feed PriceFeed
}

func NewPaper(feed PriceFeed, balances map[string]float64) *Paper {
	return &Paper{Engine: NewEngine(balances), feed: feed}
}

func (p *Paper) FetchPrice(ctx context.Context, pair string) (float64, error) {
	price, err := p.feed.FetchPrice(ctx, pair)
	if err != nil {
		return 0, err
	}
	p.SetPrice(pair, price)
	return price, nil
}

func (p *Paper) FetchOrderbook(ctx context.Context, pair string) (broker.Orderbook, error) {
	return p.feed.FetchOrderbook(ctx, pair)
}
