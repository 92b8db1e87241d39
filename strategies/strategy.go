// Package strategies holds the concrete strategies shipped with the
// scheduler.
package strategies

import "github.com/davidmag854/fpg-trading/strategy"

// Catalog returns a catalog with every built-in strategy registered.
func Catalog() *strategy.Catalog {
	c := strategy.NewCatalog()
	c.Register(MeanReversionName, NewMeanReversion)
	c.Register(NoopName, NewNoop)
	return c
}
