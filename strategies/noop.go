package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategy"
)

const NoopName = "Noop"

// Noop never trades. It counts the samples it sees and expires once a day
// has passed since creation.
type Noop struct {
	strategy.Base
	Ticks int
}

func NewNoop(inst strategy.Instance) strategy.Strategy {
	s := &Noop{Base: strategy.NewBase(inst)}
	s.Declare(strategy.Int("ticks", &s.Ticks))
	return s
}

func (s *Noop) Initialize(ctx context.Context, src source.Source) error {
	s.Instance().Activate()
	return nil
}

func (s *Noop) Evaluate(price float64, now time.Time) []strategy.Intent {
	s.Ticks++
	s.CheckExpiry(now)
	return nil
}

func (s *Noop) CheckExpiry(now time.Time) {
	inst := s.Instance()
	if now.Sub(inst.CreationTime) >= market.Day {
		inst.DaysElapsed = 1
		inst.Expire()
	}
}

func (s *Noop) Describe() string {
	inst := s.Instance()
	return fmt.Sprintf("%s %s on %s: %s, %d ticks", inst.Name, inst.ID, inst.Pair, inst.State, s.Ticks)
}
