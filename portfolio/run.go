package portfolio

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/broker"
	"github.com/davidmag854/fpg-trading/source"
)

// Run ticks every interval until ctx is done. A tick in flight when ctx is
// cancelled runs to completion. After an execution failure the loop waits
// backoff and calls reconnect before the next cycle.
func (s *Scheduler) Run(ctx context.Context, every, backoff time.Duration, reconnect func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := s.Tick(context.WithoutCancel(ctx))
		if err == nil {
			continue
		}
		if errors.Is(err, ErrReplayFinished) {
			return err
		}
		s.log.Warn("cycle", zap.Error(err))

		if !errors.Is(err, broker.ErrExecution) || reconnect == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if err := reconnect(ctx); err != nil {
			s.log.Warn("reconnect", zap.Error(err))
		}
	}
}

// RunReplay ticks a replay source to the end of its data, then liquidates
// whatever is still active at the final price.
func (s *Scheduler) RunReplay(ctx context.Context) error {
	stepper, ok := s.src.(source.Stepper)
	if !ok {
		return errors.New("source cannot be stepped")
	}

	for !stepper.AtEnd() {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.src.Now()
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, ErrReplayFinished) {
				break
			}
			s.log.Debug("cycle", zap.Time("at", now), zap.Error(err))
		}
	}
	return s.Liquidate(ctx, All())
}
