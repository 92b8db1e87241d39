package portfolio

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/journal"
	"github.com/davidmag854/fpg-trading/strategy"
)

// Selector picks the instances Liquidate acts on.
type Selector struct {
	id       string
	instance strategy.Strategy
	all      bool
}

// ByID selects one active instance.
func ByID(instID string) Selector { return Selector{id: instID} }

// ByInstance selects st whether or not it is active. Reconciliation uses it
// for restored instances.
func ByInstance(st strategy.Strategy) Selector { return Selector{instance: st} }

// All selects every active instance.
func All() Selector { return Selector{all: true} }

// Liquidate closes the selected instances' positions at market and expires
// them. Flat instances are just expired. An instance whose exit fails stays
// active, still holding its position, and the error is returned.
func (s *Scheduler) Liquidate(ctx context.Context, sel Selector) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var targets []strategy.Strategy
	switch {
	case sel.all:
		for _, instID := range s.activeIDs() {
			if st, ok := s.lookup(instID); ok {
				targets = append(targets, st)
			}
		}
	case sel.instance != nil:
		targets = append(targets, sel.instance)
	default:
		st, ok := s.lookup(sel.id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, sel.id)
		}
		targets = append(targets, st)
	}

	var errs []error
	for _, st := range targets {
		if err := s.liquidate(ctx, st); err != nil {
			errs = append(errs, fmt.Errorf("liquidate %s: %w", st.Instance().ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) liquidate(ctx context.Context, st strategy.Strategy) error {
	s.mu.Lock()
	inst := st.Instance()
	var exit *strategy.Intent
	if inst.HasPosition() {
		in := inst.Close()
		in.Leverage = 1
		exit = &in
	}
	s.mu.Unlock()

	var routeErr error
	if exit != nil {
		routeErr = s.route(ctx, st, *exit)
		s.mu.RLock()
		open := inst.HasPosition()
		s.mu.RUnlock()
		if open {
			return routeErr
		}
	}

	s.mu.Lock()
	inst.Expire()
	s.mu.Unlock()

	s.log.Info("instance liquidated",
		zap.String("instance", inst.ID),
		zap.String("pair", inst.Pair),
		zap.Bool("had_position", exit != nil))
	return errors.Join(routeErr, s.commit(ctx, st))
}

// Restore rebuilds every non-expired instance in the store that is not
// already active. Restored instances are not admitted: the caller admits,
// liquidates or discards each one. Rows that cannot be rebuilt are skipped
// and reported in the error.
func (s *Scheduler) Restore(ctx context.Context) ([]strategy.Strategy, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	snaps, err := s.store.QueryNonExpired(ctx)
	var errs []error
	if err != nil {
		if !errors.Is(err, journal.ErrBadRecord) {
			return nil, err
		}
		errs = append(errs, err)
	}

	var out []strategy.Strategy
	for _, snap := range snaps {
		if _, ok := s.lookup(snap.ID); ok {
			continue
		}
		st, ignored, err := s.catalog.Restore(snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(ignored) > 0 {
			s.log.Warn("ignored stored fields",
				zap.String("instance", snap.ID),
				zap.Strings("fields", ignored))
		}
		out = append(out, st)
	}
	return out, errors.Join(errs...)
}

// Admit adds a restored instance to the active set. Unless force is set,
// an instance that would push its pair past the policy's limits is refused
// with ErrConcurrencyLimit. The policy's creation anchor moves to the
// instance's creation time if that is later.
func (s *Scheduler) Admit(ctx context.Context, st strategy.Strategy, force bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	inst := st.Instance()
	if _, ok := s.active[inst.ID]; ok {
		return fmt.Errorf("instance %s is already active", inst.ID)
	}
	if p, ok := s.byName[inst.Name]; ok && !force && !p.admits(countInstances(s.instancesLocked()), inst) {
		return fmt.Errorf("%w: %s on %s", ErrConcurrencyLimit, inst.ID, inst.Pair)
	}

	s.active[inst.ID] = st
	if inst.CreationTime.After(s.lastCreated[inst.Name]) {
		s.lastCreated[inst.Name] = inst.CreationTime
	}
	s.log.Info("instance admitted",
		zap.String("instance", inst.ID),
		zap.String("pair", inst.Pair),
		zap.String("position", string(inst.Position)),
		zap.Bool("forced", force))
	return nil
}

// Discard expires st without trading. A held position is left to the
// operator.
func (s *Scheduler) Discard(ctx context.Context, st strategy.Strategy) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	inst := st.Instance()
	inst.Expire()
	delete(s.active, inst.ID)
	instID, pos := inst.ID, inst.Position
	s.mu.Unlock()

	if pos != strategy.None {
		s.log.Warn("discarded instance still holds a position",
			zap.String("instance", instID),
			zap.String("position", string(pos)))
	}
	return s.store.MarkExpired(ctx, instID)
}
