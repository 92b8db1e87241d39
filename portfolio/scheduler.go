// Package portfolio owns the active strategy instances. It creates them on
// a cadence, ticks them against a source, routes their intents to an
// executor and persists every transition.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/journal"
	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/pkg/id"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategy"
)

var (
	ErrNotFound         = errors.New("instance not found")
	ErrConcurrencyLimit = errors.New("concurrency limit reached")
	ErrReplayFinished   = errors.New("replay finished")
)

// DefaultGrace is how late past its interval a scheduled creation may
// fire and still count as on time.
const DefaultGrace = 2 * time.Minute

type Config struct {
	Policies []Policy
	Leverage int
	Grace    time.Duration
}

// fielded strategies accept configured parameters through their field
// table.
type fielded interface {
	Fields() strategy.Fields
}

// anchored strategies report the session open their day count starts
// from; the first creation of a policy aligns its cadence to it.
type anchored interface {
	SessionAnchor() time.Time
}

type Scheduler struct {
	catalog *strategy.Catalog
	src     source.Source
	store   journal.Store
	exec    Executor
	ids     *id.Generator
	log     *zap.Logger

	policies []Policy
	byName   map[string]Policy
	leverage int
	grace    time.Duration

	// opMu serializes lifecycle operations (tick, creation, liquidation,
	// restore and admission) so an instance is driven by one caller at a
	// time. A tick keeps it through every gateway round trip, so an
	// operator command issued mid-cycle waits for the cycle. mu guards the maps below and the state of every instance;
	// it is never held across executor or store calls.
	opMu sync.Mutex

	mu          sync.RWMutex
	active      map[string]strategy.Strategy
	lastCreated map[string]time.Time
}

func New(cfg Config, catalog *strategy.Catalog, src source.Source, store journal.Store, exec Executor, ids *id.Generator, log *zap.Logger) (*Scheduler, error) {
	known := make(map[string]bool)
	for _, n := range catalog.Names() {
		known[n] = true
	}
	byName := make(map[string]Policy, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if !known[p.Name] {
			return nil, fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, p.Name)
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy for %s", p.Name)
		}
		byName[p.Name] = p
	}

	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if ids == nil {
		ids = id.NewGenerator(time.Now().UnixNano())
	}

	return &Scheduler{
		catalog:     catalog,
		src:         src,
		store:       store,
		exec:        exec,
		ids:         ids,
		log:         log.With(zap.String("component", "portfolio")),
		policies:    append([]Policy(nil), cfg.Policies...),
		byName:      byName,
		leverage:    cfg.Leverage,
		grace:       cfg.Grace,
		active:      make(map[string]strategy.Strategy),
		lastCreated: make(map[string]time.Time),
	}, nil
}

// Tick runs one cycle at the source's current time: due creations first,
// then every active instance in id order. A failing instance does not stop
// the others; all failures come back joined. A replay source is advanced
// one step afterwards.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	stepper, stepped := s.src.(source.Stepper)
	if stepped && stepper.AtEnd() {
		return ErrReplayFinished
	}

	now := s.src.Now()
	var errs []error
	if err := s.createDue(ctx, now, false); err != nil {
		errs = append(errs, err)
	}
	for _, instID := range s.activeIDs() {
		if err := s.step(ctx, instID, now); err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", instID, err))
		}
	}

	if stepped {
		stepper.Advance()
	}
	return errors.Join(errs...)
}

func (s *Scheduler) step(ctx context.Context, instID string, now time.Time) error {
	st, ok := s.lookup(instID)
	if !ok {
		return nil
	}
	s.mu.RLock()
	inst := st.Instance()
	pair := inst.Pair
	s.mu.RUnlock()

	price, err := s.src.MidPrice(ctx, pair)
	if err != nil {
		s.log.Debug("no price", zap.String("instance", instID), zap.String("pair", pair), zap.Error(err))
		return err
	}

	s.mu.Lock()
	var intents []strategy.Intent
	if inst.IsExpired {
		// Only reachable after a failed exit: retry it.
		if inst.HasPosition() {
			intents = append(intents, inst.Close())
		}
	} else {
		intents = st.Evaluate(price, now)
	}
	s.mu.Unlock()

	var errs []error
	for _, in := range intents {
		if err := s.route(ctx, st, in); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.commit(ctx, st); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RouteIntent executes one intent for st outside of the cycle.
func (s *Scheduler) RouteIntent(ctx context.Context, st strategy.Strategy, in strategy.Intent) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.route(ctx, st, in); err != nil {
		return err
	}
	return s.commit(ctx, st)
}

// route executes in and records the trade. On failure the instance is
// rolled back to its state before the intent was produced.
func (s *Scheduler) route(ctx context.Context, st strategy.Strategy, in strategy.Intent) error {
	s.mu.RLock()
	inst := st.Instance()
	o := Order{InstanceID: inst.ID, Intent: in, EntryPrice: inst.EntryPrice}
	name := inst.Name
	s.mu.RUnlock()

	log := s.log.With(
		zap.String("instance", o.InstanceID),
		zap.String("pair", in.Pair),
		zap.String("side", string(in.Side)),
		zap.String("position", string(in.Position)),
	)

	fill, err := s.exec.Execute(ctx, o)

	s.mu.Lock()
	if err != nil {
		if in.Side == strategy.Enter {
			inst.AbortEntry()
		} else {
			inst.AbortExit(in)
		}
		s.mu.Unlock()
		log.Warn("intent not executed", zap.Error(err))
		return err
	}
	inst.Filled(in, fill.Price, fill.Amount)
	s.mu.Unlock()

	log.Info("intent filled",
		zap.String("trade", fill.TradeID),
		zap.Float64("price", fill.Price),
		zap.Float64("amount", fill.Amount))

	return s.store.AppendTrade(ctx, journal.TradeRecord{
		TradeID:      fill.TradeID,
		Time:         fill.Time,
		InstanceID:   o.InstanceID,
		StrategyName: name,
		Pair:         in.Pair,
		Asset:        market.Base(in.Pair),
		Side:         in.Side,
		Position:     in.Position,
		Amount:       fill.Amount,
		Price:        fill.Price,
		Leverage:     in.Leverage,
		Balance:      fill.Balance,
	})
}

// commit persists st and drops it from the active set once it is expired
// and flat. A failed write keeps the instance so the next cycle retries.
func (s *Scheduler) commit(ctx context.Context, st strategy.Strategy) error {
	s.mu.RLock()
	snap, err := st.Serialize()
	done := st.Instance().IsExpired && !st.Instance().HasPosition()
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := s.store.UpsertInstance(ctx, snap); err != nil {
		return err
	}
	if done {
		s.mu.Lock()
		_, was := s.active[snap.ID]
		delete(s.active, snap.ID)
		s.mu.Unlock()
		if was {
			s.log.Info("instance expired",
				zap.String("instance", snap.ID),
				zap.String("pair", snap.Pair),
				zap.Int("days", snap.DaysElapsed))
		}
	}
	return nil
}

// CreateDueInstances creates instances for every active policy whose
// interval has passed. With initial set every active policy fires
// regardless of its cadence.
func (s *Scheduler) CreateDueInstances(ctx context.Context, initial bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.createDue(ctx, s.src.Now(), initial)
}

func (s *Scheduler) createDue(ctx context.Context, now time.Time, initial bool) error {
	var errs []error
	for _, p := range s.policies {
		if !p.Active {
			continue
		}

		s.mu.RLock()
		last := s.lastCreated[p.Name]
		s.mu.RUnlock()

		// The anchor moves by exactly one interval per scheduled creation
		// so a late cycle does not push later creations back.
		var anchor time.Time
		switch {
		case initial || last.IsZero():
		case p.due(last, now, s.grace):
			anchor = last.Add(p.Interval)
		default:
			continue
		}

		var first strategy.Strategy
		for _, pair := range p.Pairs {
			s.mu.RLock()
			long, short := p.eligibility(countInstances(s.instancesLocked()), pair)
			s.mu.RUnlock()
			if !long && !short {
				s.log.Debug("pair at capacity", zap.String("strategy", p.Name), zap.String("pair", pair))
				continue
			}

			st, err := s.create(ctx, p, pair, now, long, short)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if first == nil {
				first = st
			}
		}

		s.mu.Lock()
		if anchor.IsZero() {
			anchor = now
			if a, ok := first.(anchored); ok {
				anchor = a.SessionAnchor()
			}
		}
		s.lastCreated[p.Name] = anchor
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s *Scheduler) create(ctx context.Context, p Policy, pair string, now time.Time, long, short bool) (strategy.Strategy, error) {
	st, err := s.catalog.New(p.Name, strategy.Instance{
		ID:           s.ids.NewAt(now),
		Pair:         pair,
		CreationTime: now,
		State:        strategy.Initializing,
		Position:     strategy.None,
		Leverage:     s.leverage,
		LongAllowed:  long,
		ShortAllowed: short,
	})
	if err != nil {
		return nil, err
	}
	if len(p.Params) > 0 {
		f, ok := st.(fielded)
		if !ok {
			return nil, fmt.Errorf("%s takes no parameters", p.Name)
		}
		if err := f.Fields().Apply(p.Params); err != nil {
			return nil, fmt.Errorf("%s params: %w", p.Name, err)
		}
	}

	if err := st.Initialize(ctx, s.src); err != nil {
		return nil, fmt.Errorf("create %s on %s: %w", p.Name, pair, err)
	}
	snap, err := st.Serialize()
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertInstance(ctx, snap); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.active[snap.ID] = st
	s.mu.Unlock()

	s.log.Info("instance created",
		zap.String("instance", snap.ID),
		zap.String("strategy", p.Name),
		zap.String("pair", pair),
		zap.Bool("long_allowed", long),
		zap.Bool("short_allowed", short))
	return st, nil
}

// RecomputeConcurrencyCounters derives the per-pair counters from the
// current active set.
func (s *Scheduler) RecomputeConcurrencyCounters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countInstances(s.instancesLocked())
}

func (s *Scheduler) SetLastCreated(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCreated[name] = t
}

func (s *Scheduler) LastCreated(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCreated[name]
}

// Active returns a snapshot of every active instance, oldest first.
func (s *Scheduler) Active() []strategy.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]strategy.Snapshot, 0, len(s.active))
	for _, st := range s.active {
		snap, err := st.Serialize()
		if err != nil {
			s.log.Warn("serialize", zap.String("instance", st.Instance().ID), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].CreationTime.Before(out[j].CreationTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

func (s *Scheduler) Describe(instID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.active[instID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, instID)
	}
	return st.Describe(), nil
}

// Balance returns the executor's balances of every currency the policies
// trade.
func (s *Scheduler) Balance(ctx context.Context) (map[string]float64, error) {
	seen := make(map[string]bool)
	var coins []string
	for _, p := range s.policies {
		for _, pair := range p.Pairs {
			base, quote, err := market.SplitPair(pair)
			if err != nil {
				continue
			}
			for _, c := range []string{base, quote} {
				if !seen[c] {
					seen[c] = true
					coins = append(coins, c)
				}
			}
		}
	}
	sort.Strings(coins)
	return s.exec.Balance(ctx, coins)
}

func (s *Scheduler) lookup(instID string) (strategy.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.active[instID]
	return st, ok
}

func (s *Scheduler) activeIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.active))
	for k := range s.active {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) instancesLocked() []*strategy.Instance {
	out := make([]*strategy.Instance, 0, len(s.active))
	for _, st := range s.active {
		out = append(out, st.Instance())
	}
	return out
}
