package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/broker"
	"github.com/davidmag854/fpg-trading/journal"
	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/pkg/id"
	"github.com/davidmag854/fpg-trading/risk"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategy"
)

const (
	manualName = "Manual"
	otherName  = "Other"
)

var t0 = time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

// manual opens, closes and expires on fixed tick numbers.
type manual struct {
	strategy.Base
	Ticks    int
	OpenAt   int
	Side     string
	Stop     float64
	CloseAt  int
	ExpireAt int
}

func newManual(inst strategy.Instance) strategy.Strategy {
	m := &manual{Base: strategy.NewBase(inst), Side: "long"}
	m.Declare(
		strategy.Int("ticks", &m.Ticks),
		strategy.Int("open_at", &m.OpenAt),
		strategy.String("side", &m.Side),
		strategy.Float("stop", &m.Stop),
		strategy.Int("close_at", &m.CloseAt),
		strategy.Int("expire_at", &m.ExpireAt),
	)
	return m
}

func (m *manual) Initialize(ctx context.Context, src source.Source) error {
	m.Instance().Activate()
	return nil
}

func (m *manual) Evaluate(price float64, now time.Time) []strategy.Intent {
	m.Ticks++
	inst := m.Instance()
	switch {
	case m.Ticks == m.OpenAt && !inst.HasPosition():
		pos := strategy.Position(m.Side)
		if inst.CanOpen(pos) {
			return []strategy.Intent{inst.Open(pos, m.Stop)}
		}
	case m.Ticks == m.CloseAt && inst.HasPosition():
		return []strategy.Intent{inst.Close()}
	case m.Ticks == m.ExpireAt:
		if inst.HasPosition() {
			in := inst.Close()
			inst.Expire()
			return []strategy.Intent{in}
		}
		inst.Expire()
	}
	return nil
}

func (m *manual) CheckExpiry(now time.Time) {}

func (m *manual) Describe() string {
	return fmt.Sprintf("manual %s ticks=%d", m.Instance().ID, m.Ticks)
}

func (m *manual) SessionAnchor() time.Time {
	return m.Instance().CreationTime.Add(-time.Hour)
}

func testCatalog() *strategy.Catalog {
	c := strategy.NewCatalog()
	c.Register(manualName, newManual)
	c.Register(otherName, newManual)
	return c
}

// memStore is an in-memory journal.Store.
type memStore struct {
	mu         sync.Mutex
	snaps      map[string]strategy.Snapshot
	trades     []journal.TradeRecord
	failUpsert int
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]strategy.Snapshot)}
}

func (m *memStore) InitializeSchema(ctx context.Context, session string) error { return nil }

func (m *memStore) UpsertInstance(ctx context.Context, snap strategy.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert > 0 {
		m.failUpsert--
		return fmt.Errorf("%w: disk full", journal.ErrPersistence)
	}
	m.snaps[snap.ID] = snap
	return nil
}

func (m *memStore) MarkExpired(ctx context.Context, instID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[instID]
	if !ok {
		return fmt.Errorf("%w: %s not found", journal.ErrPersistence, instID)
	}
	snap.IsExpired = true
	snap.State = strategy.Expired
	m.snaps[instID] = snap
	return nil
}

func (m *memStore) QueryNonExpired(ctx context.Context) ([]strategy.Snapshot, error) {
	all, err := m.QueryAll(ctx)
	var out []strategy.Snapshot
	for _, s := range all {
		if !s.IsExpired {
			out = append(out, s)
		}
	}
	return out, err
}

func (m *memStore) QueryAll(ctx context.Context) ([]strategy.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]strategy.Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) AppendTrade(ctx context.Context, rec journal.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, rec)
	return nil
}

func (m *memStore) QueryAllTrades(ctx context.Context) ([]journal.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.TradeRecord(nil), m.trades...), nil
}

func (m *memStore) snap(instID string) strategy.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[instID]
}

func (m *memStore) tradeList() []journal.TradeRecord {
	tr, _ := m.QueryAllTrades(context.Background())
	return tr
}

// flakyExecutor fails the next failEnter entries and failExit exits.
type flakyExecutor struct {
	Executor

	mu        sync.Mutex
	failEnter int
	failExit  int
}

func (f *flakyExecutor) Execute(ctx context.Context, o Order) (Fill, error) {
	f.mu.Lock()
	fail := false
	switch {
	case o.Intent.Side == strategy.Enter && f.failEnter > 0:
		f.failEnter--
		fail = true
	case o.Intent.Side == strategy.Exit && f.failExit > 0:
		f.failExit--
		fail = true
	}
	f.mu.Unlock()

	if fail {
		return Fill{}, fmt.Errorf("%w: gateway unreachable", broker.ErrExecution)
	}
	return f.Executor.Execute(ctx, o)
}

func (f *flakyExecutor) failExits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failExit = n
}

func (f *flakyExecutor) failEntries(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failEnter = n
}

type fixture struct {
	sched  *Scheduler
	store  *memStore
	ledger *Ledger
	exec   *flakyExecutor
}

func newFixture(t *testing.T, src source.Source, equity float64, policies ...Policy) *fixture {
	t.Helper()

	store := newMemStore()
	ledger := NewLedger(map[string]float64{"USD": equity})
	ids := id.NewGenerator(1)
	exec := &flakyExecutor{Executor: NewReplayExecutor(src, risk.NewSizer(src, nil, 0.01), ledger, ids)}

	sched, err := New(Config{Policies: policies, Leverage: 3, Grace: DefaultGrace},
		testCatalog(), src, store, exec, ids, zap.NewNop())
	require.NoError(t, err)
	return &fixture{sched: sched, store: store, ledger: ledger, exec: exec}
}

// quotes returns n one-minute quotes starting at from, with prices taken
// from prices (the last one repeats).
func quotes(from time.Time, n int, prices ...float64) []source.Quote {
	out := make([]source.Quote, n)
	for i := range out {
		p := prices[len(prices)-1]
		if i < len(prices) {
			p = prices[i]
		}
		out[i] = source.Quote{Time: from.Add(time.Duration(i) * time.Minute), Price: p}
	}
	return out
}

func newReplay(t *testing.T, series map[string][]source.Quote) *source.Replay {
	t.Helper()
	data := make(map[string]source.Series, len(series))
	for pair, q := range series {
		data[pair] = source.Series{Quotes: q}
	}
	r, err := source.NewReplay(data, t0, time.Time{})
	require.NoError(t, err)
	return r
}

func manualPolicy(params map[string]any, pairs ...string) Policy {
	return Policy{
		Name:     manualName,
		Active:   true,
		Interval: market.Day,
		Pairs:    pairs,
		Params:   params,
	}
}

// clockSource moves one minute forward on every Now call and always
// quotes the same price.
type clockSource struct {
	mu    sync.Mutex
	now   time.Time
	price float64
}

func (c *clockSource) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func (c *clockSource) MidPrice(ctx context.Context, pair string) (float64, error) {
	return c.price, nil
}

func (c *clockSource) AggregatedBars(ctx context.Context, exchangeID, pair string, open market.SessionOpen, since time.Time, daysBack int) ([]market.Bar, error) {
	return nil, errors.New("no bars")
}
