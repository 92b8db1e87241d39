package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/broker"
	"github.com/davidmag854/fpg-trading/portfolio"
	"github.com/davidmag854/fpg-trading/strategies"
	"github.com/davidmag854/fpg-trading/strategy"
)

type fakeScheduler struct {
	active     []strategy.Snapshot
	liquidated []portfolio.Selector
	admitted   map[string]bool
	discarded  []string
	limited    map[string]bool
}

func (f *fakeScheduler) Active() []strategy.Snapshot { return f.active }

func (f *fakeScheduler) Describe(instID string) (string, error) {
	for _, s := range f.active {
		if s.ID == instID {
			return "instance " + instID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", portfolio.ErrNotFound, instID)
}

func (f *fakeScheduler) Liquidate(ctx context.Context, sel portfolio.Selector) error {
	f.liquidated = append(f.liquidated, sel)
	return nil
}

func (f *fakeScheduler) Admit(ctx context.Context, st strategy.Strategy, force bool) error {
	instID := st.Instance().ID
	if f.limited[instID] && !force {
		return portfolio.ErrConcurrencyLimit
	}
	if f.admitted == nil {
		f.admitted = map[string]bool{}
	}
	f.admitted[instID] = force
	return nil
}

func (f *fakeScheduler) Discard(ctx context.Context, st strategy.Strategy) error {
	f.discarded = append(f.discarded, st.Instance().ID)
	return nil
}

func (f *fakeScheduler) Balance(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"USD": 1000, "BTC": 0.5}, nil
}

func (f *fakeScheduler) RecomputeConcurrencyCounters() portfolio.Counters {
	return portfolio.Counters{
		Long:  map[string]portfolio.PairCounts{"MeanReversion": {"BTC/USD": 1}},
		Short: map[string]portfolio.PairCounts{"MeanReversion": {"ETH/USD": 2}, "Noop": {"BTC/USD": 1}},
	}
}

type fakeBooks struct{}

func (fakeBooks) FetchOrderbook(ctx context.Context, pair string) (broker.Orderbook, error) {
	if pair != "BTC/USD" {
		return broker.Orderbook{}, errors.New("unknown pair")
	}
	return broker.Orderbook{
		Bids: []broker.Level{{Price: 99, Amount: 1}},
		Asks: []broker.Level{{Price: 101, Amount: 2}},
	}, nil
}

func newConsole(sched Scheduler, input string, opts Options) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	return New(sched, opts, strings.NewReader(input), &out, zap.NewNop()), &out
}

func snap(instID string) strategy.Snapshot {
	return strategy.Snapshot{Instance: strategy.Instance{
		ID: instID, Name: "MeanReversion", Pair: "BTC/USD", State: strategy.PositionOpen,
		Position: strategy.Long, Amount: 0.5, CreationTime: time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC),
	}}
}

func TestExec_Inspection(t *testing.T) {
	ctx := context.Background()
	sched := &fakeScheduler{active: []strategy.Snapshot{snap("abc")}}
	c, out := newConsole(sched, "", Options{Books: fakeBooks{}})

	_, err := c.Exec(ctx, "list")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "abc")
	assert.Contains(t, out.String(), "position_open")
	assert.Contains(t, out.String(), "2024-03-01 13:00:00")

	out.Reset()
	_, err = c.Exec(ctx, "describe abc")
	require.NoError(t, err)
	assert.Equal(t, "instance abc\n", out.String())

	_, err = c.Exec(ctx, "describe zzz")
	assert.ErrorIs(t, err, portfolio.ErrNotFound)

	out.Reset()
	_, err = c.Exec(ctx, "balance")
	require.NoError(t, err)
	assert.Equal(t, 0, strings.Index(out.String(), "BTC"), "coins are sorted")

	out.Reset()
	_, err = c.Exec(ctx, "counters")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "MeanReversion   BTC/USD    long 1  short 0")
	assert.Contains(t, out.String(), "MeanReversion   ETH/USD    long 0  short 2")
	assert.Contains(t, out.String(), "Noop            BTC/USD    long 0  short 1")

	out.Reset()
	_, err = c.Exec(ctx, "book btc/usd")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "101.00")
	assert.Contains(t, out.String(), "99.00")

	_, err = c.Exec(ctx, "frobnicate")
	assert.Error(t, err)
}

func TestExec_LiquidateAsksFirst(t *testing.T) {
	ctx := context.Background()
	sched := &fakeScheduler{active: []strategy.Snapshot{snap("abc")}}
	c, _ := newConsole(sched, "n\ny\nyes\n", Options{})

	_, err := c.Exec(ctx, "liquidate abc")
	require.NoError(t, err)
	assert.Empty(t, sched.liquidated)

	_, err = c.Exec(ctx, "liquidate abc")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "liquidate all")
	require.NoError(t, err)

	require.Len(t, sched.liquidated, 2)
	assert.Equal(t, portfolio.ByID("abc"), sched.liquidated[0])
	assert.Equal(t, portfolio.All(), sched.liquidated[1])
}

func TestExec_Export(t *testing.T) {
	c, out := newConsole(&fakeScheduler{}, "", Options{
		Export: func(context.Context) (string, string, error) { return "a.csv", "b.csv", nil },
	})
	_, err := c.Exec(context.Background(), "export")
	require.NoError(t, err)
	assert.Equal(t, "wrote a.csv\nwrote b.csv\n", out.String())
}

func TestRun_ShutdownOffersLiquidation(t *testing.T) {
	sched := &fakeScheduler{active: []strategy.Snapshot{snap("abc")}}
	stopped := false
	c, out := newConsole(sched, "list\nshutdown\ny\n", Options{Shutdown: func() { stopped = true }})

	require.NoError(t, c.Run(context.Background()))
	assert.True(t, stopped)
	require.Len(t, sched.liquidated, 1)
	assert.Equal(t, portfolio.All(), sched.liquidated[0])
	assert.Contains(t, out.String(), "liquidate all open positions")
}

func TestRun_ClosedInputWaitsForContext(t *testing.T) {
	c, _ := newConsole(&fakeScheduler{}, "", Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, c.Run(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReconcile(t *testing.T) {
	restored := []strategy.Strategy{
		strategies.NewNoop(strategy.Instance{ID: "a", Name: strategies.NoopName, Pair: "BTC/USD"}),
		strategies.NewNoop(strategy.Instance{ID: "b", Name: strategies.NoopName, Pair: "BTC/USD"}),
		strategies.NewNoop(strategy.Instance{ID: "c", Name: strategies.NoopName, Pair: "BTC/USD"}),
		strategies.NewNoop(strategy.Instance{ID: "d", Name: strategies.NoopName, Pair: "BTC/USD"}),
	}
	sched := &fakeScheduler{limited: map[string]bool{"b": true, "d": true}}
	input := strings.Join([]string{
		"admit",
		"a", "n", "?", "d",
		"l",
		"a", "y",
	}, "\n") + "\n"
	c, _ := newConsole(sched, input, Options{})

	n, err := c.Reconcile(context.Background(), restored)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]bool{"a": false, "d": true}, sched.admitted)
	assert.Equal(t, []string{"b"}, sched.discarded)
	require.Len(t, sched.liquidated, 1)
	assert.Equal(t, portfolio.ByInstance(restored[2]), sched.liquidated[0])
}

func TestReconcile_InputClosed(t *testing.T) {
	restored := []strategy.Strategy{
		strategies.NewNoop(strategy.Instance{ID: "a", Name: strategies.NoopName, Pair: "BTC/USD"}),
	}
	c, _ := newConsole(&fakeScheduler{}, "", Options{})
	_, err := c.Reconcile(context.Background(), restored)
	assert.Error(t, err)
}
