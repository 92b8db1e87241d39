// Package console is the operator's control loop for a running session:
// inspection, forced liquidation, exports and shutdown, plus the
// admit/liquidate/discard reconciliation of restored instances.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/broker"
	"github.com/davidmag854/fpg-trading/portfolio"
	"github.com/davidmag854/fpg-trading/strategy"
)

// Scheduler is the part of portfolio.Scheduler the console drives.
type Scheduler interface {
	Active() []strategy.Snapshot
	Describe(instID string) (string, error)
	Liquidate(ctx context.Context, sel portfolio.Selector) error
	Admit(ctx context.Context, st strategy.Strategy, force bool) error
	Discard(ctx context.Context, st strategy.Strategy) error
	Balance(ctx context.Context) (map[string]float64, error)
	RecomputeConcurrencyCounters() portfolio.Counters
}

type Orderbooks interface {
	FetchOrderbook(ctx context.Context, pair string) (broker.Orderbook, error)
}

type Options struct {
	// Books serves the book command; nil disables it.
	Books Orderbooks

	// Export writes both history files and returns their paths.
	Export func(ctx context.Context) (instances, trades string, err error)

	// Shutdown stops the session once the operator asks for it.
	Shutdown func()
}

type Console struct {
	sched Scheduler
	opts  Options
	lines <-chan string
	out   io.Writer
	log   *zap.Logger
}

func New(sched Scheduler, opts Options, in io.Reader, out io.Writer, log *zap.Logger) *Console {
	return &Console{
		sched: sched,
		opts:  opts,
		lines: readLines(in),
		out:   out,
		log:   log.With(zap.String("component", "console")),
	}
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// prompt writes q and waits for one line of input. It returns io.EOF once
// input is exhausted.
func (c *Console) prompt(ctx context.Context, q string) (string, error) {
	c.printf("%s", q)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

func (c *Console) confirm(ctx context.Context, q string) (bool, error) {
	ans, err := c.prompt(ctx, q+" [y/N] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Run serves commands until shutdown or until ctx is done. When input runs
// out the console goes quiet and waits for ctx.
func (c *Console) Run(ctx context.Context) error {
	c.printf("type 'help' for commands\n")
	for {
		line, err := c.prompt(ctx, "> ")
		if errors.Is(err, io.EOF) {
			c.log.Info("console input closed")
			<-ctx.Done()
			return nil
		}
		if err != nil {
			return nil
		}

		done, err := c.Exec(ctx, line)
		if err != nil {
			c.printf("error: %v\n", err)
		}
		if done {
			return nil
		}
	}
}

// Exec runs one command line. It reports true after a shutdown.
func (c *Console) Exec(ctx context.Context, line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}

	switch cmd, rest := strings.ToLower(args[0]), args[1:]; cmd {
	case "help", "?":
		c.help()
	case "list", "ls":
		c.list()
	case "describe", "show":
		if len(rest) != 1 {
			return false, errors.New("usage: describe <id>")
		}
		d, err := c.sched.Describe(rest[0])
		if err != nil {
			return false, err
		}
		c.printf("%s\n", d)
	case "liquidate":
		if len(rest) != 1 {
			return false, errors.New("usage: liquidate <id>|all")
		}
		return false, c.liquidate(ctx, rest[0])
	case "counters":
		c.counters()
	case "balance":
		return false, c.balance(ctx)
	case "book":
		if len(rest) != 1 {
			return false, errors.New("usage: book <pair>")
		}
		return false, c.book(ctx, rest[0])
	case "export":
		if c.opts.Export == nil {
			return false, errors.New("export is not available")
		}
		inst, trades, err := c.opts.Export(ctx)
		if err != nil {
			return false, err
		}
		c.printf("wrote %s\nwrote %s\n", inst, trades)
	case "shutdown", "exit", "quit":
		return true, c.shutdown(ctx)
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (c *Console) help() {
	c.printf(`commands:
  list                   active instances
  describe <id>          one instance in detail
  liquidate <id>|all     close positions at market and expire
  counters               per-pair long/short counters
  balance                account balances
  book <pair>            top of the order book
  export                 write instance and trade history
  shutdown               stop the session
`)
}

func (c *Console) list() {
	active := c.sched.Active()
	if len(active) == 0 {
		c.printf("no active instances\n")
		return
	}
	c.printf("%-26s  %-14s  %-9s  %-13s  %-5s  %12s  %s\n", "ID", "STRATEGY", "PAIR", "STATE", "POS", "AMOUNT", "CREATED")
	for _, s := range active {
		c.printf("%-26s  %-14s  %-9s  %-13s  %-5s  %12.6f  %s\n",
			s.ID, s.Name, s.Pair, s.State, s.Position, s.Amount, s.CreationTime.Format(time.DateTime))
	}
}

func (c *Console) counters() {
	cnt := c.sched.RecomputeConcurrencyCounters()
	pairs := make(map[string]map[string]bool)
	for _, m := range []map[string]portfolio.PairCounts{cnt.Long, cnt.Short} {
		for name, pc := range m {
			if pairs[name] == nil {
				pairs[name] = make(map[string]bool)
			}
			for p := range pc {
				pairs[name][p] = true
			}
		}
	}
	if len(pairs) == 0 {
		c.printf("no exposure\n")
		return
	}
	for _, name := range sortedKeys(pairs) {
		for _, p := range sortedKeys(pairs[name]) {
			c.printf("%-14s  %-9s  long %d  short %d\n", name, p, cnt.Long[name][p], cnt.Short[name][p])
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Console) liquidate(ctx context.Context, target string) error {
	sel, what := portfolio.ByID(target), "instance "+target
	if strings.EqualFold(target, "all") {
		sel, what = portfolio.All(), "every active instance"
	}
	ok, err := c.confirm(ctx, "liquidate "+what+"?")
	if err != nil || !ok {
		return err
	}
	if err := c.sched.Liquidate(ctx, sel); err != nil {
		return err
	}
	c.log.Info("operator liquidation", zap.String("target", target))
	c.printf("liquidated %s\n", what)
	return nil
}

func (c *Console) balance(ctx context.Context) error {
	bal, err := c.sched.Balance(ctx)
	if err != nil {
		return err
	}
	coins := make([]string, 0, len(bal))
	for coin := range bal {
		coins = append(coins, coin)
	}
	sort.Strings(coins)
	for _, coin := range coins {
		c.printf("%-6s %18.8f\n", coin, bal[coin])
	}
	return nil
}

func (c *Console) book(ctx context.Context, pair string) error {
	if c.opts.Books == nil {
		return errors.New("no order book in this session")
	}
	ob, err := c.opts.Books.FetchOrderbook(ctx, strings.ToUpper(pair))
	if err != nil {
		return err
	}
	c.printf("%-10s %14s %14s\n", "", "PRICE", "AMOUNT")
	for i := len(ob.Asks) - 1; i >= 0; i-- {
		if i < 5 {
			c.printf("%-10s %14.2f %14.6f\n", "ask", ob.Asks[i].Price, ob.Asks[i].Amount)
		}
	}
	for i, lvl := range ob.Bids {
		if i >= 5 {
			break
		}
		c.printf("%-10s %14.2f %14.6f\n", "bid", lvl.Price, lvl.Amount)
	}
	return nil
}

func (c *Console) shutdown(ctx context.Context) error {
	var err error
	if len(c.sched.Active()) > 0 {
		ok, perr := c.confirm(ctx, "liquidate all open positions before shutting down?")
		if perr != nil && !errors.Is(perr, io.EOF) {
			return perr
		}
		if ok {
			err = c.sched.Liquidate(ctx, portfolio.All())
		}
	}
	c.log.Info("shutdown requested")
	if c.opts.Shutdown != nil {
		c.opts.Shutdown()
	}
	return err
}

// Reconcile asks the operator what to do with each restored instance and
// returns how many were admitted. An admission refused by the pair limits
// can be forced.
func (c *Console) Reconcile(ctx context.Context, restored []strategy.Strategy) (int, error) {
	admitted := 0
	for _, st := range restored {
		c.printf("\nrestored %s\n", st.Describe())
		for decided := false; !decided; {
			ans, err := c.prompt(ctx, "[a]dmit, [l]iquidate or [d]iscard? ")
			if err != nil {
				return admitted, err
			}
			switch strings.ToLower(ans) {
			case "a", "admit":
				err := c.sched.Admit(ctx, st, false)
				if errors.Is(err, portfolio.ErrConcurrencyLimit) {
					force, perr := c.confirm(ctx, "the pair is at its limit; admit anyway?")
					if perr != nil {
						return admitted, perr
					}
					if !force {
						continue
					}
					err = c.sched.Admit(ctx, st, true)
				}
				if err != nil {
					c.printf("error: %v\n", err)
					continue
				}
				admitted++
				decided = true
			case "l", "liquidate":
				if err := c.sched.Liquidate(ctx, portfolio.ByInstance(st)); err != nil {
					c.printf("error: %v\n", err)
					continue
				}
				decided = true
			case "d", "discard":
				if err := c.sched.Discard(ctx, st); err != nil {
					c.printf("error: %v\n", err)
					continue
				}
				decided = true
			default:
				c.printf("answer a, l or d\n")
			}
		}
	}
	return admitted, nil
}
