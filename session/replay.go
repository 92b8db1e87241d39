package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/config"
	"github.com/davidmag854/fpg-trading/journal"
	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/pkg/id"
	"github.com/davidmag854/fpg-trading/portfolio"
	"github.com/davidmag854/fpg-trading/risk"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategies"
	"github.com/davidmag854/fpg-trading/strategy"
)

// ErrSessionExists is returned when a replay would write into a session
// that already holds history.
var ErrSessionExists = errors.New("session already has history")

// ReplaySeed seeds replay ids so repeated runs over the same data agree.
const ReplaySeed = 1

type ReplayOptions struct {
	Start, End time.Time

	// Name is the session the replay is stored under.
	Name string

	// Equity is the starting cash ledger.
	Equity map[string]float64

	// Source overrides the CSV bundles under replay.data_dir.
	Source *source.Replay

	// Resume continues a session that already has history instead of
	// refusing it. The run picks up at the first step after the last
	// stored instance or trade, with the ledger and open instances
	// rebuilt from the store.
	Resume bool
}

// ReplayResult summarises a finished replay.
type ReplayResult struct {
	Steps int
	// ResumedAt is the step a resumed run started from. Zero for fresh runs.
	ResumedAt int

	Instances    int
	Trades       int
	Balance      map[string]float64
	InstancesCSV string
	TradesCSV    string
}

// RunReplay drives the configured strategies over stored data, liquidates
// whatever is open at the last step and exports the run.
func RunReplay(ctx context.Context, cfg *config.Config, opts ReplayOptions, out io.Writer, log *zap.Logger) (ReplayResult, error) {
	if opts.Name == "" {
		return ReplayResult{}, errors.New("replay session name is required")
	}
	log = log.With(zap.String("session", opts.Name))

	src := opts.Source
	if src == nil {
		var err error
		warmup := time.Duration(cfg.Replay.WarmupDays) * market.Day
		src, err = source.LoadReplay(cfg.Replay.DataDir, cfg.Pairs(), opts.Start, opts.End, warmup)
		if err != nil {
			return ReplayResult{}, err
		}
	}

	store, err := openStore(ctx, cfg.Database.Path, opts.Name)
	if err != nil {
		return ReplayResult{}, err
	}
	defer store.Close()
	snaps, trades, err := history(ctx, store, log)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("%s: %w", opts.Name, err)
	}
	resume := len(snaps) > 0 || len(trades) > 0
	if resume && !opts.Resume {
		return ReplayResult{}, fmt.Errorf("%s: %w", opts.Name, ErrSessionExists)
	}

	ledger := portfolio.NewLedger(opts.Equity)
	ids := id.NewGenerator(ReplaySeed)
	sizer := risk.NewSizer(src, nil, cfg.Portfolio.RiskFraction)
	sched, err := portfolio.New(portfolio.Config{
		Policies: cfg.Policies(),
		Leverage: cfg.Portfolio.Leverage,
		Grace:    cfg.Portfolio.CreationGrace.D(),
	}, strategies.Catalog(), src, store, portfolio.NewReplayExecutor(src, sizer, ledger, ids), ids, log)
	if err != nil {
		return ReplayResult{}, err
	}

	res := ReplayResult{}
	_, res.Steps = src.Position()
	if resume {
		res.ResumedAt, err = resumeReplay(ctx, sched, src, ledger, snaps, trades, log)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("resume %s: %w", opts.Name, err)
		}
		fmt.Fprintf(out, "Resuming at step %d of %d (%s)\n", res.ResumedAt, res.Steps, src.Now().Format(time.DateTime))
	} else {
		fmt.Fprintf(out, "Replaying %d steps from %s\n", res.Steps, src.Now().Format(time.DateTime))
		if err := sched.CreateDueInstances(ctx, true); err != nil {
			log.Warn("initial creation", zap.Error(err))
		}
	}

	runErr := sched.RunReplay(ctx)
	if runErr != nil {
		log.Warn("replay finished with errors", zap.Error(runErr))
	}

	res.Balance = ledger.Snapshot()
	snaps, trades, err = history(ctx, store, log)
	if err != nil {
		runErr = errors.Join(runErr, err)
	}
	res.Instances, res.Trades = len(snaps), len(trades)

	res.InstancesCSV, res.TradesCSV, err = journal.Export(ctx, store, cfg.Results.ReplayDir, opts.Name)
	if err != nil {
		return res, errors.Join(runErr, err)
	}

	fmt.Fprintf(out, "Instances: %d  Trades: %d\n", res.Instances, res.Trades)
	fmt.Fprintf(out, "Final balances:\n%s", FormatBalances(res.Balance))
	fmt.Fprintf(out, "Exported %s and %s\n", res.InstancesCSV, res.TradesCSV)
	return res, runErr
}

// history reads every stored instance and trade. Rows that cannot be
// decoded are logged and skipped; any other failure is returned.
func history(ctx context.Context, store journal.Store, log *zap.Logger) ([]strategy.Snapshot, []journal.TradeRecord, error) {
	snaps, err := store.QueryAll(ctx)
	if err != nil {
		if !errors.Is(err, journal.ErrBadRecord) {
			return nil, nil, fmt.Errorf("query instances: %w", err)
		}
		log.Warn("stored instances", zap.Error(err))
	}
	trades, err := store.QueryAllTrades(ctx)
	if err != nil {
		if !errors.Is(err, journal.ErrBadRecord) {
			return nil, nil, fmt.Errorf("query trades: %w", err)
		}
		log.Warn("stored trades", zap.Error(err))
	}
	return snaps, trades, nil
}

// resumeReplay puts a fresh scheduler back where a stored run left off:
// the ledger takes the balances the trades recorded, open instances are
// admitted as they were, creation anchors come back from the stored
// creation times and the source skips every step already played. It
// returns the step the run continues from.
func resumeReplay(ctx context.Context, sched *portfolio.Scheduler, src *source.Replay, ledger *portfolio.Ledger,
	snaps []strategy.Snapshot, trades []journal.TradeRecord, log *zap.Logger) (int, error) {
	ledger.Restore(trades)

	var last time.Time
	for _, snap := range snaps {
		if snap.CreationTime.After(sched.LastCreated(snap.Name)) {
			sched.SetLastCreated(snap.Name, snap.CreationTime)
		}
		if snap.CreationTime.After(last) {
			last = snap.CreationTime
		}
	}
	for _, rec := range trades {
		if rec.Time.After(last) {
			last = rec.Time
		}
	}

	restored, err := sched.Restore(ctx)
	if err != nil {
		log.Warn("restore", zap.Error(err))
	}
	for _, st := range restored {
		if err := sched.Admit(ctx, st, true); err != nil {
			return 0, err
		}
	}

	step := src.SeekAfter(last)
	log.Info("replay resumed",
		zap.Int("step", step),
		zap.Time("after", last),
		zap.Int("instances", len(restored)),
		zap.Int("trades", len(trades)))
	return step, nil
}
