// Package session assembles a live or replay trading session from a
// configuration: store, gateway, price source, executor, scheduler and
// the operator console.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidmag854/fpg-trading/broker"
	"github.com/davidmag854/fpg-trading/broker/fpg"
	"github.com/davidmag854/fpg-trading/broker/sim"
	"github.com/davidmag854/fpg-trading/config"
	"github.com/davidmag854/fpg-trading/console"
	"github.com/davidmag854/fpg-trading/journal"
	"github.com/davidmag854/fpg-trading/oanda"
	"github.com/davidmag854/fpg-trading/portfolio"
	"github.com/davidmag854/fpg-trading/risk"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategies"
)

type LiveOptions struct {
	// Dial overrides the gateway built from the configuration.
	Dial broker.Dialer

	// Candles overrides the OANDA history client.
	Candles source.CandleFetcher

	In  io.Reader
	Out io.Writer
}

// Dialer builds the gateway dialer for cfg: the FPG client, wrapped in
// an in-memory paper account when gateway.paper is set. The paper
// account lives across reconnects.
func Dialer(cfg config.GatewayConfig) (broker.Dialer, error) {
	public, private, err := cfg.Keys()
	if err != nil {
		return nil, err
	}

	var paper *sim.Paper
	return func(ctx context.Context) (broker.Gateway, error) {
		client := fpg.NewClient(cfg.Endpoint, public, private, cfg.Timeout.D())
		if !cfg.Paper {
			return client, nil
		}
		if paper == nil {
			paper = sim.NewPaper(client, cfg.PaperBalance)
		}
		return paper, nil
	}, nil
}

// RunLive runs a live session until the operator shuts it down or ctx is
// done. Instances left over from an earlier run of the same session are
// offered to the operator first. The session's history is exported on
// the way out.
func RunLive(ctx context.Context, cfg *config.Config, opts LiveOptions, log *zap.Logger) error {
	log = log.With(zap.String("session", cfg.Database.Session))

	store, err := openStore(ctx, cfg.Database.Path, cfg.Database.Session)
	if err != nil {
		return err
	}
	defer store.Close()

	dial := opts.Dial
	if dial == nil {
		if dial, err = Dialer(cfg.Gateway); err != nil {
			return err
		}
	}
	trader, err := broker.NewTrader(ctx, dial, broker.TraderConfig{
		Timeout:      cfg.Gateway.Timeout.D(),
		PollInterval: cfg.Gateway.PollInterval.D(),
		MaxAttempts:  cfg.Gateway.MaxAttempts,
	}, log)
	if err != nil {
		return err
	}

	candles := opts.Candles
	if candles == nil {
		if tok, err := cfg.History.Token(); err == nil {
			candles = oanda.NewClient(tok, cfg.History.Practice)
		} else {
			log.Warn("no candle history; strategies needing bars will not initialize", zap.Error(err))
		}
	}
	src := source.NewLive(trader, candles, store, log)

	sizer := risk.NewSizer(src, trader, cfg.Portfolio.RiskFraction)
	sched, err := portfolio.New(portfolio.Config{
		Policies: cfg.Policies(),
		Leverage: cfg.Portfolio.Leverage,
		Grace:    cfg.Portfolio.CreationGrace.D(),
	}, strategies.Catalog(), src, store, portfolio.NewLiveExecutor(sizer, trader, log), nil, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	export := func(ctx context.Context) (string, string, error) {
		return journal.Export(ctx, store, cfg.Results.LiveDir, cfg.Database.Session)
	}
	con := console.New(sched, console.Options{
		Books:    trader,
		Export:   export,
		Shutdown: cancel,
	}, opts.In, opts.Out, log)

	restored, err := sched.Restore(ctx)
	if err != nil {
		log.Warn("restore", zap.Error(err))
	}
	admitted, err := con.Reconcile(ctx, restored)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reconcile: %w", err)
	}
	if err := sched.CreateDueInstances(ctx, admitted == 0); err != nil {
		log.Warn("initial creation", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx, cfg.Portfolio.TickInterval.D(), cfg.Portfolio.ReconnectBackoff.D(), trader.Connect)
	})
	g.Go(func() error {
		return con.Run(gctx)
	})
	runErr := g.Wait()

	inst, trades, err := export(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("export", zap.Error(err))
	} else {
		log.Info("history exported", zap.String("instances", inst), zap.String("trades", trades))
	}
	return runErr
}

func openStore(ctx context.Context, path, session string) (*journal.SQLite, error) {
	store, err := journal.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := store.InitializeSchema(ctx, session); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// Export writes the stored history of session to dir.
func Export(ctx context.Context, dbPath, session, dir string) (string, string, error) {
	store, err := openStore(ctx, dbPath, session)
	if err != nil {
		return "", "", err
	}
	defer store.Close()
	return journal.Export(ctx, store, dir, session)
}

// FormatBalances renders a balance map one coin per line, in sorted order.
func FormatBalances(bal map[string]float64) string {
	coins := make([]string, 0, len(bal))
	for c := range bal {
		coins = append(coins, c)
	}
	sort.Strings(coins)

	var b strings.Builder
	for _, c := range coins {
		fmt.Fprintf(&b, "  %-6s %14.6f\n", c, bal[c])
	}
	return b.String()
}
