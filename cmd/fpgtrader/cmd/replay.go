package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidmag854/fpg-trading/session"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the configured strategies over stored data",
	Long: `Run the configured strategies over the CSV data bundles in replay.data_dir.

Every order fills at the mid price against an in-memory ledger. Whatever is
still open at the last step is liquidated, and the run is exported to
results.replay_dir. Each replay needs a session name that has no history,
unless --resume is given: then an interrupted session carries on after the
last step it stored, with its ledger and open instances rebuilt.

Example:
  fpgtrader replay --start 2024-01-01 --end 2024-03-01 --name bt_q1 --equity USD=10000
  fpgtrader replay --start 2024-01-01 --end 2024-03-01 --name bt_q1 --resume`,
	RunE: runReplay,
}

var (
	replayStart  string
	replayEnd    string
	replayName   string
	replayEquity []string
	replayResume bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayStart, "start", "", "first day (YYYY-MM-DD, UTC) (required)")
	replayCmd.Flags().StringVar(&replayEnd, "end", "", "last day, inclusive (YYYY-MM-DD, UTC)")
	replayCmd.Flags().StringVarP(&replayName, "name", "n", "", "session name (default replay_<start>_<end>)")
	replayCmd.Flags().StringSliceVar(&replayEquity, "equity", []string{"USD=10000"}, "starting balances as COIN=AMOUNT")
	replayCmd.Flags().BoolVar(&replayResume, "resume", false, "continue a session that already has history")
	replayCmd.MarkFlagRequired("start")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	start, err := time.Parse(time.DateOnly, replayStart)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	var end time.Time
	if replayEnd != "" {
		if end, err = time.Parse(time.DateOnly, replayEnd); err != nil {
			return fmt.Errorf("--end: %w", err)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	equity, err := parseEquity(replayEquity)
	if err != nil {
		return err
	}

	name := replayName
	if name == "" {
		name = "replay_" + start.Format("20060102")
		if !end.IsZero() {
			name += "_" + end.Format("20060102")
		}
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err = session.RunReplay(ctx, cfg, session.ReplayOptions{
		Start:  start,
		End:    end,
		Name:   name,
		Equity: equity,
		Resume: replayResume,
	}, os.Stdout, log)
	return err
}

func parseEquity(entries []string) (map[string]float64, error) {
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		coin, amount, ok := strings.Cut(e, "=")
		if !ok || coin == "" {
			return nil, fmt.Errorf("--equity %q: want COIN=AMOUNT", e)
		}
		v, err := strconv.ParseFloat(amount, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("--equity %q: bad amount", e)
		}
		out[strings.ToUpper(coin)] = v
	}
	return out, nil
}
