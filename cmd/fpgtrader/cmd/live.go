package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidmag854/fpg-trading/session"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run a live trading session",
	Long: `Start or resume the live session named in database.session.

Instances left open by an earlier run are offered for admission,
liquidation or discard before the first cycle. Gateway keys are read from
the environment variables named in the gateway section.

Example:
  fpgtrader live --config fpgtrader.yaml --session live`,
	RunE: runLive,
}

var (
	liveSession string
	livePaper   bool
)

func init() {
	rootCmd.AddCommand(liveCmd)

	liveCmd.Flags().StringVarP(&liveSession, "session", "s", "", "session name (overrides database.session)")
	liveCmd.Flags().BoolVar(&livePaper, "paper", false, "fill orders in memory against live prices")
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if liveSession != "" {
		cfg.Database.Session = liveSession
	}
	if livePaper {
		cfg.Gateway.Paper = true
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Live session %s (database %s)\n", cfg.Database.Session, cfg.Database.Path)
	err = session.RunLive(ctx, cfg, session.LiveOptions{In: os.Stdin, Out: os.Stdout}, log)
	if err != nil {
		log.Error("live session", zap.Error(err))
	}
	return err
}
