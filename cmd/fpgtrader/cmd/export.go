package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidmag854/fpg-trading/session"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a session's instance and trade history to CSV",
	Long: `Write <session>_instances.csv and <session>_trades.csv for a stored session.

Live sessions are written to results.live_dir, replays to results.replay_dir.

Example:
  fpgtrader export --session live
  fpgtrader export --session bt_q1 --kind replay`,
	RunE: runExport,
}

var (
	exportSession string
	exportKind    string
	exportDir     string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportSession, "session", "s", "", "session name (default database.session)")
	exportCmd.Flags().StringVar(&exportKind, "kind", "live", "session kind: live or replay")
	exportCmd.Flags().StringVarP(&exportDir, "output", "o", "", "output directory (overrides the results section)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name := exportSession
	if name == "" {
		name = cfg.Database.Session
	}
	dir := exportDir
	if dir == "" {
		switch exportKind {
		case "live":
			dir = cfg.Results.LiveDir
		case "replay":
			dir = cfg.Results.ReplayDir
		default:
			return fmt.Errorf("--kind must be live or replay, got %q", exportKind)
		}
	}

	inst, trades, err := session.Export(context.Background(), cfg.Database.Path, name, dir)
	if inst != "" {
		fmt.Printf("✓ Instances: %s\n", inst)
		fmt.Printf("✓ Trades:    %s\n", trades)
	}
	return err
}
