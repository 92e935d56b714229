package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/daemon"
	"fleetwatch/internal/distributor"
	"fleetwatch/internal/history"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/poller"
	"fleetwatch/pkg/sshutil"
)

// pollCmd runs a single poll cycle and prints the snapshot as JSON. Useful
// for checking a config before running serve, or for cron-style scraping.
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll cycle and print the snapshot",
	Long: `Poll every configured host once and print the resulting snapshot
and triggered alerts as JSON.

Examples:
  fleetwatch poll
  fleetwatch poll --config staging.yaml | jq '.snapshot.hosts[].status'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pollCommand(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func pollCommand(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.Default()

	pool := sshutil.NewPool(sshutil.Options{
		User:           cfg.SSH.User,
		IdentityFile:   cfg.SSH.IdentityFile,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		StrictHostKeys: cfg.SSH.StrictHostKeys,
	})

	p := poller.New(pool, cfg.SSH.CommandTimeout, cfg.Concurrency, log)
	defer p.Close()
	defer sshutil.CloseAgent()

	engine := alerts.NewEngine(cfg.Alerts, cfg.LegacyThreshold, log)
	store := history.NewMemoryStore(cfg.History.Retention)
	hub := distributor.NewHub(cfg.Server.QueueSize, log)

	d := daemon.New(cfg, p, engine, store, hub, log)
	snap := d.RunCycle(ctx)

	out := map[string]interface{}{
		"snapshot": snap,
		"alerts":   engine.Active(false),
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}
