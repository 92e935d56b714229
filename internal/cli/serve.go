package cli

import (
	"context"
	stderrors "errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/api"
	"fleetwatch/internal/config"
	"fleetwatch/internal/daemon"
	"fleetwatch/internal/distributor"
	"fleetwatch/internal/history"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/poller"
	"fleetwatch/pkg/sshutil"
)

var serveListenFlag string

// serveCmd runs the collector and the HTTP API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector and HTTP API",
	Long: `Start the poll loop and serve the fleet state over HTTP.

Polls every configured host on the polling interval, evaluates alert
thresholds, records history, and pushes live updates to websocket
subscribers.

Examples:
  fleetwatch serve
  fleetwatch serve --listen :9090
  fleetwatch serve --config /etc/fleetwatch/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListenFlag, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListenFlag != "" {
		cfg.Server.Listen = serveListenFlag
	}

	log := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	pool := sshutil.NewPool(sshutil.Options{
		User:           cfg.SSH.User,
		IdentityFile:   cfg.SSH.IdentityFile,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		StrictHostKeys: cfg.SSH.StrictHostKeys,
	})

	p := poller.New(pool, cfg.SSH.CommandTimeout, cfg.Concurrency, log)
	engine := alerts.NewEngine(cfg.Alerts, cfg.LegacyThreshold, log)
	hub := distributor.NewHub(cfg.Server.QueueSize, log)
	d := daemon.New(cfg, p, engine, store, hub, log)
	server := api.NewServer(cfg.Server, GetVersion(), engine, store, hub, d, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()

	hub.Close()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := store.Close(closeCtx); cerr != nil {
		log.Warn("history store close failed: %v", cerr)
	}
	sshutil.CloseAgent()

	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadConfig finds and loads the config file, honoring --config.
func loadConfig() (*config.Config, error) {
	path, err := config.MustFind(Config())
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// openStore builds the configured history backend.
func openStore(ctx context.Context, cfg *config.Config) (history.Store, error) {
	if cfg.History.Backend == "mongo" {
		return history.NewMongoStore(ctx, cfg.History.URI, cfg.History.Database)
	}
	return history.NewMemoryStore(cfg.History.Retention), nil
}
