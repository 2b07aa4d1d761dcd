package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/craftd/msm/pkg/api"
	"github.com/craftd/msm/pkg/auth"
	"github.com/craftd/msm/pkg/backup"
	"github.com/craftd/msm/pkg/config"
	"github.com/craftd/msm/pkg/console"
	"github.com/craftd/msm/pkg/datadir"
	"github.com/craftd/msm/pkg/distro"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/fetch"
	"github.com/craftd/msm/pkg/health"
	"github.com/craftd/msm/pkg/javamgr"
	"github.com/craftd/msm/pkg/lifecycle"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/metrics"
	"github.com/craftd/msm/pkg/platform"
	"github.com/craftd/msm/pkg/plugins"
	"github.com/craftd/msm/pkg/reconciler"
	"github.com/craftd/msm/pkg/scheduler"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor daemon",
	Long: `Run the supervisor daemon in the foreground.

The daemon owns the data directory: the SQLite catalog, server working
directories, backup archives, and downloaded Java runtimes. It serves
the HTTP API that every other msm subcommand and the web console use.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "API bind address (default 127.0.0.1:8765)")
	serveCmd.Flags().String("data-dir", "", "Data directory (default per platform)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().Bool("log-json", false, "Log JSON instead of console text")
}

func runServe(cmd *cobra.Command, args []string) error {
	root, _ := cmd.Flags().GetString("data-dir")
	if root == "" {
		var err error
		root, err = platform.DataRoot()
		if err != nil {
			return fmt.Errorf("resolving data directory: %w", err)
		}
	}

	layout, err := datadir.New(root)
	if err != nil {
		return err
	}

	cfg, err := config.Load(layout.Root())
	if err != nil {
		return err
	}
	// Flags outrank config.json and MSM_* environment overrides.
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("daemon")
	logger.Info().Str("version", Version).Str("data_root", layout.Root()).Msg("supervisor starting")

	store, err := storage.NewSQLiteStore(layout.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer store.Close()

	backend := platform.New()
	tracker := health.NewTracker()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	hub := console.NewRegistry(console.Config{
		RingSize:         cfg.Console.RingSize,
		SubscriberBuffer: cfg.Console.SubscriberBuffer,
		SweepInterval:    cfg.Console.SweepInterval,
		SweepTTL:         cfg.Console.SweepTTL,
	})
	hub.Start()
	defer hub.Stop()

	fetcher := fetch.New(fetch.Options{
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		AttemptTimeout: cfg.Fetch.AttemptTimeout,
		OverallTimeout: cfg.Fetch.OverallTimeout,
	})
	resolver := distro.NewResolver(fetcher)
	java := javamgr.New(fetcher, backend, layout.RuntimesDir())

	engine := lifecycle.NewManager(store, backend, hub, resolver, fetcher, broker, lifecycle.Config{
		DataRoot:  layout.Root(),
		StopGrace: cfg.Lifecycle.StopGrace,
	})

	backups := backup.NewManager(store, hub, broker, backup.Config{
		Dir:       layout.BackupsDir(),
		Keep:      cfg.Backup.KeepCount,
		FlushWait: 2 * time.Second,
	})

	plugMgr := plugins.NewManager(store, fetcher, broker)

	dog := watchdog.New(store, engine, broker, watchdog.Config{
		BaseBackoff: cfg.Watchdog.BaseBackoff,
		MaxBackoff:  cfg.Watchdog.MaxBackoff,
		ResetAfter:  cfg.Watchdog.ResetAfter,
	})
	dog.Start()
	defer dog.Stop()

	schedCfg := scheduler.DefaultConfig()
	schedCfg.StopGrace = cfg.Lifecycle.StopGrace
	sched := scheduler.NewScheduler(store, engine, backups, hub, broker, schedCfg)
	sched.Start()
	defer sched.Stop()

	recon := reconciler.NewReconciler(store, backend, hub, engine, reconciler.Config{
		Period: cfg.Reconcile.Period,
	})
	recon.Start()
	defer recon.Stop()

	collector := metrics.NewCollector(store, hub)
	collector.Start()
	defer collector.Stop()

	apiCfg := api.DefaultConfig(cfg.Listen)
	apiCfg.StopGrace = cfg.Lifecycle.StopGrace
	apiCfg.Heartbeat = cfg.Console.HeartbeatInterval
	server := api.NewServer(apiCfg, api.Deps{
		Store:    store,
		Engine:   engine,
		Backups:  backups,
		Plugins:  plugMgr,
		Java:     java,
		Versions: resolver,
		Hub:      hub,
		Auth:     auth.NewManager(store),
		Health:   tracker,
		Watchdog: dog,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server failed")
		return err
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}

	// Children keep running across daemon restarts; the reconciler adopts
	// their rows on the next boot.
	logger.Info().Msg("supervisor stopped")
	return nil
}
