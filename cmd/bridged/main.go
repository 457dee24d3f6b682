package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/constellationrelay/bridge/bridge"
	"github.com/constellationrelay/bridge/config"
	"github.com/constellationrelay/bridge/hub"
	bridgelogger "github.com/constellationrelay/bridge/logger"
	"github.com/constellationrelay/bridge/memory"
	"github.com/constellationrelay/bridge/migrations"
	"github.com/constellationrelay/bridge/reconciler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to config file. Defaults to BRIDGE_CONFIG_PATH or ~/.bridge/config.yaml")
		dbPath     = flag.String("db", "", "Path to SQLite database file. Overrides config")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	// Validate that --logfile and --pretty are mutually exclusive
	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := bridgelogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger.Info().
		Str("config", cfgPath).
		Str("db", cfg.DBPath).
		Str("agent", cfg.AgentID).
		Msg("bridged starting")

	// ---------------------------
	// 1. Open SQLite + Memory Store
	// ---------------------------

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.Run(db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := memory.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("failed to create memory store: %w", err)
	}

	// ---------------------------
	// 2. Hub Client (optional)
	// ---------------------------

	var hubClient *hub.Client
	if cfg.Hub.URL != "" {
		hubClient, err = hub.NewClient(cfg.Hub.URL, cfg.Hub.Token,
			time.Duration(cfg.Hub.TimeoutSeconds)*time.Second, logger)
		if err != nil {
			return fmt.Errorf("failed to create hub client: %w", err)
		}
		logger.Info().Str("url", cfg.Hub.URL).Msg("Hub client configured")
	} else {
		logger.Info().Msg("No hub configured, running fully local")
	}

	// ---------------------------
	// 3. Bridge + Background Sync
	// ---------------------------

	br := bridge.New(cfg, store, hubClient, logger)

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()

	scheduler, err := reconciler.NewScheduler(br.Reconciler(), cfg.Sync.Schedule, logger)
	if err != nil {
		return fmt.Errorf("failed to create sync scheduler: %w", err)
	}
	go scheduler.Start(schedulerCtx)
	logger.Info().Str("schedule", cfg.Sync.Schedule).Msg("Background sync scheduler started")

	// ---------------------------
	// 4. Startup Hydration
	// ---------------------------

	wakeup, err := br.HydrateForWakeup(context.Background())
	if err != nil {
		logger.Warn().Err(err).Msg("Wakeup hydration failed")
	} else if wakeup.CharacterCount > 0 {
		fmt.Println(wakeup.Context)
		logger.Info().
			Int("memories", wakeup.MemoriesIncluded).
			Int("chars", wakeup.CharacterCount).
			Msg("Wakeup context hydrated")
	}

	// ---------------------------
	// 5. Wait for Shutdown
	// ---------------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	cancelScheduler()

	logger.Info().Msg("bridged shutdown complete")
	return nil
}
