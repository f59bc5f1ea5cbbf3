// Gray Logic Reporter - sensor and actuator bridge
//
// The reporter polls local sensors, drives local actuators and relays both
// over one or more named connections (MQTT, the Gray Logic hub, InfluxDB
// or the in-process local bus). It keeps working when a connection drops
// and applies per-actuator safety actions on disconnect and reconnect.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
//   - SIGHUP: reload the configuration file
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-reporter/internal/api"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-reporter/internal/reporter"
	"github.com/nerrad567/gray-logic-reporter/internal/store"
	"github.com/nerrad567/gray-logic-reporter/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if err := run(ctx, hup); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - reload: Receives a value whenever the configuration should be re-read
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, reload <-chan os.Signal) error {
	log := logging.Default()
	log.Info("starting Gray Logic Reporter",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"connections", len(cfg.Connections),
	)

	opts := reporter.Options{Logger: log}

	var (
		db      *database.DB
		history api.HistoryReader
	)
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

		st := store.New(db.DB)
		opts.Store = st
		history = st
	} else {
		log.Info("state store disabled")
	}

	rep := reporter.New(cfg, opts)
	if err := rep.Start(ctx); err != nil {
		return fmt.Errorf("starting reporter: %w", err)
	}
	defer func() {
		if stopErr := rep.Stop(); stopErr != nil {
			log.Error("error stopping reporter", "error", stopErr)
		}
	}()

	ctl := &control{Reporter: rep, path: configPath}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Runtime: ctl,
			History: history,
			DB:      db,
			Version: version,
		}
		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		rep.SetObserver(srv)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil
		case <-reload:
			if err := ctl.Reload(ctx); err != nil {
				log.Error("configuration reload failed", "error", err)
			}
		}
	}
}

// control adds file-based reloading to the reporter for the API and
// SIGHUP.
type control struct {
	*reporter.Reporter
	path string
}

// Reload re-reads the configuration file. An invalid file leaves the
// running devices untouched.
func (c *control) Reload(ctx context.Context) error {
	cfg, err := config.Load(c.path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := c.Reporter.Reload(ctx, cfg); err != nil {
		if errors.Is(err, reporter.ErrNoConnections) {
			return fmt.Errorf("reloaded configuration has no usable connection: %w", err)
		}
		return err
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
