// Gray Logic Sync - serverless multi-device synchronisation
//
// This is the main entry point for a Gray Logic Sync device. Each running
// instance is one device: it advertises its identity, discovers its peers and
// exchanges messages with them through a shared key/value store (retained
// MQTT topics, a NATS JetStream bucket, or an in-process store for testing).
// There is no server and no direct connection between devices.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-sync/migrations"

	"github.com/nerrad567/gray-logic-sync/internal/activity"
	"github.com/nerrad567/gray-logic-sync/internal/api"
	"github.com/nerrad567/gray-logic-sync/internal/devsync"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-sync/internal/localstate"
	"github.com/nerrad567/gray-logic-sync/internal/metrics"
	"github.com/nerrad567/gray-logic-sync/internal/platform"
	"github.com/nerrad567/gray-logic-sync/internal/store"
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

// mqttSyncWait is how long the MQTT store waits for retained values after
// subscribing, so the first reconcile sees the current shared state.
const mqttSyncWait = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear bootstrap sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Sync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Local state: identity, device cache and watermark
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := map[string]api.HealthChecker{"database": db}

	// Shared store
	shared, closeStore, err := openStore(ctx, cfg, log, checks)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		log.Info("closing shared store")
		if closeErr := closeStore(); closeErr != nil {
			log.Error("error closing shared store", "error", closeErr)
		}
	}()

	// InfluxDB telemetry (optional)
	var telemetry devsync.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Prometheus collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var syncMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		syncMetrics = metrics.New(registry, cfg.Metrics.Namespace)
	}

	// Sync subsystem
	svc := devsync.New(devsync.ConfigFrom(cfg), devsync.Deps{
		Store:     shared,
		Repo:      localstate.NewSQLiteRepository(db.DB),
		Platform:  platform.Host{},
		Logger:    log,
		Metrics:   syncMetrics,
		Telemetry: telemetry,
		Activity:  activity.NewSQLiteRepository(db.DB),
	})
	if startErr := svc.Start(ctx); startErr != nil {
		return fmt.Errorf("starting sync service: %w", startErr)
	}
	defer func() {
		log.Info("stopping sync service")
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error stopping sync service", "error", closeErr)
		}
	}()
	self := svc.Self()
	log.Info("sync service started", "device_id", self.ID, "name", self.DisplayName())

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Metrics:  cfg.Metrics,
			Logger:   log,
			Sync:     svc,
			Platform: platform.Host{},
			Gatherer: registry,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API, sync service, InfluxDB, shared store, database.

	log.Info("Gray Logic Sync stopped")
	return nil
}

// openStore connects the configured shared store backend and wraps it in the
// chunking adapter. Backend health checks are added to checks.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger, checks map[string]api.HealthChecker) (store.Store, func() error, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMQTT:
		mqttCfg := cfg.Store.MQTT
		mqttCfg.Broker.ClientID = mqttClientID(mqttCfg.Broker.ClientID)

		client, err := mqtt.Connect(mqttCfg)
		if err != nil {
			return nil, nil, err
		}
		client.SetLogger(log)
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected", "client_id", mqttCfg.Broker.ClientID)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", mqttCfg.Broker.Host, mqttCfg.Broker.Port),
			"client_id", mqttCfg.Broker.ClientID,
		)

		st, err := store.OpenMQTT(ctx, client, mqttCfg.RootTopic, byte(mqttCfg.QoS), mqttSyncWait) //nolint:gosec // QoS validated to 0..2
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		checks["mqtt"] = client

		return store.NewChunked(st, cfg.Store.ChunkSize), func() error {
			return errors.Join(st.Close(), client.Close())
		}, nil

	case config.StoreBackendNATS:
		st, err := store.OpenNATS(ctx, cfg.Store.NATS)
		if err != nil {
			return nil, nil, err
		}
		st.SetLogger(log)
		log.Info("NATS key/value bucket opened", "url", cfg.Store.NATS.URL, "bucket", cfg.Store.NATS.Bucket)
		checks["nats"] = st

		return store.NewChunked(st, cfg.Store.ChunkSize), st.Close, nil

	default:
		log.Warn("using in-process memory store, no peers will be visible")
		return store.NewChunked(store.NewMemory(), cfg.Store.ChunkSize), func() error { return nil }, nil
	}
}

// mqttClientID makes the configured client ID unique per host. Brokers
// disconnect the older session when two clients share an ID.
func mqttClientID(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return base
	}
	return base + "-" + host
}

// getConfigPath returns the configuration file path.
// Uses GRAYSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// It returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
