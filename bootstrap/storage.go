package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"warden/config"
	"warden/core"
	"warden/storage"

	"go.uber.org/zap"
)

// StorageComponents holds all persistence-related components.
type StorageComponents struct {
	SQLite     *storage.SQLite
	MongoDB    *storage.MongoDB
	ClickHouse *storage.ClickHouse

	Incidents storage.IncidentStore
	Audit     storage.AuditStore
	Recorder  *storage.Recorder
}

// InitStorage wires the incident and audit stores per configuration and
// wraps them in the async Recorder. In graceful startup mode a dead backend
// degrades to the bounded in-memory store instead of failing startup.
func InitStorage(ctx context.Context, cfg *config.Config, pool *core.WorkerPool, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	components := &StorageComponents{}
	graceful := cfg.StartupMode == config.StartupModeGraceful

	switch cfg.Storage.Backend {
	case "sqlite":
		sqlite, err := initSQLite(cfg, sugar)
		if err != nil {
			if !graceful {
				return nil, err
			}
			sugar.Warnw("SQLite unavailable, degrading to in-memory incident store", "error", err)
			components.Incidents = storage.NewMemoryIncidentStore(cfg.Storage.MemoryCapacity)
			break
		}
		components.SQLite = sqlite
		incidents, err := storage.NewSQLiteIncidentStore(sqlite, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite incident store: %w", err)
		}
		components.Incidents = incidents

	case "mongodb":
		mongo, err := connectMongo(cfg, sugar)
		if err != nil {
			if !graceful {
				return nil, err
			}
			sugar.Warnw("MongoDB unavailable, degrading to in-memory incident store", "error", err)
			components.Incidents = storage.NewMemoryIncidentStore(cfg.Storage.MemoryCapacity)
			break
		}
		components.MongoDB = mongo
		components.Incidents = storage.NewMongoIncidentStore(mongo, sugar)

	case "memory":
		components.Incidents = storage.NewMemoryIncidentStore(cfg.Storage.MemoryCapacity)
		sugar.Info("Using in-memory incident store")

	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	audit, err := initAuditStore(cfg, components, sugar)
	if err != nil {
		if !graceful {
			return nil, err
		}
		sugar.Warnw("Audit store unavailable, degrading to in-memory audit store", "error", err)
		audit = storage.NewMemoryAuditStore(cfg.Storage.MemoryCapacity)
	}
	components.Audit = audit

	recorder, err := storage.NewRecorder(components.Incidents, components.Audit, pool, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recorder: %w", err)
	}
	components.Recorder = recorder

	return components, nil
}

// initAuditStore prefers ClickHouse when enabled, falls back to SQLite when
// the incident store already opened one, and in-memory otherwise.
func initAuditStore(cfg *config.Config, components *StorageComponents, sugar *zap.SugaredLogger) (storage.AuditStore, error) {
	if cfg.Storage.ClickHouse.Enabled {
		clickhouse, err := connectClickHouse(cfg, sugar)
		if err != nil {
			return nil, err
		}
		components.ClickHouse = clickhouse
		return storage.NewClickHouseAuditStore(clickhouse, sugar)
	}
	if components.SQLite != nil {
		return storage.NewSQLiteAuditStore(components.SQLite, sugar)
	}
	sugar.Info("Using in-memory audit store")
	return storage.NewMemoryAuditStore(cfg.Storage.MemoryCapacity), nil
}

// initSQLite opens the SQLite database with actionable error reporting.
func initSQLite(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(cfg.Storage.SQLite.Path, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, cfg.Storage.SQLite.Path)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// connectMongo connects to MongoDB with retry and backoff from config.
func connectMongo(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.MongoDB, error) {
	var mongo *storage.MongoDB
	err := withRetry(cfg, sugar, "MongoDB", func() error {
		var dialErr error
		mongo, dialErr = storage.NewMongoDB(
			cfg.Storage.MongoDB.URI,
			cfg.Storage.MongoDB.Database,
			cfg.Storage.MongoDB.MaxPoolSize,
			sugar)
		return dialErr
	})
	if err != nil {
		errMsg := ClassifyConnectionError(err, "MongoDB", cfg.Storage.MongoDB.URI)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: MongoDB Connection Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	sugar.Info("Connected to MongoDB successfully")
	return mongo, nil
}

// connectClickHouse connects to ClickHouse with retry and backoff from config.
func connectClickHouse(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.ClickHouse, error) {
	opts := storage.ClickHouseOptions{
		Addr:        cfg.Storage.ClickHouse.Addr,
		Database:    cfg.Storage.ClickHouse.Database,
		Username:    cfg.Storage.ClickHouse.Username,
		Password:    cfg.Storage.ClickHouse.Password,
		TLS:         cfg.Storage.ClickHouse.TLS,
		MaxPoolSize: cfg.Storage.ClickHouse.MaxPoolSize,
	}

	var clickhouse *storage.ClickHouse
	err := withRetry(cfg, sugar, "ClickHouse", func() error {
		var dialErr error
		clickhouse, dialErr = storage.NewClickHouse(opts, sugar)
		return dialErr
	})
	if err != nil {
		errMsg := ClassifyConnectionError(err, "ClickHouse", cfg.Storage.ClickHouse.Addr)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: ClickHouse Connection Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	sugar.Info("Connected to ClickHouse successfully")
	return clickhouse, nil
}

// withRetry runs connect up to storage.retry_attempts times, doubling the
// backoff between attempts.
func withRetry(cfg *config.Config, sugar *zap.SugaredLogger, name string, connect func() error) error {
	attempts := cfg.Storage.RetryAttempts
	backoff := cfg.Storage.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			sugar.Infow("Retrying connection",
				"backend", name,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", backoff)
			time.Sleep(backoff)
			backoff *= 2
		}

		lastErr = connect()
		if lastErr == nil {
			return nil
		}

		sugar.Warnw("Connection attempt failed",
			"backend", name,
			"attempt", attempt,
			"error", lastErr)
	}
	return fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)
}
