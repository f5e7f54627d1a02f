package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"warden/api"
	"warden/config"
	"warden/containment"
	"warden/core"
	"warden/notify"
	"warden/respond"

	"go.uber.org/zap"
)

// App represents the warden application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents

	// Containment
	Mirror containment.Mirror
	Store  *containment.Store

	// Detection
	Detection *DetectionComponents

	// Response
	Engine    *respond.Engine
	Hub       *notify.Hub
	Notifier  *notify.Notifier
	APIServer *api.Server

	// Worker pools
	PersistPool *core.WorkerPool
	MirrorPool  *core.WorkerPool

	// Lifecycle
	logLevel       zap.AtomicLevel
	tracerShutdown func(context.Context) error
	serviceWg      *sync.WaitGroup
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		serviceWg: &sync.WaitGroup{},
	}

	// Initialize logger
	logger, sugar, level, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar
	app.logLevel = level

	sugar.Info("Warden containment engine starting...")

	// Load configuration
	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg
	ApplyLogLevel(level, cfg, sugar)

	// Pre-flight checks
	if err := EnsureDataDir(cfg.DataDir, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	// Tracing
	tracerShutdown, err := InitTracing(cfg, sugar)
	if err != nil {
		if cfg.StartupMode != config.StartupModeGraceful {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		sugar.Warnw("Tracing unavailable, continuing without it", "error", err)
		tracerShutdown = func(context.Context) error { return nil }
	}
	app.tracerShutdown = tracerShutdown

	// Worker pools decouple containment latency from storage latency.
	app.PersistPool = core.NewWorkerPool(ctx, cfg.Workers.Persist, cfg.Workers.QueueSize, "persist", sugar)
	app.MirrorPool = core.NewWorkerPool(ctx, cfg.Workers.Mirror, cfg.Workers.QueueSize, "mirror", sugar)
	app.PersistPool.Start()
	app.MirrorPool.Start()

	// Propagation mirror
	mirror, err := InitMirror(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Mirror = mirror

	// Authoritative containment store
	app.Store = containment.NewStore(mirror, app.MirrorPool, sugar)

	// Detection
	detection, err := InitDetection(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Detection = detection

	// Incident and audit persistence
	storageComponents, err := InitStorage(ctx, cfg, app.PersistPool, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = storageComponents

	// Event fan-out
	app.Hub = notify.NewHub(cfg.Notify.BufferSize, sugar)
	if channels := notifyChannels(cfg); len(channels) > 0 {
		app.Notifier = notify.NewNotifier(channels, sugar)
	}

	// Response engine
	app.Engine = respond.NewEngine(
		respond.Config{
			BlockTTL:       cfg.Engine.BlockTTL,
			QuarantineTTL:  cfg.Engine.QuarantineTTL,
			ManualBlockTTL: cfg.Engine.ManualBlockTTL,
			ResponseSLO:    cfg.Engine.ResponseSLO,
		},
		detection.Scorer,
		detection.DDoS,
		detection.Limiter,
		detection.Signatures,
		app.Store,
		storageComponents.Recorder,
		app.Hub,
		sugar,
	)

	// HTTP surface
	app.APIServer = api.NewServer(
		api.Config{
			Addr:              cfg.API.Addr(),
			TrustProxy:        cfg.API.TrustProxy,
			RequestsPerSecond: cfg.API.RequestsPerSecond,
			Burst:             cfg.API.Burst,
			MaxBodyBytes:      cfg.API.MaxBodyBytes,
			AuthEnabled:       cfg.Auth.Enabled,
			JWTSecret:         cfg.Auth.JWTSecret,
			APIKeyHash:        cfg.Auth.APIKeyHash,
			ShutdownTimeout:   cfg.API.ShutdownTimeout,
		},
		app.Engine,
		storageComponents.Recorder,
		app.Hub,
		sugar,
	)

	return app, nil
}

// InitMirror connects the Redis propagation mirror. Disabled or unreachable
// (in graceful mode) yields the no-op mirror; the store works without one.
func InitMirror(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (containment.Mirror, error) {
	if !cfg.Redis.Enabled {
		sugar.Info("Propagation mirror disabled")
		return containment.NoopMirror{}, nil
	}

	var mirror *containment.RedisMirror
	err := withRetry(cfg, sugar, "Redis", func() error {
		var dialErr error
		mirror, dialErr = containment.NewRedisMirror(ctx,
			cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)
		return dialErr
	})
	if err != nil {
		if cfg.StartupMode != config.StartupModeGraceful {
			errMsg := ClassifyConnectionError(err, "Redis", cfg.Redis.Addr)
			fmt.Fprintf(os.Stderr, "\n========================================\n")
			fmt.Fprintf(os.Stderr, "FATAL: Redis Mirror Connection Failed\n")
			fmt.Fprintf(os.Stderr, "========================================\n")
			fmt.Fprintf(os.Stderr, "%s\n", errMsg)
			fmt.Fprintf(os.Stderr, "========================================\n\n")
			return nil, fmt.Errorf("failed to connect to Redis mirror: %w", err)
		}
		sugar.Warnw("Redis mirror unavailable, containment will not propagate", "error", err)
		return containment.NoopMirror{}, nil
	}

	sugar.Info("Connected to Redis mirror successfully")
	return mirror, nil
}

// notifyChannels maps configured webhooks into notifier channel configs.
func notifyChannels(cfg *config.Config) []notify.ChannelConfig {
	channels := make([]notify.ChannelConfig, 0, len(cfg.Notify.Webhooks))
	for _, hook := range cfg.Notify.Webhooks {
		if !hook.Enabled {
			continue
		}
		channels = append(channels, notify.ChannelConfig{
			Enabled:        true,
			Type:           notify.ChannelType(hook.Type),
			Name:           hook.Name,
			WebhookURL:     hook.URL,
			WebhookMethod:  hook.Method,
			WebhookHeaders: hook.Headers,
			MinSeverity:    hook.MinSeverity,
		})
	}
	return channels
}

// Start starts all application services.
func (a *App) Start(ctx context.Context) error {
	if a.Detection.Janitor != nil {
		a.Detection.Janitor.Start(ctx)
	}

	if a.Notifier != nil {
		a.Notifier.Start(a.Hub)
	}

	// Start API server
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Sugar.Errorw("API server panicked", "panic", r)
			}
		}()

		a.Sugar.Infof("API server started on %s", a.Config.API.Addr())

		var err error
		if a.Config.API.TLS {
			err = a.APIServer.StartTLS(a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			err = a.APIServer.Start()
		}

		if err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. Intake stops first so the
// pools can drain queued persistence work before the stores close.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - Stop the API server so no new threats arrive
	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.API.ShutdownTimeout)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	// Phase 2 - Stop the janitor
	a.Sugar.Info("Phase 2: Stopping janitor...")
	if a.Detection != nil && a.Detection.Janitor != nil {
		a.Detection.Janitor.Stop()
	}

	// Phase 3 - Stop fan-out: notifier first, then the hub it subscribes to
	a.Sugar.Info("Phase 3: Stopping notification fan-out...")
	if a.Notifier != nil {
		a.Notifier.Stop()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}

	// Phase 4 - Stop the containment store's expiry timers
	a.Sugar.Info("Phase 4: Stopping containment store...")
	if a.Store != nil {
		a.Store.Stop()
	}

	// Phase 5 - Drain and stop worker pools
	a.Sugar.Info("Phase 5: Stopping worker pools...")
	if a.PersistPool != nil {
		a.PersistPool.Stop()
	}
	if a.MirrorPool != nil {
		a.MirrorPool.Stop()
	}

	// Phase 6 - Wait for service goroutines
	a.Sugar.Info("Phase 6: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	// Phase 7 - Close external connections
	a.Sugar.Info("Phase 7: Closing external connections...")
	if a.Mirror != nil {
		if err := a.Mirror.Close(); err != nil {
			a.Sugar.Errorw("Failed to close mirror connection", "error", err)
		}
	}
	if a.Storage != nil {
		if a.Storage.ClickHouse != nil {
			if err := a.Storage.ClickHouse.Close(); err != nil {
				a.Sugar.Errorw("Failed to close ClickHouse connection", "error", err)
			}
		}
		if a.Storage.MongoDB != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Storage.MongoDB.Close(ctx); err != nil {
				a.Sugar.Errorw("Failed to close MongoDB connection", "error", err)
			}
			cancel()
		}
		if a.Storage.SQLite != nil {
			if err := a.Storage.SQLite.Close(); err != nil {
				a.Sugar.Errorw("Failed to close SQLite", "error", err)
			}
		}
	}

	// Phase 8 - Flush tracing
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracerShutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to shut down tracer provider", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
