package bootstrap

import (
	"context"
	"fmt"
	"os"

	"warden/config"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output. The
// returned atomic level starts at info; ApplyLogLevel adjusts it once the
// configuration is loaded.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, zap.AtomicLevel, error) {
	// Create a colored console encoder config
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Colored levels
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // Readable timestamps
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder      // Short file paths

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), level, nil
}

// ApplyLogLevel sets the runtime log level from configuration.
func ApplyLogLevel(level zap.AtomicLevel, cfg *config.Config, sugar *zap.SugaredLogger) {
	parsed, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		sugar.Warnw("Unknown log level, keeping info", "level", cfg.Log.Level)
		return
	}
	level.SetLevel(parsed)
}

// InitConfig loads the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	// Log startup mode
	startupMode := cfg.StartupMode
	if startupMode == "" {
		startupMode = config.StartupModeStrict
	}
	sugar.Infow("Startup mode",
		"mode", string(startupMode),
		"description", func() string {
			if startupMode == config.StartupModeGraceful {
				return "will continue with degraded functionality on non-critical errors"
			}
			return "will fail fast on any initialization error"
		}())

	// Log data paths for visibility
	sugar.Infow("Data paths configuration",
		"data_dir", cfg.DataDir,
		"sqlite_path", cfg.Storage.SQLite.Path)

	sugar.Infow("Config loaded",
		"storage_backend", cfg.Storage.Backend,
		"mirror_enabled", cfg.Redis.Enabled,
		"api_addr", cfg.API.Addr())

	return cfg, nil
}

// InitTracing installs a sampling tracer provider and returns its shutdown
// function. With tracing disabled it returns a no-op shutdown.
func InitTracing(cfg *config.Config, sugar *zap.SugaredLogger) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.Tracing.ServiceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	sugar.Infow("Tracing enabled",
		"service_name", cfg.Tracing.ServiceName,
		"sample_ratio", cfg.Tracing.SampleRatio)

	return provider.Shutdown, nil
}
