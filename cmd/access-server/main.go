// Package main provides the entry point for the access policy server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/access-engine/go-core/internal/audit"
	"github.com/access-engine/go-core/internal/cache"
	"github.com/access-engine/go-core/internal/config"
	"github.com/access-engine/go-core/internal/db"
	"github.com/access-engine/go-core/internal/engine"
	"github.com/access-engine/go-core/internal/metrics"
	"github.com/access-engine/go-core/internal/persistence"
	"github.com/access-engine/go-core/internal/server"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML configuration file")
		httpPort        = flag.Int("http-port", 0, "HTTP server port (overrides config)")
		stateDir        = flag.String("state-dir", "", "State directory (overrides config)")
		logLevel        = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("access-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the config file
	if *httpPort != 0 {
		cfg.Server.Port = *httpPort
	}
	if *stateDir != "" {
		cfg.State.Dir = *stateDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logger, err := initLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting access policy server",
		zap.String("version", Version),
		zap.Int("http_port", cfg.Server.Port),
		zap.String("state_dir", cfg.State.Dir),
	)

	// State persistence
	store, err := persistence.NewFilePersistence(cfg.State.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to open state directory", zap.Error(err))
	}

	// Engine options
	engConfig := engine.Config{
		CacheEnabled:     cfg.Cache.Enabled,
		CacheSize:        cfg.Cache.Size,
		CacheTTL:         cfg.Cache.TTL,
		NotifyQueueDepth: cfg.Notify.QueueDepth,
	}

	var opts []engine.Option

	var promMetrics *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled {
		promMetrics = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
		opts = append(opts, engine.WithMetrics(promMetrics))
	}

	var redisCache *cache.RedisCache
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
		redisConfig := cache.DefaultRedisConfig()
		redisConfig.Host = cfg.Cache.Redis.Host
		redisConfig.Port = cfg.Cache.Redis.Port
		redisConfig.Password = cfg.Cache.Redis.Password
		redisConfig.DB = cfg.Cache.Redis.DB
		if cfg.Cache.Redis.PoolSize > 0 {
			redisConfig.PoolSize = cfg.Cache.Redis.PoolSize
		}
		redisConfig.TTL = cfg.Cache.TTL

		redisCache, err = cache.NewRedisCache(redisConfig)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		opts = append(opts, engine.WithCache(redisCache))
		logger.Info("Using Redis decision cache",
			zap.String("host", redisConfig.Host),
			zap.Int("port", redisConfig.Port),
		)
	}

	eng := engine.New(engConfig, store, logger, opts...)
	if err := eng.Start(); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	logger.Info("Access engine initialized",
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	// Audit trail
	var trail *audit.Trail
	if cfg.Audit.Enabled {
		trail, err = buildAuditTrail(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize audit trail", zap.Error(err))
		}
		eng.AddListenerToAllPolicies(trail)
		logger.Info("Audit trail enabled",
			zap.Bool("file", cfg.Audit.File.Enabled),
			zap.Bool("postgres", cfg.Audit.Postgres.Enabled),
		)
	}

	// Watch for external edits of the state files
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	var watcher *persistence.FileWatcher
	if cfg.State.Watch {
		watcher, err = persistence.NewFileWatcher(cfg.State.Dir, func() {
			if rerr := eng.Reload(); rerr != nil {
				logger.Error("Failed to reload state", zap.Error(rerr))
			}
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create state watcher", zap.Error(err))
		}
		if err := watcher.Watch(watchCtx); err != nil {
			logger.Fatal("Failed to watch state directory", zap.Error(err))
		}
	}

	// REST API server
	srvConfig := server.DefaultConfig()
	srvConfig.Port = cfg.Server.Port
	if cfg.Server.ReadTimeout > 0 {
		srvConfig.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		srvConfig.WriteTimeout = cfg.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout > 0 {
		srvConfig.IdleTimeout = cfg.Server.IdleTimeout
	}
	srvConfig.EnableCORS = cfg.Server.EnableCORS
	srvConfig.EnableAuth = cfg.Server.EnableAuth
	srvConfig.JWTSecret = cfg.Server.JWTSecret
	srvConfig.JWTIssuer = cfg.Server.JWTIssuer
	srvConfig.Version = Version

	var srvOpts []server.Option
	if promMetrics != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(promMetrics.Handler()))
	}

	srv, err := server.New(srvConfig, eng, logger, srvOpts...)
	if err != nil {
		logger.Fatal("Failed to create HTTP server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
	defer cancel()

	logger.Info("Stopping HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if watcher != nil {
		cancelWatch()
		if err := watcher.Stop(); err != nil {
			logger.Warn("State watcher stop error", zap.Error(err))
		}
	}

	logger.Info("Stopping engine")
	if err := eng.Shutdown(ctx); err != nil {
		logger.Warn("Engine shutdown error", zap.Error(err))
	}

	if trail != nil {
		if err := trail.Close(); err != nil {
			logger.Warn("Audit trail close error", zap.Error(err))
		}
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			logger.Warn("Redis close error", zap.Error(err))
		}
	}

	logger.Info("Server stopped successfully")
}

// buildAuditTrail assembles the configured audit sinks.
func buildAuditTrail(cfg *config.Config, logger *zap.Logger) (*audit.Trail, error) {
	var writers []audit.Writer

	if cfg.Audit.File.Enabled {
		w, err := audit.NewFileWriter(
			cfg.Audit.File.Path,
			cfg.Audit.File.MaxSizeMB,
			cfg.Audit.File.MaxAgeDays,
			cfg.Audit.File.MaxBackups,
		)
		if err != nil {
			return nil, fmt.Errorf("audit file writer: %w", err)
		}
		writers = append(writers, w)
	}

	if cfg.Audit.Postgres.Enabled {
		conn, err := db.Open(cfg.Audit.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("audit database: %w", err)
		}
		if cfg.Audit.Postgres.Migrate {
			runner, err := db.NewMigrationRunner(conn, logger)
			if err != nil {
				return nil, fmt.Errorf("audit migrations: %w", err)
			}
			if err := runner.Up(); err != nil {
				return nil, fmt.Errorf("audit migrations: %w", err)
			}
		}
		store := audit.NewPostgresStore(conn)
		writers = append(writers, audit.NewStoreWriter(store, 0))
	}

	return audit.NewTrail(logger, writers...), nil
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
