package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rpggio/atelier/internal/config"
	"github.com/rpggio/atelier/internal/domain/activity"
	"github.com/rpggio/atelier/internal/domain/conflict"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/events"
	"github.com/rpggio/atelier/internal/mcp"
	"github.com/rpggio/atelier/internal/metrics"
	"github.com/rpggio/atelier/internal/presence"
	"github.com/rpggio/atelier/internal/repository"
	"github.com/rpggio/atelier/internal/sqlite"
	"github.com/rpggio/atelier/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if logPath := os.Getenv("ATELIER_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	archive, err := repository.NewCachedArchive(sqlite.NewArchiveRepository(db), cfg.DB.ArchiveCacheSize)
	if err != nil {
		logger.Error("failed to create archive cache", "error", err)
		os.Exit(1)
	}
	activitySvc := activity.NewService(sqlite.NewActivityRepository(db), logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collabMetrics := metrics.New(registry)

	observers := []session.Subscriber{activitySvc, collabMetrics}

	var (
		producer   sarama.SyncProducer
		dispatcher *events.Dispatcher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = events.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.Error("failed to connect to kafka", "brokers", cfg.Kafka.Brokers, "error", err)
			os.Exit(1)
		}
		dispatcher = events.NewDispatcher(producer, cfg.Kafka.Topic, events.Options{
			QueueSize:   cfg.Kafka.QueueSize,
			Workers:     cfg.Kafka.Workers,
			MaxRetry:    cfg.Kafka.MaxRetry,
			BaseBackoff: cfg.Kafka.BaseBackoff,
			MaxBackoff:  cfg.Kafka.MaxBackoff,

			BreakerFailures: cfg.Kafka.BreakerFailures,
			BreakerTimeout:  cfg.Kafka.BreakerTimeout,
		}, logger)
		observers = append(observers, dispatcher)
		logger.Info("publishing session events", "topic", cfg.Kafka.Topic)
	}

	var (
		rdb         *redis.Client
		presenceSvc *presence.Tracker
		tracker     mcp.PresenceService
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		presenceSvc = presence.NewTracker(rdb, cfg.Redis.PresenceTTL, logger)
		observers = append(observers, presenceSvc)
		tracker = presenceSvc
		logger.Info("tracking presence", "redis", cfg.Redis.Addr)
	}

	defaults := session.DefaultSettings()
	defaults.MaxParticipants = cfg.Collab.MaxParticipants
	defaults.AutoSaveInterval = int(cfg.Collab.AutoSaveInterval.Seconds())

	resolver := conflict.New(conflict.Options{
		Window: cfg.Collab.ConflictWindow.Seconds(),
		Logger: logger,
	})
	engine := session.NewEngine(resolver, session.Options{
		Defaults:         &defaults,
		RecentOperations: cfg.Collab.RecentOperations,
		Observers:        observers,
	}, logger)

	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Engine:   engine,
			Archive:  archive,
			Activity: activitySvc,
			Presence: tracker,
		},
		TransportMode: cfg.Transport.Mode,
		DefaultUser:   cfg.Transport.DefaultUser,
		Logger:        logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		engine.RunSweeper(ctx, cfg.Collab.SweepInterval, cfg.Collab.MaxSessionAge)
	}()
	go func() {
		defer loops.Done()
		engine.RunAutoSave(ctx, cfg.Collab.AutoSaveInterval, archive)
	}()

	if cfg.Transport.Mode == "stdio" {
		runStdioMode(ctx, logger, mcpServer)
	} else {
		router := transport.NewServer(transport.Options{
			Engine: engine,
			MCP: sdkmcp.NewStreamableHTTPHandler(
				func(r *http.Request) *sdkmcp.Server { return mcpServer },
				&sdkmcp.StreamableHTTPOptions{
					Stateless:      false,
					SessionTimeout: 30 * time.Minute,
				},
			),
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Metrics:        collabMetrics,
			MessageRate:    cfg.Transport.MessageRate,
			MessageBurst:   cfg.Transport.MessageBurst,
			Logger:         logger,
		})
		runHTTPMode(ctx, logger, router, cfg.Server.Host, cfg.Server.Port)
	}

	cancel()
	loops.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if saved := engine.SaveAll(shutdownCtx, archive); saved > 0 {
		logger.Info("saved active sessions", "count", saved)
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("event dispatcher did not drain", "error", err)
		}
		if err := producer.Close(); err != nil {
			logger.Warn("closing kafka producer", "error", err)
		}
	}
	if rdb != nil {
		if err := presenceSvc.Close(shutdownCtx); err != nil {
			logger.Warn("presence tracker did not drain", "error", err)
		}
		if err := rdb.Close(); err != nil {
			logger.Warn("closing redis client", "error", err)
		}
	}
}

func runStdioMode(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) {
	logger.Info("starting stdio transport")

	// Run blocks until stdin closes or ctx is canceled.
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stdio server error", "error", err)
	}
	logger.Info("shutting down")
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, router http.Handler, host string, port int) {
	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	waitForShutdown(logger, httpServer)
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
