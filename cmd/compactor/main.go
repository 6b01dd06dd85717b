package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	_ "github.com/lib/pq" // Keep for postgres driver

	redislease "github.com/avekarev/ledgerfold/internal/adapter/lease/redis"
	"github.com/avekarev/ledgerfold/internal/adapter/metrics"
	mongorepo "github.com/avekarev/ledgerfold/internal/adapter/repository/mongo"
	postgresrepo "github.com/avekarev/ledgerfold/internal/adapter/repository/postgres"
	"github.com/avekarev/ledgerfold/internal/domain"
	"github.com/avekarev/ledgerfold/internal/pkg/config"
	"github.com/avekarev/ledgerfold/internal/pkg/logger"
	"github.com/avekarev/ledgerfold/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.NewCompactionMetrics()

	// --- Metrics Server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store Backend ---
	var store domain.LedgerStore
	switch cfg.StoreBackend {
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Error("failed to connect to mongodb", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn("mongodb disconnect failed", "error", err)
			}
		}()
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			log.Error("failed to ping mongodb", "error", err)
			os.Exit(1)
		}
		log.Info("connected to mongodb", "database", cfg.MongoDatabase)

		cols := mongorepo.Collections{
			Hot:       cfg.HotCollection,
			Archive:   cfg.ArchiveCollection,
			Summaries: cfg.SummaryCollection,
		}
		if cfg.MongoTransactions {
			repo := mongorepo.NewTransactionalLedgerRepository(client, cfg.MongoDatabase, cols, log)
			if err := repo.EnsureIndexes(ctx); err != nil {
				log.Error("failed to ensure mongodb indexes", "error", err)
				os.Exit(1)
			}
			store = repo
		} else {
			repo := mongorepo.NewLedgerRepository(client, cfg.MongoDatabase, cols, log)
			if err := repo.EnsureIndexes(ctx); err != nil {
				log.Error("failed to ensure mongodb indexes", "error", err)
				os.Exit(1)
			}
			store = repo
		}

	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("failed to open postgres connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		log.Info("connected to postgres")

		repo := postgresrepo.NewLedgerRepository(db, log)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure postgres schema", "error", err)
			os.Exit(1)
		}
		store = repo
	}

	// --- Optional Per-Client Lease ---
	var lease domain.CompactionLease
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		lease = redislease.NewClientLease(redisClient, log, cfg.LeaseTTL)
		log.Info("per-client compaction lease enabled", "ttl", cfg.LeaseTTL)
	}

	// --- Run Compaction ---
	compactor := usecase.NewCompactor(store, lease, log, cfg.WorkerCount)

	timer := m.RunTimer()
	report, err := compactor.Compact(ctx, cfg.DaysThreshold)
	timer.ObserveDuration()

	status := "completed"
	if err != nil {
		status = "failed"
		if errors.As(err, new(*domain.PartialRunError)) {
			status = "partial"
		}
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.TransactionsCompressed.Add(float64(report.CompressedCount))
	m.TransactionsArchived.Add(float64(report.ArchivedCount))
	m.ClientsFailed.Add(float64(len(report.FailedClients)))

	exitCode := 0
	switch {
	case errors.Is(err, domain.ErrInvalidThreshold):
		log.Error("invalid days threshold", "days_threshold", cfg.DaysThreshold)
		exitCode = 2
	case err != nil:
		var partial *domain.PartialRunError
		if errors.As(err, &partial) {
			log.Error("compaction run partially failed",
				"failed_clients", partial.FailedClients,
				"compressed", report.CompressedCount,
				"archived", report.ArchivedCount,
				"remaining", report.RemainingCount)
		} else {
			log.Error("compaction run failed", "error", err)
		}
		exitCode = 1
	default:
		log.Info("compaction run succeeded",
			"run_id", report.RunID,
			"compressed", report.CompressedCount,
			"archived", report.ArchivedCount,
			"remaining", report.RemainingCount)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown failed", "error", err)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
