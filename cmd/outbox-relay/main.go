// Package main provides the audit outbox relay entry point. It drains the
// audit_outbox table and publishes entries to the reporting topic.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/config"
	infrapostgres "github.com/mutuellesante/go-officine/internal/infrastructure/postgres"
	"github.com/mutuellesante/go-officine/internal/infrastructure/redpanda"
	"github.com/mutuellesante/go-officine/internal/observability/metrics"
)

const (
	deadLetterSweepInterval = time.Minute
	cleanupInterval         = time.Hour
	cleanupRetention        = 7 * 24 * time.Hour
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to broker", zap.Strings("brokers", cfg.KafkaBrokers))

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(context.Background()); err != nil {
		logger.Fatal("topic creation failed", zap.Error(err))
	}
	admin.Close()

	m := metrics.New()

	outboxCfg := infrapostgres.DefaultOutboxConfig()
	outboxCfg.OnRelayed = m.AuditEventsPublished.Inc

	outbox := infrapostgres.NewOutbox(pool, producer, outboxCfg, logger)
	outbox.Start()
	logger.Info("outbox relay started")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		addr := ":" + cfg.Port
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go maintenanceLoop(ctx, outbox, cfg.DeadLetterTopic, m, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	outbox.Stop()
	logger.Info("outbox relay stopped")
}

// maintenanceLoop sweeps exhausted entries to the dead letter topic, prunes
// relayed rows and keeps the pending gauge fresh.
func maintenanceLoop(ctx context.Context, outbox *infrapostgres.Outbox, deadLetterTopic string, m *metrics.Metrics, logger *zap.Logger) {
	sweep := time.NewTicker(deadLetterSweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			moved, err := outbox.MoveToDeadLetter(ctx, deadLetterTopic)
			if err != nil {
				logger.Error("dead letter sweep failed", zap.Error(err))
			} else if moved > 0 {
				logger.Warn("entries moved to dead letter", zap.Int64("count", moved))
			}
			if pending, err := outbox.PendingCount(ctx); err == nil {
				m.OutboxPending.Set(float64(pending))
			}
		case <-cleanup.C:
			removed, err := outbox.CleanupProcessed(ctx, cleanupRetention)
			if err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info("processed outbox entries pruned", zap.Int64("count", removed))
			}
		}
	}
}
