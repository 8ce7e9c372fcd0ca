// Package main provides the pharmacy API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/api/handlers"
	"github.com/mutuellesante/go-officine/internal/api/middleware"
	"github.com/mutuellesante/go-officine/internal/cache"
	"github.com/mutuellesante/go-officine/internal/client"
	"github.com/mutuellesante/go-officine/internal/config"
	"github.com/mutuellesante/go-officine/internal/domain/prescription"
	"github.com/mutuellesante/go-officine/internal/observability/metrics"
	"github.com/mutuellesante/go-officine/internal/observability/tracing"
	"github.com/mutuellesante/go-officine/internal/service"
	"github.com/mutuellesante/go-officine/internal/store"
	storememory "github.com/mutuellesante/go-officine/internal/store/memory"
	storepostgres "github.com/mutuellesante/go-officine/internal/store/postgres"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx := context.Background()

	// Tracing
	if cfg.OTLPEndpoint != "" {
		tracingCfg := tracing.DefaultConfig("pharmacy-api")
		tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
		tracingCfg.Environment = cfg.Environment
		provider, err := tracing.Init(ctx, tracingCfg)
		if err != nil {
			logger.Fatal("tracing init failed", zap.Error(err))
		}
		defer provider.Shutdown(context.Background())
	}

	m := metrics.New()

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		fulfillmentStore store.FulfillmentStore
		stockStore       store.StockStore
		pool             *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		if err := storepostgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		logger.Info("connected to database")

		auditTopic := ""
		if len(cfg.KafkaBrokers) > 0 {
			auditTopic = cfg.AuditTopic
		}
		fulfillmentStore = storepostgres.NewFulfillmentStore(pool, auditTopic, logger)
		stockStore = storepostgres.NewStockStore(pool, logger)
	} else {
		mem := storememory.New()
		fulfillmentStore = mem
		stockStore = mem
		logger.Warn("no DATABASE_URL set, running with in-memory storage")
	}

	// Dashboard cache
	var dashboardCache cache.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisCache.Close()
		dashboardCache = redisCache
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	// Prescription directory: the doctor module, or an empty in-memory
	// directory for standalone runs.
	var directory prescription.Directory
	if cfg.DoctorAPIURL != "" {
		directory, err = client.NewDoctorDirectory(cfg.DoctorAPIURL, cfg.DoctorAPIKey, logger)
		if err != nil {
			logger.Fatal("doctor directory client failed", zap.Error(err))
		}
	} else {
		directory = prescription.NewMemoryDirectory()
		logger.Warn("no DOCTOR_API_URL set, pending queue will be empty")
	}

	// Stock integration strategy
	var policy service.StockPolicy = service.DetachedStockPolicy{}
	if cfg.StockPolicy == config.StockPolicyLedger {
		policy = service.NewLedgerStockPolicy(stockStore, logger)
	}
	logger.Info("stock policy selected", zap.String("policy", cfg.StockPolicy))

	fulfillmentSvc := service.NewFulfillmentService(fulfillmentStore, directory, policy, service.AllowAll, dashboardCache, logger)
	stockSvc := service.NewStockService(stockStore, service.AllowAll, logger)

	fulfillmentHandler := handlers.NewFulfillmentHandler(fulfillmentSvc, m, logger)
	stockHandler := handlers.NewStockHandler(stockSvc, m, logger)

	actorsByKey := make(map[string]middleware.ActorInfo, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		actorsByKey[cred.APIKey] = middleware.ActorInfo{
			ID:         cred.PharmacistID,
			Name:       cred.Name,
			PharmacyID: cred.PharmacyID,
		}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("pharmacy-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ActorAuth(actorsByKey))
		r.Mount("/fulfillment", fulfillmentHandler.Routes())
		r.Mount("/stock", stockHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting pharmacy API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"pharmacy-api","version":"1.0.0"}`)
}
