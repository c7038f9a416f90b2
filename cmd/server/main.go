package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"trustgate/internal/accessgate"
	"trustgate/internal/platform/config"
	"trustgate/internal/platform/httpserver"
	"trustgate/internal/platform/logger"
	httpmetrics "trustgate/internal/platform/metrics"
	"trustgate/internal/platform/middleware"
	platformredis "trustgate/internal/platform/redis"
	"trustgate/internal/verification/analysis"
	"trustgate/internal/verification/handler"
	"trustgate/internal/verification/metrics"
	"trustgate/internal/verification/service/review"
	"trustgate/internal/verification/service/submission"
	claimstore "trustgate/internal/verification/store/claim"
	requeststore "trustgate/internal/verification/store/request"
	auditpub "trustgate/pkg/platform/audit/publisher"
	auditmem "trustgate/pkg/platform/audit/store/memory"
	auditpg "trustgate/pkg/platform/audit/store/postgres"
	platformstrings "trustgate/pkg/platform/strings"
)

// main wires configuration, stores, services, and the HTTP surface, then runs
// the server until interrupted. Business logic lives in the internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New()

	if cfg.AdminToken == "" {
		log.Warn("admin token not configured; the review surface will reject all requests")
	}

	// Stores: PostgreSQL and Redis when configured, in-memory otherwise.
	var (
		db       *sql.DB
		requests requeststore.Store
		claims   claimstore.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.Ping()
		}
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		requests = requeststore.NewPostgres(db)
	} else {
		log.Warn("no database configured; using in-memory request store")
		requests = requeststore.NewInMemoryStore()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		claims = claimstore.NewRedisStore(redisClient.Client)
	} else {
		log.Warn("no redis configured; using in-memory claim store")
		claims = claimstore.NewInMemoryStore()
	}

	// Audit trail: durable store plus an optional Kafka feed for downstream
	// compliance consumers.
	var auditStore auditpub.Store
	if db != nil {
		auditStore = auditpg.New(db)
	} else {
		auditStore = auditmem.NewInMemoryStore()
	}
	auditOpts := []auditpub.Option{auditpub.WithLogger(log)}
	var kafkaClient *kgo.Client
	if brokers := platformstrings.DedupeAndTrim(cfg.AuditKafkaBrokers); len(brokers) > 0 {
		kafkaClient, err = kgo.NewClient(kgo.SeedBrokers(brokers...))
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		auditOpts = append(auditOpts, auditpub.WithSink(auditpub.NewKafkaSink(kafkaClient, cfg.AuditKafkaTopic)))
	}
	auditTrail := auditpub.NewPublisher(auditStore, auditOpts...)

	var analyzer submission.Analyzer
	if cfg.AnalysisURL != "" {
		analyzer = analysis.NewClient(cfg.AnalysisURL, cfg.AnalysisTimeout, log)
	} else {
		log.Warn("no analysis service configured; using deterministic stub")
		analyzer = analysis.NewStub()
	}

	verificationMetrics := metrics.New()
	submissionSvc, err := submission.New(requests, analyzer,
		submission.WithLogger(log),
		submission.WithAuditPublisher(auditTrail),
		submission.WithMetrics(verificationMetrics),
	)
	if err != nil {
		log.Error("failed to build submission service", "error", err)
		os.Exit(1)
	}
	reviewSvc, err := review.New(requests, claims,
		review.WithLogger(log),
		review.WithAuditPublisher(auditTrail),
		review.WithMetrics(verificationMetrics),
		review.WithClaimTTL(cfg.ClaimTTL),
		review.WithHighRiskThreshold(cfg.HighRiskThreshold),
	)
	if err != nil {
		log.Error("failed to build review service", "error", err)
		os.Exit(1)
	}
	gate, err := accessgate.New(requests,
		accessgate.WithLogger(log),
		accessgate.WithMetrics(verificationMetrics),
	)
	if err != nil {
		log.Error("failed to build access gate", "error", err)
		os.Exit(1)
	}

	validator := middleware.NewJWTValidator(cfg.JWTSigningKey)

	router := chi.NewRouter()
	router.Use(middleware.Latency(httpmetrics.New()))
	handler.New(submissionSvc, validator, log).Register(router)
	handler.NewReview(reviewSvc, auditTrail, cfg.AdminToken, log).Register(router)
	accessgate.NewHandler(gate, validator, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", healthz(db, redisClient))

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting trustgate", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	auditTrail.Close()
	if kafkaClient != nil {
		kafkaClient.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info("trustgate stopped")
}

// healthz reports process liveness and, when configured, backend reachability.
func healthz(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
