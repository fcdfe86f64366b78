package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/leadhound/qualifier/internal/api"
	"github.com/leadhound/qualifier/internal/config"
	"github.com/leadhound/qualifier/internal/domaincache"
	"github.com/leadhound/qualifier/internal/domaincheck"
	"github.com/leadhound/qualifier/internal/kv"
	"github.com/leadhound/qualifier/internal/pkg/httpretry"
	"github.com/leadhound/qualifier/internal/pkg/logger"
	"github.com/leadhound/qualifier/internal/qualify"
	"github.com/leadhound/qualifier/internal/repository/postgres"
	"github.com/leadhound/qualifier/internal/storage"
)

func main() {
	log.Println("╔══════════════════════════════════════════════╗")
	log.Println("║  LeadHound Qualifier (cmd/server/main.go)    ║")
	log.Println("╚══════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedact(cfg.Logging.RedactPII)

	ctx := context.Background()

	// Redis holds run state and the domain cache. Required.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
	}
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	// Postgres run history is optional.
	var db *sql.DB
	var summaries *postgres.RunSummaryRepo
	if cfg.Postgres.URL != "" {
		db, err = sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			log.Fatalf("Failed to open Postgres: %v", err)
		}
		summaries = postgres.NewRunSummaryRepo(db)
		if err := summaries.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate Postgres schema: %v", err)
		}
		logger.Info("postgres connected")
	} else {
		logger.Info("postgres not configured, run history disabled")
	}

	kvStore := kv.NewRedisStore(redisClient)
	runStore := qualify.NewRunStore(kvStore)
	cache := domaincache.New(kvStore, domaincache.Options{
		AliveTTL:    cfg.Cache.AliveTTL(),
		DeadTTL:     cfg.Cache.DeadTTL(),
		HomepageTTL: cfg.Cache.HomepageTTL(),
	})

	var geo *domaincheck.GeoClassifier
	if cfg.Validator.GeoEnabled {
		geo = domaincheck.NewGeoClassifier(nil)
	}
	checker := domaincheck.NewChecker(net.DefaultResolver, geo, cfg.Validator.Timeout())
	homepage := domaincheck.NewHomepageChecker(
		httpretry.NewRetryClient(&http.Client{Timeout: cfg.Homepage.Timeout()}, 1),
		cfg.Homepage.StrikeThreshold,
	)

	runner := qualify.NewRunner(runStore, qualify.RunnerOptions{
		Checker:             checker,
		Homepage:            homepage,
		Cache:               cache,
		DNSConcurrency:      cfg.Validator.Concurrency,
		HomepageConcurrency: cfg.Homepage.Concurrency,
	})

	sink, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to configure export storage: %v", err)
	}

	handlers := api.NewHandlers(cfg, runner, runStore, cache, sink, summaries, redisClient)
	health := api.NewHealthChecker(db, redisClient)
	router := api.SetupRoutes(handlers, health)

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-done
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
	if db != nil {
		db.Close()
	}
	redisClient.Close()
	logger.Info("server stopped")
}
