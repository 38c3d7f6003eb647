/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration, opens
 * the store, connects RabbitMQ and Redis, wires the application service into the HTTP
 * router, the event consumer and the cron scheduler, then serves until signalled.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver (SQLite is used when no DATABASE_URL is set).
 * - github.com/joho/godotenv: Local .env loading.
 * - github.com/redis/go-redis/v9: Shared withdrawal rate limiting.
 * - internal/api, internal/app, internal/config, internal/logging, internal/store.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/api"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/app"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/config"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/logging"
	"github.com/SanaullahForhad/sooqkabeer-production/internal/store"
	"github.com/SanaullahForhad/sooqkabeer-production/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const consumerPrefetch = 16

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger, logCloser := logging.Setup("ledger-service", cfg.Environment, logging.Options{
		LogFile:   cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
	defer logCloser.Close()

	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not configured; internal routes will refuse every call\" env=INTERNAL_API_KEY")
	}
	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s driver=%s", cfg.ServerPort, cfg.DatabaseDriver)

	repository, closeStore := openStore(cfg)
	defer closeStore()

	// The service only degrades to a no-op publisher; the ledger itself never waits on the broker.
	var publisher rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	ledgerService := app.NewService(repository, policyFromConfig(cfg), publisher, cfg.EventExchange)
	if cfg.WithdrawalRateLimitPerHour > 0 {
		ledgerService.SetRateLimiter(newRateLimiter(cfg))
	}

	// Order and signup events. The HTTP routes remain usable when the broker is down.
	consumer := app.NewEventConsumer(ledgerService)
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; ledger events will not be consumed\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventExchange, cfg.LedgerEventQueue, consumerPrefetch, consumer.Bindings()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"ledger consumer start failed\" err=%v", err)
		}
	}

	jobs := app.NewJobs(ledgerService, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	handler := api.NewHandler(ledgerService)
	router := api.NewRouter(handler, cfg.ClerkJWKSURL, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=scheduler msg=\"running jobs did not finish before shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openStore connects the configured backend and returns its close function.
func openStore(cfg config.Config) (store.Repository, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database driver invalid\" err=%v", err)
	}

	if dialect == store.DialectSQLite {
		repository, err := store.NewSQLiteRepository(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"sqlite open failed\" path=%s err=%v", cfg.SQLitePath, err)
		}
		log.Printf("level=info component=bootstrap msg=\"sqlite store ready\" path=%s", cfg.SQLitePath)
		return repository, func() { repository.Close() }
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	repository, err := store.NewPostgresRepository(ctx, dbpool)
	if err != nil {
		dbpool.Close()
		log.Fatalf("level=fatal component=bootstrap msg=\"postgres store init failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return repository, func() {
		repository.Close()
		dbpool.Close()
	}
}

func policyFromConfig(cfg config.Config) app.Policy {
	return app.Policy{
		ReferralBaseRate:           cfg.ReferralBaseRate,
		Level2Factor:               cfg.ReferralLevel2Factor,
		Level3Factor:               cfg.ReferralLevel3Factor,
		VendorCommissionRate:       cfg.VendorCommissionRate,
		SignupBonus:                cfg.SignupBonusFils,
		MinWithdrawal:              cfg.MinWithdrawalFils,
		InstantCreditReferral:      cfg.InstantCreditReferral,
		InstantCreditSignupBonus:   cfg.InstantCreditSignupBonus,
		InstantCreditVendor:        cfg.InstantCreditVendor,
		FanoutConcurrency:          cfg.FanoutConcurrency,
		WithdrawalRateLimitPerHour: cfg.WithdrawalRateLimitPerHour,
	}
}

// newRateLimiter prefers Redis so every replica shares one window; without it each
// process throttles on its own.
func newRateLimiter(cfg config.Config) app.RateLimiter {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-process withdrawal rate limiter\" env=REDIS_URL")
		return app.NewLocalRateLimiter()
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-process withdrawal rate limiter\" err=%v", err)
		return app.NewLocalRateLimiter()
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-process withdrawal rate limiter\" err=%v", err)
		redisClient.Close()
		return app.NewLocalRateLimiter()
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
}
