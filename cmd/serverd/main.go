package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/api"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/auth"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/cache"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/config"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/events"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/hub"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/metrics"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/store"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/users"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/server/ws"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	var zl *zap.Logger
	if cfg.App.Env == "production" {
		zl, err = zap.NewProduction()
	} else {
		zl, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	st := store.New(cfg.Store.Capacity)
	registry := users.NewRegistry()
	rooms := hub.New()
	validator := auth.NewValidator(cfg.App.JWTSecret)

	var recent *cache.Recent
	var limiter *api.RateLimiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		recent = cache.NewRecent(rdb, cfg.Redis.Prefix)
		logger.Infow("recent cache enabled", "addr", cfg.Redis.Addr)
		if cfg.Redis.ConnRateLimit > 0 {
			limiter = api.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.Redis.ConnRateLimit,
				time.Duration(cfg.Redis.ConnRateWindowSeconds)*time.Second)
			logger.Infow("connection rate limit enabled", "limit", cfg.Redis.ConnRateLimit)
		}
	}

	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		publisher = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = publisher.Close() }()
		logger.Infow("event publishing enabled", "topic", cfg.Kafka.Topic)
	}

	handler := ws.NewHandler(rooms, st, registry, validator, recent, publisher, m, cfg, logger)
	app := api.New(api.Deps{
		Handler:  handler,
		Hub:      rooms,
		Store:    st,
		Users:    registry,
		Registry: reg,
		Limiter:  limiter,
	})

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.App.Port)
		logger.Infow("listening", "addr", addr, "env", cfg.App.Env)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		logger.Fatalw("server error", "err", err)
	case s := <-sig:
		logger.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		logger.Errorw("shutdown failed", "err", err)
	}
	logger.Info("stopped")
}
