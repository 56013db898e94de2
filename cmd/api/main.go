package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/api"
	"github.com/punchamoorthee/referralops/internal/auth"
	"github.com/punchamoorthee/referralops/internal/cache"
	"github.com/punchamoorthee/referralops/internal/config"
	"github.com/punchamoorthee/referralops/internal/logger"
	"github.com/punchamoorthee/referralops/internal/service"
	"github.com/punchamoorthee/referralops/internal/store"
	"github.com/punchamoorthee/referralops/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer logg.Sync()

	shutdownTracing, err := tracing.Init(cfg.Tracing, cfg.Env, os.Stdout)
	if err != nil {
		logg.Fatal("tracing init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		repo   store.Repository
		pinger api.Pinger
	)
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.DB.AutoMigrate {
			if err := store.RunMigrations(cfg.DB.Source, logg); err != nil {
				logg.Fatal("migrations failed", zap.Error(err))
			}
		}
		pg, err := store.NewPostgres(ctx, cfg.DB.Source, cfg.DB.MaxConns)
		if err != nil {
			logg.Fatal("Unable to connect to database", zap.Error(err))
		}
		defer pg.Close()
		repo, pinger = pg, pg
	default:
		logg.Warn("using in-memory storage; data is lost on restart")
		repo = store.NewMemory()
	}

	// Stats cache
	opts := []service.Option{}
	switch cfg.Cache.Driver {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logg.Fatal("Unable to connect to redis", zap.Error(err))
		}
		defer rc.Close()
		opts = append(opts, service.WithCache(rc, cfg.Cache.TTL))
	case "memory":
		opts = append(opts, service.WithCache(cache.NewInMemoryCache(), cfg.Cache.TTL))
	}

	// Initialize Layers
	svc := service.NewReferralService(repo, logg, opts...)
	handler := api.NewHandler(svc, logg, pinger, cfg.Server.MaxBodyBytes)
	router := api.NewRouter(handler, api.RouterConfig{
		Tokens:         auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Limiter:        api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.TrustProxyHeaders),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logg.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("env", cfg.Env),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("cache", cfg.Cache.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logg.Error("tracing flush failed", zap.Error(err))
	}
}
