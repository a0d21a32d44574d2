package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"tillbase.io/internal/auth"
	"tillbase.io/internal/config"
	"tillbase.io/internal/httpapi"
	"tillbase.io/internal/iam"
	"tillbase.io/internal/obs"
	"tillbase.io/internal/session"
	"tillbase.io/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("TILLBASE_PG_DSN is required")
	}
	if cfg.RedisAddr == "" {
		log.Fatal("TILLBASE_REDIS_ADDR is required")
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	sessions, err := session.NewRegistry(rdb, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("session registry: %v", err)
	}

	tokens, err := auth.NewTokenService(cfg.AuthSecret,
		auth.WithIssuer(cfg.TokenIssuer),
		auth.WithTTL(cfg.AccessTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	svc, err := iam.NewService(store, iam.WithCache(cfg.DecisionCacheSize, cfg.DecisionCacheTTL))
	if err != nil {
		log.Fatalf("iam service: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("seed builtin permissions: %v", err)
	}
	cancel()

	api := httpapi.New(httpapi.Options{
		Tokens:     tokens,
		IAM:        svc,
		Store:      store,
		Orders:     store.Orders(),
		Sessions:   sessions,
		Ready:      httpapi.ReadyProbe{DB: store.DB()},
		Version:    version,
		SessionTTL: cfg.SessionTTL,
	})

	handler := httpapi.CORS(api.Handler())
	handler = httpapi.MaxBodyBytes(handler, cfg.MaxBodyBytes)
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, cfg.RateLimitPerSecond)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Infof("tillbase-api %s listening", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("stopped")
}
