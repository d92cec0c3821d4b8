package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/dealership/internal/app/migrate"
	httpx "github.com/splax/dealership/internal/http"
	"github.com/splax/dealership/internal/remote"
	"github.com/splax/dealership/internal/repository/postgres"
	"github.com/splax/dealership/internal/service/auth"
	"github.com/splax/dealership/internal/service/catalog"
	"github.com/splax/dealership/internal/service/dealership"
	"github.com/splax/dealership/internal/ws"
	"github.com/splax/dealership/pkg/config"
	"github.com/splax/dealership/pkg/logger"
)

const remoteBackoff = 200 * time.Millisecond

func main() {
	config.LoadDotEnv()
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	remoteOpts := []remote.Option{
		remote.WithTimeout(cfg.RemoteTimeout),
		remote.WithRetries(cfg.RemoteMaxRetries, remoteBackoff),
	}
	dealerClient, err := remote.NewDealerClient(cfg.DealerServiceURL, remoteOpts...)
	if err != nil {
		log.Error("invalid dealer service url", "error", err)
		os.Exit(1)
	}
	sentimentClient, err := remote.NewSentimentClient(cfg.SentimentServiceURL, remoteOpts...)
	if err != nil {
		log.Error("invalid sentiment service url", "error", err)
		os.Exit(1)
	}

	revoked := auth.NewMemoryRevocationStore()
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		if store, err := auth.NewRedisRevocationStore(addr, cfg.RedisPassword, cfg.RedisDB, log); err != nil {
			log.Warn("redis revocation store unavailable", "error", err)
		} else {
			revoked.Close()
			revoked = store
		}
		if redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log); err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}
	defer revoked.Close()

	reviewHub := ws.NewHub()
	defer reviewHub.Close()

	router := httpx.NewRouter(httpx.Options{
		Logger:       log,
		Auth:         auth.New(repo, revoked, log, cfg),
		Catalog:      catalog.New(repo, log),
		Dealership:   dealership.New(dealerClient, sentimentClient, reviewHub, log, cfg.SentimentConcurrency),
		Hub:          reviewHub,
		Limiter:      limiter,
		CookieName:   cfg.SessionCookieName,
		CookieSecure: cfg.SessionCookieSecure,
		MediaURL:     cfg.MediaURL,
		MediaRoot:    cfg.MediaRoot,
		Heartbeat:    cfg.StreamHeartbeat,
		DBHealth:     pool.Ping,

		TrustedProxies: cfg.TrustedProxies,
	})
	defer router.Close()

	var handler http.Handler = router
	if prefix := strings.TrimRight(strings.TrimSpace(cfg.PathPrefix), "/"); prefix != "" {
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		handler = http.StripPrefix(prefix, router)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
