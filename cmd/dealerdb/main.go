package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splax/dealership/internal/dealerdb"
	"github.com/splax/dealership/pkg/config"
	"github.com/splax/dealership/pkg/logger"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadDealerDBConfig()
	log := logger.New("dealerdb", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := dealerdb.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		log.Error("failed to open database", "driver", cfg.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := dealerdb.Seed(ctx, store, cfg.DealershipsFile, cfg.ReviewsFile, log); err != nil {
		log.Error("error initializing database", "error", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           dealerdb.NewServer(store, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("dealer data server starting", "addr", cfg.Addr, "driver", cfg.Driver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("dealer data server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
