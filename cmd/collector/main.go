// Collector service: receives agent metric envelopes and serves run
// history.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/collector"
	"github.com/acem-systems/agentd/internal/logging"
)

func main() {
	logger := logging.NewWithFile(os.Getenv("LOG_LEVEL"), os.Getenv("COLLECTOR_LOG_FILE"))
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbPath := os.Getenv("COLLECTOR_DB_PATH")
	if dbPath == "" {
		dbPath = "collector.db"
	}
	store, err := collector.OpenStore(os.Getenv("DATABASE_URL"), dbPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	addr := os.Getenv("COLLECTOR_LISTEN_ADDR")
	if addr == "" {
		addr = ":8000"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           collector.NewServer(store, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info("collector listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
