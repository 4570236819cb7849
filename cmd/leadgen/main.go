// Leadgen service: the lead-generation pipeline with its daily schedule
// loop and the ACEM sync API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/logging"
	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/driver"
	"github.com/acem-systems/agentd/internal/pipeline/facade"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

func main() {
	once := flag.Bool("once", false, "run the pipeline immediately once and exit")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		logging.NewWithFile("info", "").Fatal("config", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logging.NewWithFile("info", "").Fatal("create data dir", zap.Error(err))
	}
	logger := logging.NewWithFile(cfg.LogLevel, cfg.LogPath())
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DatabaseURL, cfg.DBPath())
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	if city, country := facade.ParseRotationReset(cfg.RotationResetTo); city != "" {
		ok, err := st.ResetRotationTo(city, country)
		switch {
		case err != nil:
			logger.Error("rotation reset failed", zap.Error(err))
		case ok:
			logger.Info("city rotation reset applied",
				zap.String("city", city), zap.String("country", country))
		default:
			logger.Warn("rotation reset target not in the configured cities",
				zap.String("target", cfg.RotationResetTo))
		}
	}

	pipeline, err := driver.New(cfg, st, logger)
	if err != nil {
		logger.Fatal("wire pipeline", zap.Error(err))
	}

	if *once {
		stats := pipeline.Run(ctx)
		if len(stats.Errors) > 0 {
			logger.Warn("run finished with errors", zap.Strings("errors", stats.Errors))
			os.Exit(1)
		}
		return
	}

	loop, err := facade.NewLoop(cfg, pipeline.Run, logger)
	if err != nil {
		logger.Fatal("schedule config", zap.Error(err))
	}
	go loop.Start(ctx)

	api := facade.NewServer(cfg, st, func(ctx context.Context) (store.RunStats, error) {
		return pipeline.Run(ctx), nil
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// run-now executes a full pipeline run inside the request.
		WriteTimeout: 30 * time.Minute,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.ListenAddr))
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
