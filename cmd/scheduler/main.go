// Scheduler service: fires registered agents on their triggers through the
// Redis-backed queue and pushes their metrics to the collector.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/agent"
	"github.com/acem-systems/agentd/internal/logging"
	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/driver"
	"github.com/acem-systems/agentd/internal/pipeline/store"
	"github.com/acem-systems/agentd/internal/sched"
)

func registry(logger *zap.Logger) *agent.Registry {
	reg := agent.NewRegistry()
	reg.Register("example", func() (agent.Agent, error) {
		return agent.ExampleAgent{}, nil
	})
	reg.Register(driver.AgentName, func() (agent.Agent, error) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		st, err := store.Open(cfg.DatabaseURL, cfg.DBPath())
		if err != nil {
			return nil, err
		}
		p, err := driver.New(cfg, st, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		return driver.NewAgent(p), nil
	})
	return reg
}

func main() {
	cfg, err := sched.ConfigFromEnv()
	if err != nil {
		logging.NewWithFile("info", "").Fatal("config", zap.Error(err))
	}
	logger := logging.NewWithFile(cfg.LogLevel, os.Getenv("SCHEDULER_LOG_FILE"))
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	queue, err := sched.NewQueue(cfg.RedisURL)
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer queue.Close()

	pusher := agent.NewCollectorClient(cfg.CollectorURL)

	beat := sched.NewBeat(queue, cfg, logger)
	pool := sched.NewPool(queue, registry(logger), pusher, cfg, logger)

	beat.Start(ctx)
	pool.Start(ctx)
	logger.Info("scheduler running",
		zap.Int("workers", cfg.Workers), zap.Int("entries", len(cfg.Entries)))

	<-ctx.Done()
	logger.Info("shutting down")
	beat.Stop()
	pool.Stop()
}
