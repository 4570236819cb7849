package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Beat evaluates schedule triggers every second and enqueues due tasks. It
// also promotes delayed retries and redelivers abandoned in-flight tasks.
type Beat struct {
	queue   *Queue
	entries []Entry
	logger  *zap.Logger

	interval time.Duration
	nextFire []time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBeat creates the beat producer for the configured entries.
func NewBeat(queue *Queue, cfg Config, logger *zap.Logger) *Beat {
	return &Beat{
		queue:    queue,
		entries:  cfg.Entries,
		logger:   logger,
		interval: time.Second,
	}
}

// Start launches the tick loop.
func (b *Beat) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	now := time.Now()
	b.nextFire = make([]time.Time, len(b.entries))
	for i, e := range b.entries {
		b.nextFire[i] = e.schedule.Next(now)
		b.logger.Info("schedule entry armed",
			zap.String("entry", e.Name),
			zap.String("agent", e.AgentName),
			zap.Time("next_fire", b.nextFire[i]))
	}

	b.wg.Add(1)
	go b.loop(ctx)
}

// Stop halts the loop and waits for it to exit.
func (b *Beat) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *Beat) loop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.tick(ctx, now)
		}
	}
}

func (b *Beat) tick(ctx context.Context, now time.Time) {
	for i, e := range b.entries {
		if now.Before(b.nextFire[i]) {
			continue
		}
		task, err := b.queue.Enqueue(ctx, e.Name, e.AgentName)
		if err != nil {
			// Leave nextFire unchanged so the enqueue is retried next tick.
			b.logger.Warn("enqueue failed", zap.String("entry", e.Name), zap.Error(err))
			continue
		}
		b.nextFire[i] = e.schedule.Next(now)
		b.logger.Info("task enqueued",
			zap.String("entry", e.Name),
			zap.String("agent", e.AgentName),
			zap.String("task_id", task.ID),
			zap.Time("next_fire", b.nextFire[i]))
	}

	if n, err := b.queue.PromoteDelayed(ctx, now); err != nil {
		b.logger.Warn("promote delayed failed", zap.Error(err))
	} else if n > 0 {
		b.logger.Info("promoted delayed tasks", zap.Int("count", n))
	}

	if n, err := b.queue.ReapExpired(ctx); err != nil {
		b.logger.Warn("reap expired failed", zap.Error(err))
	} else if n > 0 {
		b.logger.Warn("redelivered abandoned tasks", zap.Int("count", n))
	}
}
