package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/agent"
)

// lockRequeueDelay is how long a task waits when its agent already has an
// active run on another worker.
const lockRequeueDelay = 5 * time.Second

// Pool consumes the queue with a fixed number of workers. Distinct agents
// run in parallel; a per-agent-name lock keeps any single agent to at most
// one active run in this process. The lock does not survive restart; the
// queue redelivers whatever was in flight.
type Pool struct {
	queue    *Queue
	registry *agent.Registry
	pusher   agent.Pusher
	logger   *zap.Logger

	workers    int
	maxRetries int
	retryDelay time.Duration

	mu       sync.Mutex
	inFlight map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(queue *Queue, registry *agent.Registry, pusher agent.Pusher, cfg Config, logger *zap.Logger) *Pool {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:      queue,
		registry:   registry,
		pusher:     pusher,
		logger:     logger,
		workers:    workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		inFlight:   map[string]bool{},
	}
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		if ctx.Err() != nil {
			return
		}
		task, raw, err := p.queue.Dequeue(ctx, time.Second)
		if err != nil {
			if err == ErrEmpty || ctx.Err() != nil {
				continue
			}
			logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		p.handle(ctx, task, raw, logger)
	}
}

func (p *Pool) claim(agentName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[agentName] {
		return false
	}
	p.inFlight[agentName] = true
	return true
}

func (p *Pool) release(agentName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, agentName)
}

func (p *Pool) handle(ctx context.Context, task Task, raw string, logger *zap.Logger) {
	logger = logger.With(
		zap.String("task_id", task.ID),
		zap.String("agent", task.AgentName),
		zap.Int("attempt", task.Attempt))

	// Registry lookup happens at fire time; a miss is fatal and
	// non-retryable.
	a, err := p.registry.Resolve(task.AgentName)
	if err != nil {
		logger.Error("task failed permanently", zap.Error(err))
		if ackErr := p.queue.Ack(ctx, task, raw); ackErr != nil {
			logger.Warn("ack failed", zap.Error(ackErr))
		}
		return
	}

	if !p.claim(task.AgentName) {
		logger.Info("agent already running, requeueing task")
		if err := p.queue.Requeue(ctx, task, raw, lockRequeueDelay); err != nil {
			logger.Warn("requeue failed", zap.Error(err))
		}
		return
	}
	defer p.release(task.AgentName)

	_, runErr := agent.Execute(ctx, a, p.pusher, logger)
	if runErr == nil {
		if err := p.queue.Ack(ctx, task, raw); err != nil {
			logger.Warn("ack failed", zap.Error(err))
		}
		return
	}

	if task.Attempt >= p.maxRetries {
		logger.Error("task failed after final attempt",
			zap.Int("max_retries", p.maxRetries),
			zap.Error(runErr))
		if err := p.queue.Ack(ctx, task, raw); err != nil {
			logger.Warn("ack failed", zap.Error(err))
		}
		return
	}

	next, err := p.queue.Retry(ctx, task, raw, p.retryDelay)
	if err != nil {
		logger.Warn("retry scheduling failed", zap.Error(err))
		return
	}
	logger.Warn("task will retry",
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", p.retryDelay),
		zap.Error(runErr))
}
