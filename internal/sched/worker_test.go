package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/agent"
)

type fakeAgent struct {
	name string
	run  func(ctx context.Context) (map[string]any, error)
}

func (a fakeAgent) Name() string { return a.name }

func (a fakeAgent) Run(ctx context.Context) (map[string]any, error) { return a.run(ctx) }

type nopPusher struct{}

func (nopPusher) Push(ctx context.Context, env agent.Envelope) error { return nil }

func newTestPool(t *testing.T, reg *agent.Registry) (*Pool, *Queue) {
	t.Helper()
	q, _ := newTestQueue(t)
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return NewPool(q, reg, nopPusher{}, cfg, zap.NewNop()), q
}

func dequeueForTest(t *testing.T, q *Queue) (Task, string) {
	t.Helper()
	task, raw, err := q.Dequeue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	return task, raw
}

func TestHandleSuccessAcks(t *testing.T) {
	reg := agent.NewRegistry()
	ran := false
	reg.Register("ok", func() (agent.Agent, error) {
		return fakeAgent{name: "ok", run: func(ctx context.Context) (map[string]any, error) {
			ran = true
			return map[string]any{"n": 1}, nil
		}}, nil
	})
	pool, q := newTestPool(t, reg)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "e", "ok"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, raw := dequeueForTest(t, q)
	pool.handle(ctx, task, raw, zap.NewNop())

	if !ran {
		t.Fatal("agent body never ran")
	}
	if n, _ := q.PendingLen(ctx); n != 0 {
		t.Errorf("pending = %d after success, want 0", n)
	}
}

func TestHandleRetriesUntilExhausted(t *testing.T) {
	reg := agent.NewRegistry()
	calls := 0
	reg.Register("flaky", func() (agent.Agent, error) {
		return fakeAgent{name: "flaky", run: func(ctx context.Context) (map[string]any, error) {
			calls++
			return nil, errors.New("boom")
		}}, nil
	})
	pool, q := newTestPool(t, reg)
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, "e", "flaky")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Drive attempt 0 plus maxRetries retries by hand.
	for attempt := 0; ; attempt++ {
		task, raw := dequeueForTest(t, q)
		if task.ID != enq.ID {
			t.Fatalf("task identity changed on retry: %q", task.ID)
		}
		if task.Attempt != attempt {
			t.Fatalf("attempt = %d, want %d", task.Attempt, attempt)
		}
		pool.handle(ctx, task, raw, zap.NewNop())

		if _, err := q.PromoteDelayed(ctx, time.Now().Add(time.Second)); err != nil {
			t.Fatalf("PromoteDelayed: %v", err)
		}
		n, _ := q.PendingLen(ctx)
		if n == 0 {
			if attempt != pool.maxRetries {
				t.Fatalf("task gave up after attempt %d, want %d", attempt, pool.maxRetries)
			}
			break
		}
	}

	if calls != pool.maxRetries+1 {
		t.Errorf("agent ran %d times, want %d", calls, pool.maxRetries+1)
	}
}

func TestHandleUnknownAgentFailsWithoutRetry(t *testing.T) {
	pool, q := newTestPool(t, agent.NewRegistry())
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "e", "ghost"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, raw := dequeueForTest(t, q)
	pool.handle(ctx, task, raw, zap.NewNop())

	if _, err := q.PromoteDelayed(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("PromoteDelayed: %v", err)
	}
	if n, _ := q.PendingLen(ctx); n != 0 {
		t.Errorf("unknown agent was retried, pending = %d", n)
	}
}

func TestPerAgentLockRequeuesOverlap(t *testing.T) {
	reg := agent.NewRegistry()
	release := make(chan struct{})
	started := make(chan struct{})
	reg.Register("slow", func() (agent.Agent, error) {
		return fakeAgent{name: "slow", run: func(ctx context.Context) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{}, nil
		}}, nil
	})
	pool, q := newTestPool(t, reg)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "e", "slow"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, "e", "slow"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first, firstRaw := dequeueForTest(t, q)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.handle(ctx, first, firstRaw, zap.NewNop())
	}()
	<-started

	// Second task for the same agent must be requeued, not run.
	second, secondRaw := dequeueForTest(t, q)
	pool.handle(ctx, second, secondRaw, zap.NewNop())
	close(release)
	wg.Wait()

	if _, err := q.PromoteDelayed(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("PromoteDelayed: %v", err)
	}
	n, _ := q.PendingLen(ctx)
	if n != 1 {
		t.Fatalf("pending = %d, want the overlapping task requeued", n)
	}
	requeued, _ := dequeueForTest(t, q)
	if requeued.Attempt != 0 {
		t.Errorf("lock contention counted as an attempt: %d", requeued.Attempt)
	}
}

func TestBeatTickEnqueuesDueEntries(t *testing.T) {
	q, _ := newTestQueue(t)
	cfg := DefaultConfig()
	cfg.Entries = []Entry{{Name: "e", AgentName: "a", Trigger: "1h"}}
	if err := cfg.resolveTriggers(); err != nil {
		t.Fatalf("resolveTriggers: %v", err)
	}

	beat := NewBeat(q, cfg, zap.NewNop())
	now := time.Now()
	beat.nextFire = []time.Time{now.Add(-time.Second)}

	beat.tick(context.Background(), now)
	if n, _ := q.PendingLen(context.Background()); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	if !beat.nextFire[0].After(now) {
		t.Errorf("nextFire not advanced: %v", beat.nextFire[0])
	}

	// Not due again.
	beat.tick(context.Background(), now.Add(time.Second))
	if n, _ := q.PendingLen(context.Background()); n != 1 {
		t.Errorf("tick double-fired, pending = %d", n)
	}
}

func TestConfigTriggerValidation(t *testing.T) {
	cases := []struct {
		trigger string
		ok      bool
	}{
		{"0 9 * * 1-5", true},
		{"30m", true},
		{"@hourly", true},
		{"", false},
		{"banana", false},
		{"-5m", false},
	}
	for _, tc := range cases {
		_, err := parseTrigger(tc.trigger)
		if tc.ok && err != nil {
			t.Errorf("parseTrigger(%q): %v", tc.trigger, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("parseTrigger(%q): expected error", tc.trigger)
		}
	}
}
