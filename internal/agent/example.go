package agent

import (
	"context"
	"time"
)

// ExampleAgent is a trivial agent used to verify the scheduler and
// collector wiring end to end.
type ExampleAgent struct{}

func (ExampleAgent) Name() string { return "example" }

func (ExampleAgent) Run(ctx context.Context) (map[string]any, error) {
	start := time.Now()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return map[string]any{
		"items_processed":  1,
		"duration_seconds": time.Since(start).Seconds(),
	}, nil
}
