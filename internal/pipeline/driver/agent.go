package driver

import (
	"context"

	"github.com/acem-systems/agentd/internal/agent"
)

// AgentName is the registry name the scheduler fires.
const AgentName = "lead_generation"

// LeadGenAgent adapts the pipeline to the scheduler's agent contract: one
// run per fire, stats flattened into the metrics envelope.
type LeadGenAgent struct {
	pipeline *Pipeline
}

// NewAgent wraps a wired pipeline.
func NewAgent(p *Pipeline) *LeadGenAgent {
	return &LeadGenAgent{pipeline: p}
}

func (a *LeadGenAgent) Name() string { return AgentName }

// Run executes one full pipeline run. Stage failures are already folded
// into the stats, so the agent itself never errors on them.
func (a *LeadGenAgent) Run(ctx context.Context) (map[string]any, error) {
	stats := a.pipeline.Run(ctx)
	return map[string]any{
		"discovered":       stats.Discovered,
		"enriched":         stats.Enriched,
		"with_email":       stats.WithEmail,
		"ai_analyzed":      stats.AIAnalyzed,
		"items_processed":  stats.Sent,
		"outreach_sent":    stats.OutreachSent,
		"duration_seconds": stats.DurationSeconds,
		"errors_count":     len(stats.Errors),
	}, nil
}

var _ agent.Agent = (*LeadGenAgent)(nil)
