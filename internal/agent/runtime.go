package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const pushTimeout = 10 * time.Second

// Envelope is the metrics payload pushed to the collector after every run.
type Envelope struct {
	AgentName  string         `json:"agent_name"`
	Metrics    map[string]any `json:"metrics"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	Error      *string        `json:"error"`
}

// Pusher delivers a metrics envelope to the collector.
type Pusher interface {
	Push(ctx context.Context, env Envelope) error
}

// CollectorClient is the HTTP Pusher used in production.
type CollectorClient struct {
	baseURL string
	client  *http.Client
}

// NewCollectorClient creates a client for the collector API. baseURL
// defaults to http://localhost:8000.
func NewCollectorClient(baseURL string) *CollectorClient {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &CollectorClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: pushTimeout},
	}
}

// Push POSTs the envelope to the collector's ingest endpoint.
func (c *CollectorClient) Push(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/metrics", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("collector returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// Execute runs one agent under the runtime contract: record started_at,
// invoke the body, and push the metrics envelope to the collector in all
// exit paths, including panics. The body error is returned to the caller so
// the scheduler can retry; a failed push is logged and swallowed so it never
// masks the run outcome. Failed runs push an empty metrics map.
func Execute(ctx context.Context, a Agent, pusher Pusher, logger *zap.Logger) (metrics map[string]any, err error) {
	startedAt := time.Now().UTC()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", a.Name(), r)
		}

		finishedAt := time.Now().UTC()
		env := Envelope{
			AgentName:  a.Name(),
			Metrics:    metrics,
			StartedAt:  startedAt.Format(time.RFC3339Nano),
			FinishedAt: finishedAt.Format(time.RFC3339Nano),
		}
		if err != nil {
			msg := err.Error()
			env.Error = &msg
			env.Metrics = map[string]any{}
		}
		if env.Metrics == nil {
			env.Metrics = map[string]any{}
		}

		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if pushErr := pusher.Push(pushCtx, env); pushErr != nil {
			logger.Warn("metrics push failed",
				zap.String("agent", a.Name()),
				zap.Error(pushErr))
		}
	}()

	logger.Info("agent run starting", zap.String("agent", a.Name()))
	metrics, err = a.Run(ctx)
	if err != nil {
		logger.Error("agent run failed", zap.String("agent", a.Name()), zap.Error(err))
		return nil, err
	}
	logger.Info("agent run finished", zap.String("agent", a.Name()), zap.Int("metrics", len(metrics)))
	return metrics, nil
}
