package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// Server is the ACEM sync API over the pipeline store.
type Server struct {
	cfg      config.Config
	reporter *Reporter
	logger   *zap.Logger

	// RunNow executes one synchronous pipeline run for POST /run-now.
	RunNow func(ctx context.Context) (store.RunStats, error)

	now func() time.Time
}

// NewServer builds the facade server.
func NewServer(cfg config.Config, st *store.Store, runNow func(ctx context.Context) (store.RunStats, error), logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		reporter: NewReporter(cfg, st),
		logger:   logger,
		RunNow:   runNow,
		now:      time.Now,
	}
}

// Routes registers the facade handlers on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/acem/agent-status", s.handleAgentStatus)
	mux.HandleFunc("GET /api/acem/agent-events", s.handleAgentEvents)
	mux.HandleFunc("POST /api/acem/run-now", s.handleRunNow)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "acem-lead-pipeline-api",
		"schedule": map[string]any{
			"tz":              s.cfg.Timezone,
			"time":            s.cfg.ScheduleTime,
			"days":            s.cfg.ScheduleDays,
			"run_on_startup":  s.cfg.RunOnStartup,
			"catchup_on_boot": s.cfg.CatchupOnBoot,
		},
	})
}

// parseUpdatedAfter accepts RFC 3339 with or without the trailing Z and an
// empty value (epoch).
func parseUpdatedAfter(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid updated_after %q", raw)
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseUpdatedAfter(r.URL.Query().Get("updated_after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.reporter.StatusRows(cursor)
	if err != nil {
		s.logger.Error("status rows failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build status rows")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseUpdatedAfter(r.URL.Query().Get("updated_after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.reporter.EventRows(cursor)
	if err != nil {
		s.logger.Error("event rows failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build event rows")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	if s.RunNow == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not wired")
		return
	}
	started := s.now().UTC()
	stats, err := s.RunNow(r.Context())
	finished := s.now().UTC()
	if err != nil {
		s.logger.Error("run-now failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Pipeline execution failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"started_at":  isoZ(started),
		"finished_at": isoZ(finished),
		"errors":      stats.Errors,
	})
}
