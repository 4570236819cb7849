package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIError is the JSON error body returned by all handlers.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Envelope is the metrics payload agents push after each run.
type Envelope struct {
	AgentName  string         `json:"agent_name"`
	Metrics    map[string]any `json:"metrics"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	Error      *string        `json:"error"`
}

// Server exposes the collector HTTP API.
type Server struct {
	store   *Store
	logger  *zap.Logger
	metrics *serverMetrics
}

type serverMetrics struct {
	registry      *prometheus.Registry
	ingestTotal   *prometheus.CounterVec
	queryTotal    prometheus.Counter
	ingestSeconds prometheus.Histogram
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_collector_ingest_total",
			Help: "Metric envelopes ingested, by derived run status.",
		}, []string{"status"}),
		queryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentd_collector_query_total",
			Help: "Run list queries served.",
		}),
		ingestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentd_collector_ingest_duration_seconds",
			Help:    "Ingest handler latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.ingestTotal, m.queryTotal, m.ingestSeconds)
	return m
}

// NewServer creates the collector HTTP server.
func NewServer(store *Store, logger *zap.Logger) *Server {
	return &Server{store: store, logger: logger, metrics: newServerMetrics()}
}

// Routes registers all collector handlers on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /metrics", s.handleIngest)
	mux.HandleFunc("GET /metrics", s.handleList)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /internal/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { s.metrics.ingestSeconds.Observe(time.Since(start).Seconds()) }()

	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_body", "invalid JSON body")
		return
	}

	agentName := strings.TrimSpace(env.AgentName)
	if agentName == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_agent_name", "agent_name must be non-empty")
		return
	}
	startedAt, err := parseEnvelopeTime(env.StartedAt)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_timestamp", "started_at must be RFC 3339")
		return
	}
	finishedAt, err := parseEnvelopeTime(env.FinishedAt)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_timestamp", "finished_at must be RFC 3339")
		return
	}
	if finishedAt.Before(startedAt) {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_timestamp", "finished_at must not precede started_at")
		return
	}

	errMsg := ""
	if env.Error != nil {
		errMsg = *env.Error
	}

	runID, err := s.store.IngestRun(r.Context(), agentName, startedAt, finishedAt, errMsg, env.Metrics)
	if err != nil {
		s.logger.Error("ingest failed", zap.String("agent", agentName), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "store_error", "failed to record run")
		return
	}

	status := StatusSuccess
	if errMsg != "" {
		status = StatusFailed
	}
	s.metrics.ingestTotal.WithLabelValues(status).Inc()

	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":     runID,
		"agent_name": agentName,
		"status":     status,
	})
}

func parseEnvelopeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := RunQuery{AgentName: strings.TrimSpace(r.URL.Query().Get("agent_name"))}

	if v := r.URL.Query().Get("started_after"); v != "" {
		t, err := parseEnvelopeTime(v)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, "invalid_timestamp", "started_after must be RFC 3339")
			return
		}
		q.StartedAfter = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusUnprocessableEntity, "invalid_limit", "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), q)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "store_error", "failed to list runs")
		return
	}

	s.metrics.queryTotal.Inc()
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "store_unreachable", "store is unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
