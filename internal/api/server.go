// Package api exposes the HTTP surface: the agent ingest endpoint, the
// dashboard query and aggregation endpoints, and the operational endpoints
// (health, readiness, metrics). All routes are thin marshalling over the
// engine; both the HTTP and websocket transports funnel through the same
// Ingest path.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lenko-d/workforce-monitoring-agent/internal/config"
	"github.com/lenko-d/workforce-monitoring-agent/internal/engine"
	"github.com/lenko-d/workforce-monitoring-agent/internal/observability"
	"github.com/lenko-d/workforce-monitoring-agent/internal/telemetry"
)

// Default result limits per query kind.
const (
	defaultActivityLimit = 100
	defaultDLPLimit      = 50
	defaultAlertLimit    = 50
	defaultPatternLimit  = 50
	defaultUsageLimit    = 10
	defaultTrendDays     = 7
)

// IngestStats tracks the agent ingest endpoint, mirrored in /api/stats.
type IngestStats struct {
	EventsReceived int64     `json:"events_received"`
	EventsRejected int64     `json:"events_rejected"`
	BytesReceived  int64     `json:"bytes_received"`
	LastEventAt    time.Time `json:"last_event_at"`
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	engine    *engine.Engine
	ws        http.Handler
	ingestCfg config.IngestConfig
	metrics   *observability.Metrics
	gatherer  prometheus.Gatherer
	version   string
	logger    *zap.Logger

	mu    sync.RWMutex
	stats IngestStats
}

// New creates the API server. ws, metrics, and gatherer may be nil; the
// corresponding routes and instrumentation are then omitted.
func New(eng *engine.Engine, ws http.Handler, ingestCfg config.IngestConfig, metrics *observability.Metrics, gatherer prometheus.Gatherer, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ingestCfg.MaxBodyBytes <= 0 {
		ingestCfg.MaxBodyBytes = 1024 * 1024
	}
	return &Server{
		engine:    eng,
		ws:        ws,
		ingestCfg: ingestCfg,
		metrics:   metrics,
		gatherer:  gatherer,
		version:   version,
		logger:    logger,
	}
}

// Router builds the chi router. ingestMiddleware (e.g. the rate limiter)
// wraps only the agent ingest endpoint.
func (s *Server) Router(requestTimeout time.Duration, ingestMiddleware ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The websocket route stays outside the request timeout: connections
	// are long-lived by design.
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	timeout := func(r chi.Router) {
		if requestTimeout > 0 {
			r.Use(middleware.Timeout(requestTimeout))
		}
		if s.metrics != nil {
			r.Use(s.instrument)
		}
	}

	r.Group(func(r chi.Router) {
		timeout(r)
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/latest", s.handleLatestVersion)
		if s.gatherer != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	r.Group(func(r chi.Router) {
		timeout(r)
		r.Use(ingestMiddleware...)
		r.Post("/agent_data", s.handleAgentData)
	})

	r.Route("/api", func(r chi.Router) {
		timeout(r)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/activities", s.handleActivities)
		r.Get("/dlp-events", s.handleDLPEvents)
		r.Get("/productivity", s.handleProductivity)
		r.Get("/risk-analysis", s.handleRiskAnalysis)
		r.Get("/application-usage", s.handleApplicationUsage)
		r.Get("/activity-trends", s.handleActivityTrends)
		r.Get("/alerts", s.handleAlerts)
		r.Post("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
		r.Get("/behavior-patterns", s.handleBehaviorPatterns)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// instrument records per-route request counts and latency. The route label is
// the chi pattern, not the raw path, to keep cardinality bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Stats returns a copy of the current ingest statistics.
func (s *Server) Stats() IngestStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"stores": s.engine.Sizes(),
	})
}

// handleAgentData accepts a single telemetry payload from an agent. The
// response is always an ack for recognized and unrecognized kinds alike;
// only transport-level malformation is rejected.
func (s *Server) handleAgentData(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		s.countRejected()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing agent token"})
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		s.countRejected()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Content-Type must be application/json"})
		return
	}

	var raw map[string]any
	body := &countingReader{r: http.MaxBytesReader(w, r.Body, s.ingestCfg.MaxBodyBytes)}
	dec := json.NewDecoder(body)
	if err := dec.Decode(&raw); err != nil || raw == nil {
		s.countRejected()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON data provided"})
		return
	}

	ack := s.engine.Ingest(raw)

	s.mu.Lock()
	s.stats.EventsReceived++
	s.stats.BytesReceived += body.n
	s.stats.LastEventAt = time.Now()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ack)
}

// validateToken checks the shared agent token when one is configured. With
// no token in the environment the endpoint is open, matching the original
// deployment model of a trusted network segment.
func (s *Server) validateToken(r *http.Request) bool {
	if s.ingestCfg.TokenEnv == "" {
		return true
	}
	expected := os.Getenv(s.ingestCfg.TokenEnv)
	if expected == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == expected
}

func (s *Server) countRejected() {
	s.mu.Lock()
	s.stats.EventsRejected++
	s.mu.Unlock()
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.DashboardData())
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultActivityLimit)
	user := r.URL.Query().Get("user")
	writeJSON(w, http.StatusOK, s.engine.RecentActivities(user, limit))
}

func (s *Server) handleDLPEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultDLPLimit)
	writeJSON(w, http.StatusOK, s.engine.RecentDLPEvents(limit))
}

func (s *Server) handleProductivity(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	days := queryInt(r, "days", defaultTrendDays)
	writeJSON(w, http.StatusOK, s.engine.ProductivityWindow(user, days))
}

func (s *Server) handleRiskAnalysis(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	writeJSON(w, http.StatusOK, s.engine.RiskAnalysisData(user))
}

func (s *Server) handleApplicationUsage(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	limit := queryInt(r, "limit", defaultUsageLimit)
	usage := s.engine.ApplicationUsage(user, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"application_usage":  usage,
		"total_applications": len(usage),
	})
}

func (s *Server) handleActivityTrends(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	days := queryInt(r, "days", defaultTrendDays)
	writeJSON(w, http.StatusOK, s.engine.ActivityTrend(user, days))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultAlertLimit)
	user := r.URL.Query().Get("user")
	writeJSON(w, http.StatusOK, s.engine.RecentAlerts(user, limit))
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid alert id"})
		return
	}
	if !s.engine.AcknowledgeAlert(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleBehaviorPatterns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPatternLimit)
	user := r.URL.Query().Get("user")
	patternType := r.URL.Query().Get("pattern_type")
	writeJSON(w, http.StatusOK, s.engine.RecentPatterns(user, patternType, limit))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ingest": s.Stats(),
		"stores": s.engine.Sizes(),
	})
}

// handleLatestVersion serves the upgrade manifest the agent's upgrade
// manager polls.
func (s *Server) handleLatestVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"major":         1,
		"minor":         0,
		"patch":         0,
		"build":         "stable",
		"release_date":  telemetry.FormatTimestamp(time.Now()),
		"download_url":  "https://example.com/download/workforce-agent-1.0.0.tar.gz",
		"checksum":      "dummy_checksum_for_demo",
		"release_notes": "Latest stable release of Workforce Monitoring Agent",
		"file_size":     1024000,
		"signature":     "dummy_signature_for_demo",
	})
}

// countingReader tracks bytes actually read; ContentLength is -1 for
// chunked submissions.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
