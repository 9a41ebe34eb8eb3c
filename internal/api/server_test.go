package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lenko-d/workforce-monitoring-agent/internal/config"
	"github.com/lenko-d/workforce-monitoring-agent/internal/engine"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.DefaultConfig(), nil, nil, nil)
	srv := New(eng, nil, config.IngestConfig{TokenEnv: "TEST_AGENT_TOKEN"}, nil, nil, "test", nil)
	return srv, eng
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestAgentDataIngest(t *testing.T) {
	srv, eng := newTestServer(t)
	router := srv.Router(10 * time.Second)

	rec := doJSON(t, router, http.MethodPost, "/agent_data",
		`{"type":"activity","user":"alice","timestamp":"2024-05-01T10:00:00","activity_type":"window_focus"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var ack engine.Ack
	decodeBody(t, rec, &ack)
	if ack.Status != "success" || ack.Message != "Data processed successfully" {
		t.Errorf("ack = %+v", ack)
	}
	if got := eng.RecentActivities("", 0); len(got) != 1 || got[0].User != "alice" {
		t.Errorf("stored activities = %+v", got)
	}
	if stats := srv.Stats(); stats.EventsReceived != 1 || stats.EventsRejected != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAgentDataInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)

	rec := doJSON(t, router, http.MethodPost, "/agent_data", `{"type":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["error"] != "invalid JSON data provided" {
		t.Errorf("error = %q", resp["error"])
	}
	if stats := srv.Stats(); stats.EventsRejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAgentDataCountsChunkedBodies(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)

	// A reader of unknown length gives the request ContentLength -1, as a
	// chunked upload does; bytes must be counted as actually read.
	payload := `{"type":"activity","user":"a","timestamp":"2024-05-01T10:00:00"}`
	req := httptest.NewRequest(http.MethodPost, "/agent_data", struct{ io.Reader }{strings.NewReader(payload)})
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := srv.Stats().BytesReceived; got != int64(len(payload)) {
		t.Errorf("BytesReceived = %d, want %d", got, len(payload))
	}
}

func TestAgentDataWrongContentType(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)

	req := httptest.NewRequest(http.MethodPost, "/agent_data", strings.NewReader(`{"type":"activity"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAgentDataTokenAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)
	t.Setenv("TEST_AGENT_TOKEN", "s3cret")

	// Missing token.
	rec := doJSON(t, router, http.MethodPost, "/agent_data", `{"type":"activity"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodPost, "/agent_data", strings.NewReader(`{"type":"activity"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodPost, "/agent_data", strings.NewReader(`{"type":"activity","user":"a","timestamp":"2024-05-01T10:00:00"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct token: status = %d, want 200", rec.Code)
	}
}

func TestAgentDataOpenWithoutConfiguredToken(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)
	t.Setenv("TEST_AGENT_TOKEN", "")

	rec := doJSON(t, router, http.MethodPost, "/agent_data", `{"type":"activity","user":"a"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with no token configured", rec.Code)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	router := srv.Router(10 * time.Second)

	eng.Ingest(map[string]any{"type": "activity", "user": "alice", "timestamp": "2024-05-01T10:00:00"})
	eng.Ingest(map[string]any{"type": "activity", "user": "bob", "timestamp": "2024-05-01T10:01:00"})

	rec := doJSON(t, router, http.MethodGet, "/api/dashboard", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var d engine.Dashboard
	decodeBody(t, rec, &d)
	if d.TotalUsers != 2 {
		t.Errorf("dashboard = %+v", d)
	}
}

func TestActivitiesEndpointFilters(t *testing.T) {
	srv, eng := newTestServer(t)
	router := srv.Router(10 * time.Second)

	for i := 0; i < 5; i++ {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		eng.Ingest(map[string]any{
			"type":      "activity",
			"user":      user,
			"timestamp": fmt.Sprintf("2024-05-01T10:00:%02d", i),
		})
	}

	var activities []map[string]any

	rec := doJSON(t, router, http.MethodGet, "/api/activities?user=alice", "")
	decodeBody(t, rec, &activities)
	if len(activities) != 3 {
		t.Errorf("alice activities = %d, want 3", len(activities))
	}

	rec = doJSON(t, router, http.MethodGet, "/api/activities?limit=2", "")
	decodeBody(t, rec, &activities)
	if len(activities) != 2 {
		t.Errorf("limited activities = %d, want 2", len(activities))
	}
	// Most recent, in insertion order.
	if activities[1]["timestamp"] != "2024-05-01T10:00:04" {
		t.Errorf("last activity = %v", activities[1])
	}

	// A bogus limit falls back to the default rather than erroring.
	rec = doJSON(t, router, http.MethodGet, "/api/activities?limit=banana", "")
	if rec.Code != http.StatusOK {
		t.Errorf("bogus limit: status = %d", rec.Code)
	}
}

func TestAlertAcknowledgeEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	router := srv.Router(10 * time.Second)

	eng.Ingest(map[string]any{"type": "dlp", "blocked": true, "user": "bob"})
	alerts := eng.RecentAlerts("", 0)
	if len(alerts) != 1 {
		t.Fatalf("seeding alert failed: %+v", alerts)
	}

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/alerts/%d/acknowledge", alerts[0].ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !eng.RecentAlerts("", 0)[0].Acknowledged {
		t.Error("alert not acknowledged")
	}

	rec = doJSON(t, router, http.MethodPost, "/api/alerts/9999/acknowledge", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing alert: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/alerts/abc/acknowledge", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestBehaviorPatternsEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	router := srv.Router(10 * time.Second)

	eng.Ingest(map[string]any{
		"type": "behavior_patterns",
		"user": "erin",
		"patterns": []any{
			map[string]any{"pattern_type": "late_login", "confidence_score": 0.5},
			map[string]any{"pattern_type": "bulk_copy", "confidence_score": 0.9},
			map[string]any{"pattern_type": "late_login", "confidence_score": 0.2},
		},
	})

	rec := doJSON(t, router, http.MethodGet, "/api/behavior-patterns?pattern_type=late_login", "")
	var res engine.PatternsResult
	decodeBody(t, rec, &res)
	if res.TotalCount != 2 || len(res.Patterns) != 2 {
		t.Errorf("patterns result = %+v", res)
	}
	for _, p := range res.Patterns {
		if p.PatternType != "late_login" {
			t.Errorf("unexpected pattern %+v", p)
		}
	}
}

func TestApplicationUsageEndpointShape(t *testing.T) {
	srv, eng := newTestServer(t)
	router := srv.Router(10 * time.Second)

	eng.Ingest(map[string]any{"type": "time", "user": "a", "application": "vscode", "duration": 120.0})
	eng.Ingest(map[string]any{"type": "time", "user": "a", "application": "youtube", "duration": 60.0})

	rec := doJSON(t, router, http.MethodGet, "/api/application-usage", "")
	var resp struct {
		ApplicationUsage []struct {
			Application        string  `json:"application"`
			TotalTimeSeconds   float64 `json:"total_time_seconds"`
			TotalTimeFormatted string  `json:"total_time_formatted"`
			IsProductive       bool    `json:"is_productive"`
		} `json:"application_usage"`
		TotalApplications int `json:"total_applications"`
	}
	decodeBody(t, rec, &resp)

	if resp.TotalApplications != 2 || len(resp.ApplicationUsage) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	top := resp.ApplicationUsage[0]
	if top.Application != "vscode" || !top.IsProductive || top.TotalTimeFormatted != "2m 0s" {
		t.Errorf("top usage = %+v", top)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)

	doJSON(t, router, http.MethodPost, "/agent_data", `{"type":"activity","user":"a"}`)
	doJSON(t, router, http.MethodPost, "/agent_data", `not json`)

	rec := doJSON(t, router, http.MethodGet, "/api/stats", "")
	var resp struct {
		Ingest IngestStats    `json:"ingest"`
		Stores map[string]int `json:"stores"`
	}
	decodeBody(t, rec, &resp)
	if resp.Ingest.EventsReceived != 1 || resp.Ingest.EventsRejected != 1 {
		t.Errorf("ingest stats = %+v", resp.Ingest)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)

	rec := doJSON(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "healthy" || health["version"] != "test" {
		t.Errorf("health = %v", health)
	}

	rec = doJSON(t, router, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}

func TestLatestVersionManifest(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router(10 * time.Second)

	rec := doJSON(t, router, http.MethodGet, "/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var manifest map[string]any
	decodeBody(t, rec, &manifest)
	if manifest["major"] != 1.0 || manifest["build"] != "stable" {
		t.Errorf("manifest = %v", manifest)
	}
	if manifest["download_url"] == "" {
		t.Error("manifest missing download_url")
	}
}

func TestRiskAnalysisEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	router := srv.Router(10 * time.Second)

	eng.Ingest(map[string]any{"type": "anomaly", "user": "alice", "confidence_score": 0.9})

	rec := doJSON(t, router, http.MethodGet, "/api/risk-analysis?user=alice", "")
	var ra engine.RiskAnalysis
	decodeBody(t, rec, &ra)
	if ra.RiskDistribution.High != 1 {
		t.Errorf("risk analysis = %+v", ra)
	}
	if len(ra.RecentAnomalies) != 1 {
		t.Errorf("recent anomalies = %d, want 1", len(ra.RecentAnomalies))
	}
}
