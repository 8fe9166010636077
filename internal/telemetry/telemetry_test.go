package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/technospes/StrikeSync-Project/internal/config"
	"github.com/technospes/StrikeSync-Project/internal/perf"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	s := NewHealthServer("127.0.0.1:0", nil, nil, nil)

	rec := get(t, s.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("/health = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "alive" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestReadinessFollowsPipeline(t *testing.T) {
	var ready atomic.Bool
	s := NewHealthServer("127.0.0.1:0", ready.Load, nil, nil)

	if rec := get(t, s.Handler(), "/readiness"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readiness before start = %d, want 503", rec.Code)
	}

	ready.Store(true)
	if rec := get(t, s.Handler(), "/readiness"); rec.Code != http.StatusOK {
		t.Errorf("/readiness while running = %d, want 200", rec.Code)
	}
}

func TestStatsSnapshot(t *testing.T) {
	stats := func() any {
		return map[string]int{"iterations": 42}
	}
	s := NewHealthServer("127.0.0.1:0", nil, stats, nil)

	rec := get(t, s.Handler(), "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("/stats = %d", rec.Code)
	}

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["iterations"] != 42 {
		t.Errorf("iterations = %d", body["iterations"])
	}
}

func TestViewerRoute(t *testing.T) {
	s := NewHealthServer("127.0.0.1:0", nil, nil, nil)
	if rec := get(t, s.Handler(), "/ws/poses"); rec.Code != http.StatusNotFound {
		t.Errorf("/ws/poses without viewer = %d, want 404", rec.Code)
	}

	var hit atomic.Bool
	viewer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Store(true)
		w.WriteHeader(http.StatusTeapot)
	})
	s = NewHealthServer("127.0.0.1:0", nil, nil, viewer)
	if rec := get(t, s.Handler(), "/ws/poses"); rec.Code != http.StatusTeapot || !hit.Load() {
		t.Errorf("/ws/poses with viewer = %d", rec.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := NewHealthServer("127.0.0.1:0", nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMQTTReportWithoutConnection(t *testing.T) {
	r := NewMQTTReporter("test", config.MQTTConfig{Broker: "127.0.0.1:1", Topic: "strikesync/health/test"})

	err := r.Report(perf.Report{AvgFPS: 25, Health: perf.TargetMet})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Report() = %v, want ErrNotConnected", err)
	}

	stats := r.Stats()
	if stats.Connected || stats.Errors != 1 || stats.Published != 0 {
		t.Errorf("stats = %+v", stats)
	}

	// Disconnect on a never-connected reporter is safe
	r.Disconnect()
}
