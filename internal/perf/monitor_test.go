package perf

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Unix(1700000000, 0)

func cfg() Config {
	return Config{Window: 10, Interval: 2 * time.Second, TargetFPS: 20, LowFPS: 15}
}

func TestAvgFPSEmpty(t *testing.T) {
	m := New(cfg(), t0)
	if fps := m.AvgFPS(); fps != 0 {
		t.Errorf("AvgFPS() on empty window = %f", fps)
	}
}

func TestAvgFPS(t *testing.T) {
	m := New(cfg(), t0)
	for i := 0; i < 4; i++ {
		m.Observe(50*time.Millisecond, 1)
	}
	if fps := m.AvgFPS(); math.Abs(fps-20) > 1e-9 {
		t.Errorf("AvgFPS() = %f, want 20", fps)
	}
}

// TestWindowBounded validates that the window never exceeds capacity and
// that the oldest samples are evicted first.
func TestWindowBounded(t *testing.T) {
	m := New(Config{Window: 3, Interval: time.Second, TargetFPS: 20}, t0)

	// Three slow samples, then three fast ones that must fully replace them
	for i := 0; i < 3; i++ {
		m.Observe(time.Second, 0)
	}
	for i := 0; i < 3; i++ {
		m.Observe(10*time.Millisecond, 0)
		if m.Len() > 3 {
			t.Fatalf("window grew to %d", m.Len())
		}
	}

	if fps := m.AvgFPS(); math.Abs(fps-100) > 1e-6 {
		t.Errorf("AvgFPS() = %f, want 100 after eviction", fps)
	}
}

func TestMaybeReportInterval(t *testing.T) {
	m := New(cfg(), t0)
	m.Observe(40*time.Millisecond, 2)

	if _, ok := m.MaybeReport(t0.Add(1999 * time.Millisecond)); ok {
		t.Fatal("report before interval elapsed")
	}

	r, ok := m.MaybeReport(t0.Add(2 * time.Second))
	if !ok {
		t.Fatal("no report after interval")
	}
	if r.Health != TargetMet || r.Players != 2 || r.Iterations != 1 || r.Advisory {
		t.Errorf("report = %+v", r)
	}

	// Next report is one interval after the previous, iterations reset
	if _, ok := m.MaybeReport(t0.Add(3 * time.Second)); ok {
		t.Error("second report came too early")
	}
	r, ok = m.MaybeReport(t0.Add(4 * time.Second))
	if !ok || r.Iterations != 0 {
		t.Errorf("second report = %+v, %v", r, ok)
	}

	last, ok := m.Last()
	if !ok || !last.At.Equal(t0.Add(4*time.Second)) {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestHealthClassification(t *testing.T) {
	testCases := []struct {
		name     string
		sample   time.Duration
		health   Health
		advisory bool
	}{
		{"fast", 25 * time.Millisecond, TargetMet, false},         // 40 fps
		{"exact_target", 50 * time.Millisecond, TargetMet, false}, // 20 fps
		{"below_target", 60 * time.Millisecond, BelowTarget, false},
		{"low", 100 * time.Millisecond, BelowTarget, true}, // 10 fps
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(cfg(), t0)
			for i := 0; i < 10; i++ {
				m.Observe(tc.sample, 1)
			}
			r, _ := m.MaybeReport(t0.Add(time.Hour))
			if r.Health != tc.health || r.Advisory != tc.advisory {
				t.Errorf("fps %.1f: health=%s advisory=%v", r.AvgFPS, r.Health, r.Advisory)
			}
		})
	}
}

func TestEmptyWindowReport(t *testing.T) {
	m := New(cfg(), t0)
	r, ok := m.MaybeReport(t0.Add(time.Minute))
	if !ok {
		t.Fatal("expected report")
	}
	if r.AvgFPS != 0 || r.Health != BelowTarget {
		t.Errorf("empty report = %+v", r)
	}
	if _, ok := New(cfg(), t0).Last(); ok {
		t.Error("Last() before any report should be false")
	}
}
