// Package perf tracks pipeline throughput over a rolling window of
// iteration durations and classifies it against a target frame rate.
package perf

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Health classifies the rolling frame rate against the target.
type Health string

const (
	TargetMet   Health = "target met"
	BelowTarget Health = "below target"
)

// Config contains monitor settings
type Config struct {
	Window    int           // samples kept (default 10)
	Interval  time.Duration // report period (default 2s)
	TargetFPS float64       // healthy at or above this rate
	LowFPS    float64       // advisory below this rate (0 disables)
}

// Report is one periodic throughput summary.
type Report struct {
	At         time.Time `json:"at"`
	AvgFPS     float64   `json:"avg_fps"`
	Health     Health    `json:"health"`
	Players    int       `json:"players"`    // player count of the latest packet
	Iterations uint64    `json:"iterations"` // processed frames since the previous report
	Samples    int       `json:"samples"`
	Advisory   bool      `json:"advisory"` // rate is below the low-FPS threshold
}

// Monitor keeps a fixed-capacity ring of per-iteration durations.
// It is observational only: nothing it computes feeds back into the pipeline.
//
// Observe and MaybeReport are called from the pipeline goroutine; Last may
// be called concurrently from telemetry.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	ring  []time.Duration
	next  int
	count int

	players    int
	iterations uint64
	lastReport time.Time
	last       *Report
}

// New creates a Monitor whose first report is due one interval after start.
func New(cfg Config, start time.Time) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Monitor{
		cfg:        cfg,
		ring:       make([]time.Duration, cfg.Window),
		lastReport: start,
	}
}

// Observe records one processed iteration. The oldest sample is evicted once
// the window is full.
func (m *Monitor) Observe(d time.Duration, players int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = d
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	m.players = players
	m.iterations++
}

// Len returns the number of samples currently in the window.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// AvgFPS returns window size divided by the summed durations, or 0 when the
// window is empty.
func (m *Monitor) AvgFPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgFPS()
}

func (m *Monitor) avgFPS() float64 {
	if m.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < m.count; i++ {
		sum += m.ring[i]
	}
	if sum <= 0 {
		return 0
	}
	return float64(m.count) / sum.Seconds()
}

// MaybeReport returns a Report when at least one interval has passed since
// the previous one.
func (m *Monitor) MaybeReport(now time.Time) (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastReport) < m.cfg.Interval {
		return Report{}, false
	}

	fps := m.avgFPS()
	r := Report{
		At:         now,
		AvgFPS:     fps,
		Health:     BelowTarget,
		Players:    m.players,
		Iterations: m.iterations,
		Samples:    m.count,
		Advisory:   m.cfg.LowFPS > 0 && fps < m.cfg.LowFPS,
	}
	if fps >= m.cfg.TargetFPS {
		r.Health = TargetMet
	}

	m.iterations = 0
	m.lastReport = now
	m.last = &r
	return r, true
}

// Last returns the most recent report, if any.
func (m *Monitor) Last() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Report{}, false
	}
	return *m.last, true
}

// Log writes r with slog.
func Log(r Report) {
	slog.Info("perf: throughput",
		"fps", fmt.Sprintf("%.1f", r.AvgFPS),
		"players", r.Players,
		"health", string(r.Health),
		"iterations", r.Iterations,
	)
	if r.Advisory {
		slog.Warn("perf: frame rate low",
			"fps", fmt.Sprintf("%.1f", r.AvgFPS),
			"hint", "close other applications, improve lighting, or raise frame_skip",
		)
	}
}
