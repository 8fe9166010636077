package core

import (
	"github.com/technospes/StrikeSync-Project/internal/capture"
	"github.com/technospes/StrikeSync-Project/internal/handoff"
	"github.com/technospes/StrikeSync-Project/internal/inference"
	"github.com/technospes/StrikeSync-Project/internal/perf"
)

// LoopStats contains main loop counters
type LoopStats struct {
	Iterations      uint64 `json:"iterations"`
	EmptyPackets    uint64 `json:"empty_packets"`
	InferenceErrors uint64 `json:"inference_errors"`
	Published       uint64 `json:"published"`
	PublishErrors   uint64 `json:"publish_errors"`
}

// Stats is a point-in-time snapshot of the whole pipeline.
type Stats struct {
	Ready         bool                   `json:"ready"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Loop          LoopStats              `json:"loop"`
	Capture       capture.WorkerStats    `json:"capture"`
	Handoff       handoff.Stats          `json:"handoff"`
	HandoffDrop   float64                `json:"handoff_drop_rate"`
	Inference     *inference.WorkerStats `json:"inference,omitempty"`
	Perf          *perf.Report           `json:"perf,omitempty"`
}

// workerStatser is implemented by detectors that expose counters.
type workerStatser interface {
	Stats() inference.WorkerStats
}

// Stats returns a snapshot safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Ready: p.Ready(),
		Loop: LoopStats{
			Iterations:      p.iterations.Load(),
			EmptyPackets:    p.emptyPackets.Load(),
			InferenceErrors: p.inferenceErrors.Load(),
			Published:       p.published.Load(),
			PublishErrors:   p.publishErrors.Load(),
		},
		Capture: p.worker.Stats(),
		Handoff: p.deps.Buffer.Stats(),
	}
	s.HandoffDrop = s.Handoff.DropRate()

	if s.Ready {
		s.UptimeSeconds = int64(p.uptime().Seconds())
	}
	if ws, ok := p.deps.Detector.(workerStatser); ok {
		st := ws.Stats()
		s.Inference = &st
	}
	if r, ok := p.deps.Monitor.Last(); ok {
		s.Perf = &r
	}
	return s
}
