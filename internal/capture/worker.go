package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

// ErrJoinTimeout is returned by Stop when the capture goroutine does not exit
// in time, typically because it is stuck in a blocking device read.
var ErrJoinTimeout = errors.New("capture: worker did not stop before timeout")

// FrameSink receives forwarded frames. handoff.Buffer satisfies it.
type FrameSink interface {
	Put(frame *types.Frame)
}

// WorkerConfig controls decimation and read-miss backoff.
type WorkerConfig struct {
	FrameSkip int           // forward every (FrameSkip+1)-th frame
	ReadRetry time.Duration // sleep after a failed read
}

// WorkerStats is a snapshot of capture counters.
type WorkerStats struct {
	FramesRead      uint64 `json:"frames_read"`
	ReadFailures    uint64 `json:"read_failures"`
	FramesForwarded uint64 `json:"frames_forwarded"`
	Running         bool   `json:"running"`
}

// Worker pulls frames from a Source on its own goroutine and forwards every
// (skip+1)-th one to a FrameSink. It never blocks on the consumer.
type Worker struct {
	src  Source
	sink FrameSink
	cfg  WorkerConfig

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	counter   uint64 // successful reads, drives decimation
	read      uint64
	failures  uint64
	forwarded uint64
	running   atomic.Bool
}

// NewWorker creates a capture worker. It does not touch the device until Start.
func NewWorker(src Source, sink FrameSink, cfg WorkerConfig) *Worker {
	if cfg.FrameSkip < 0 {
		cfg.FrameSkip = 0
	}
	if cfg.ReadRetry <= 0 {
		cfg.ReadRetry = time.Millisecond
	}
	return &Worker{src: src, sink: sink, cfg: cfg}
}

// Start launches the capture goroutine. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running.Store(true)

	go w.run(ctx)

	slog.Info("capture: worker started",
		"frame_skip", w.cfg.FrameSkip,
		"read_retry", w.cfg.ReadRetry,
	)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	skip := uint64(w.cfg.FrameSkip) + 1

	for {
		// Stop signal is checked once per iteration, never mid-read
		if ctx.Err() != nil {
			slog.Debug("capture: stop signal observed, exiting")
			return
		}

		frame, ok := w.src.Read()
		if !ok {
			atomic.AddUint64(&w.failures, 1)
			time.Sleep(w.cfg.ReadRetry)
			continue
		}
		atomic.AddUint64(&w.read, 1)

		w.counter++
		if w.counter%skip != 0 {
			continue
		}

		w.sink.Put(frame)
		atomic.AddUint64(&w.forwarded, 1)
	}
}

// Stop raises the stop signal and waits up to timeout for the goroutine to
// exit. On timeout the goroutine is abandoned and ErrJoinTimeout is returned.
// Stop on a worker that was never started returns nil.
func (w *Worker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		slog.Info("capture: worker stopped",
			"frames_read", atomic.LoadUint64(&w.read),
			"frames_forwarded", atomic.LoadUint64(&w.forwarded),
		)
		return nil
	case <-time.After(timeout):
		slog.Warn("capture: worker stop timeout, abandoning goroutine", "timeout", timeout)
		return ErrJoinTimeout
	}
}

// Stats returns the current capture counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		FramesRead:      atomic.LoadUint64(&w.read),
		ReadFailures:    atomic.LoadUint64(&w.failures),
		FramesForwarded: atomic.LoadUint64(&w.forwarded),
		Running:         w.running.Load(),
	}
}
