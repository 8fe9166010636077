package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

var (
	// ErrWorkerExited is returned by Detect once the worker process is gone.
	ErrWorkerExited = errors.New("inference: worker process exited")
	// ErrTimeout is returned when a round trip exceeds the configured budget.
	ErrTimeout = errors.New("inference: worker round trip timed out")
	// ErrNotStarted is returned by Detect before Start.
	ErrNotStarted = errors.New("inference: worker not started")

	// errDecode marks a message that was read in full but could not be
	// decoded; the stream is still aligned and reading can continue.
	errDecode = errors.New("decode error")
)

const warmupTimeout = 30 * time.Second

// WorkerConfig contains configuration for the Python pose worker
type WorkerConfig struct {
	// Command is the launcher, typically a venv wrapper script
	Command   string
	ModelPath string
	// InputSize is the long side, in pixels, of frames sent to the model
	InputSize     int
	Confidence    float64
	IOU           float64
	MaxDetections int
	// Timeout is the per-frame round trip budget
	Timeout time.Duration
}

// WorkerStats is a snapshot of worker counters.
type WorkerStats struct {
	Requests       uint64    `json:"requests"`
	Failures       uint64    `json:"failures"`
	Timeouts       uint64    `json:"timeouts"`
	AvgInferenceMS float64   `json:"avg_inference_ms"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	Alive          bool      `json:"alive"`
}

// PythonWorker runs pose inference in a Python subprocess.
//
// Frames go to the child's stdin and results come back on stdout, both as
// length-prefixed msgpack messages. Exactly one request is in flight at a
// time: Detect writes a request and waits for the response carrying the
// same seq, discarding late answers to requests that already timed out.
//
// Goroutines:
//   - readResults: decodes stdout into the responses channel
//   - logStderr: forwards child log lines to slog
//   - waitProcess: reaps the child and marks the worker exited
type PythonWorker struct {
	cfg     WorkerConfig
	resizer Resizer

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	exited    chan struct{}
	responses chan response
	closeOnce sync.Once

	mu           sync.Mutex // serializes round trips
	seq          uint64
	pendingWrite chan error // write still in flight after its request gave up

	requests         uint64
	failures         uint64
	timeouts         uint64
	inferenceMicros  uint64
	inferenceSamples uint64
	lastSeenAt       atomic.Value // time.Time
}

// NewPythonWorker validates cfg and creates a worker. The process is not
// spawned until Start.
func NewPythonWorker(cfg WorkerConfig) (*PythonWorker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("inference: command is required")
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("inference: model_path is required")
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.4
	}
	if cfg.IOU <= 0 {
		cfg.IOU = 0.5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}

	return &PythonWorker{
		cfg:       cfg,
		resizer:   Resizer{MaxSide: cfg.InputSize},
		exited:    make(chan struct{}),
		responses: make(chan response, 4),
	}, nil
}

// args builds the worker command line.
func (w *PythonWorker) args() []string {
	args := []string{
		"--model", w.cfg.ModelPath,
		"--imgsz", strconv.Itoa(w.cfg.InputSize),
		"--confidence", fmt.Sprintf("%.2f", w.cfg.Confidence),
		"--iou", fmt.Sprintf("%.2f", w.cfg.IOU),
		"--classes", "0", // person only
	}
	if w.cfg.MaxDetections > 0 {
		args = append(args, "--max-det", strconv.Itoa(w.cfg.MaxDetections))
	}
	return args
}

// Start spawns the worker process. A failure here is a startup failure.
func (w *PythonWorker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("inference: worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.cmd = exec.CommandContext(w.ctx, w.cfg.Command, w.args()...)

	var err error
	if w.stdin, err = w.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if w.stdout, err = w.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if w.stderr, err = w.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := w.cmd.Start(); err != nil {
		w.cancel()
		close(w.exited)
		return fmt.Errorf("failed to start python process %s: %w", w.cfg.Command, err)
	}

	w.lastSeenAt.Store(time.Now())

	w.wg.Add(3)
	go w.readResults()
	go w.logStderr()
	go w.waitProcess()

	slog.Info("inference: python worker started",
		"pid", w.cmd.Process.Pid,
		"model", w.cfg.ModelPath,
		"input_size", w.cfg.InputSize,
		"confidence", w.cfg.Confidence,
		"iou", w.cfg.IOU,
		"max_det", w.cfg.MaxDetections,
	)
	return nil
}

// Detect sends one frame and waits for its detections.
func (w *PythonWorker) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return w.roundTrip(ctx, frame, w.cfg.Timeout)
}

func (w *PythonWorker) roundTrip(ctx context.Context, frame *types.Frame, timeout time.Duration) ([]types.Detection, error) {
	if !w.started.Load() {
		return nil, ErrNotStarted
	}
	if !frame.Valid() {
		return nil, fmt.Errorf("inference: invalid frame")
	}
	select {
	case <-w.exited:
		return nil, ErrWorkerExited
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// A write abandoned by an earlier timeout must finish before the next
	// one starts, or the length-prefixed stream would interleave
	if w.pendingWrite != nil {
		select {
		case <-w.pendingWrite:
			w.pendingWrite = nil
		default:
			atomic.AddUint64(&w.timeouts, 1)
			return nil, fmt.Errorf("%w: previous request still being written", ErrTimeout)
		}
	}

	w.seq++
	seq := w.seq
	atomic.AddUint64(&w.requests, 1)

	p := w.resizer.Prepare(frame)
	req := request{
		Seq:       seq,
		FrameData: p.Data,
		Width:     p.Width,
		Height:    p.Height,
		Format:    types.FormatRGB,
		TraceID:   frame.TraceID,
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Write in a goroutine so a hung child cannot block past the budget
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeMessage(w.stdin, &req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			atomic.AddUint64(&w.failures, 1)
			return nil, fmt.Errorf("inference: failed to write to stdin: %w", err)
		}
	case <-timer.C:
		w.pendingWrite = writeErr
		atomic.AddUint64(&w.timeouts, 1)
		return nil, fmt.Errorf("%w: stdin write (python worker may be hung)", ErrTimeout)
	case <-w.exited:
		w.pendingWrite = writeErr
		return nil, ErrWorkerExited
	case <-ctx.Done():
		w.pendingWrite = writeErr
		return nil, ctx.Err()
	}

	for {
		select {
		case resp := <-w.responses:
			if resp.Seq != seq {
				slog.Debug("inference: discarding stale response", "seq", resp.Seq, "want", seq)
				continue
			}

			w.lastSeenAt.Store(time.Now())
			if resp.Timing.InferenceMS > 0 {
				atomic.AddUint64(&w.inferenceMicros, uint64(resp.Timing.InferenceMS*1000))
				atomic.AddUint64(&w.inferenceSamples, 1)
			}

			if resp.Error != "" {
				atomic.AddUint64(&w.failures, 1)
				return nil, fmt.Errorf("inference: worker error: %s", resp.Error)
			}
			return resp.detections(p.ScaleX, p.ScaleY), nil

		case <-timer.C:
			atomic.AddUint64(&w.timeouts, 1)
			return nil, fmt.Errorf("%w after %v (seq %d)", ErrTimeout, timeout, seq)
		case <-w.exited:
			return nil, ErrWorkerExited
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Warmup sends one random-noise frame of the given size so the first real
// frame does not pay for model initialization.
func (w *PythonWorker) Warmup(ctx context.Context, width, height int) error {
	data := make([]byte, width*height*3)
	rand.Read(data)

	frame := &types.Frame{
		Width:   width,
		Height:  height,
		Format:  types.FormatRGB,
		Data:    data,
		TraceID: "warmup",
	}

	// First inference may load weights onto the device
	start := time.Now()
	if _, err := w.roundTrip(ctx, frame, warmupTimeout); err != nil {
		return fmt.Errorf("inference: warm-up failed: %w", err)
	}

	slog.Info("inference: model warm-up complete", "elapsed", time.Since(start))
	return nil
}

// readResults reads responses from the worker stdout
func (w *PythonWorker) readResults() {
	defer w.wg.Done()

	for {
		var resp response
		if err := readMessage(w.stdout, &resp); err != nil {
			if errors.Is(err, errDecode) {
				slog.Error("inference: failed to decode worker response",
					"error", err,
					"action", "check python worker logs in stderr",
				)
				continue
			}
			if errors.Is(err, io.EOF) {
				slog.Debug("inference: worker stdout closed (EOF)")
			} else {
				slog.Debug("inference: worker stdout read ended", "error", err)
			}
			return
		}

		select {
		case w.responses <- resp:
		default:
			slog.Warn("inference: dropping response, channel full", "seq", resp.Seq)
		}
	}
}

// logStderr forwards worker stderr output, mapping Python log levels to slog
func (w *PythonWorker) logStderr() {
	defer w.wg.Done()

	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("inference: python worker error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("inference: python worker warning", "log", line)
		default:
			slog.Debug("inference: python worker log", "log", line)
		}
	}
}

// waitProcess reaps the child and marks the worker exited
func (w *PythonWorker) waitProcess() {
	defer w.wg.Done()
	defer close(w.exited)

	err := w.cmd.Wait()

	switch {
	case w.ctx.Err() != nil:
		slog.Debug("inference: python process exited (shutdown)", "pid", w.cmd.Process.Pid)
	case err != nil:
		slog.Error("inference: python process exited unexpectedly",
			"pid", w.cmd.Process.Pid,
			"error", err,
		)
	default:
		slog.Info("inference: python process exited cleanly", "pid", w.cmd.Process.Pid)
	}
}

// Close stops the worker: closes stdin so the child can exit on its own,
// then kills it if it has not exited within 2 seconds. Idempotent.
func (w *PythonWorker) Close() error {
	if !w.started.Load() {
		return nil
	}

	w.closeOnce.Do(func() {
		slog.Info("inference: stopping python worker")

		if w.stdin != nil {
			w.stdin.Close()
		}

		select {
		case <-w.exited:
		case <-time.After(2 * time.Second):
			slog.Warn("inference: python worker stop timeout, force killing process")
		}
		// Cancelling the command context kills the process if still running
		w.cancel()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			slog.Warn("inference: worker goroutines did not stop in time")
		}

		slog.Info("inference: python worker stopped",
			"requests", atomic.LoadUint64(&w.requests),
			"failures", atomic.LoadUint64(&w.failures),
			"timeouts", atomic.LoadUint64(&w.timeouts),
		)
	})
	return nil
}

// Alive reports whether the worker process is running.
func (w *PythonWorker) Alive() bool {
	if !w.started.Load() {
		return false
	}
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// Stats returns current worker counters.
func (w *PythonWorker) Stats() WorkerStats {
	stats := WorkerStats{
		Requests: atomic.LoadUint64(&w.requests),
		Failures: atomic.LoadUint64(&w.failures),
		Timeouts: atomic.LoadUint64(&w.timeouts),
		Alive:    w.Alive(),
	}

	if n := atomic.LoadUint64(&w.inferenceSamples); n > 0 {
		stats.AvgInferenceMS = float64(atomic.LoadUint64(&w.inferenceMicros)) / float64(n) / 1000
	}
	if v := w.lastSeenAt.Load(); v != nil {
		stats.LastSeenAt = v.(time.Time)
	}
	return stats
}

// containsAny checks if s contains any of the given substrings
func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
