// Package core wires the relay together: capture worker, hand-off buffer,
// inference, slot assignment, packet encoding, publishing and performance
// monitoring, plus the guaranteed release sequence on exit.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/assign"
	"github.com/technospes/StrikeSync-Project/internal/capture"
	"github.com/technospes/StrikeSync-Project/internal/handoff"
	"github.com/technospes/StrikeSync-Project/internal/inference"
	"github.com/technospes/StrikeSync-Project/internal/packet"
	"github.com/technospes/StrikeSync-Project/internal/perf"
	"github.com/technospes/StrikeSync-Project/internal/publish"
	"github.com/technospes/StrikeSync-Project/internal/types"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Reporter receives every performance report. Reporters are observational;
// their errors are logged at debug and otherwise ignored.
type Reporter interface {
	Report(r perf.Report) error
}

// Deps are the components the pipeline owns for the duration of Run.
// Source, Detector and Publisher are released when Run returns.
type Deps struct {
	Source    capture.Source
	Buffer    *handoff.Buffer
	Detector  inference.Detector
	Strategy  assign.Strategy
	Encoder   *packet.Encoder
	Publisher publish.Publisher
	Monitor   *perf.Monitor
	Reporters []Reporter
}

// Options controls loop timing and limits.
type Options struct {
	FrameSkip   int
	MaxPlayers  int
	IdleBackoff time.Duration // sleep when the buffer is empty
	ReadRetry   time.Duration // capture sleep after a failed read
	JoinTimeout time.Duration // bound on waiting for the capture goroutine
	// WarnInterval rate-limits inference failure warnings
	WarnInterval time.Duration
}

// Pipeline is the main processing loop. Exactly one frame is processed at a
// time, always the freshest one available; frames are never processed twice.
type Pipeline struct {
	deps   Deps
	opts   Options
	worker *capture.Worker

	started  atomic.Int64 // unix nanos, set by Run
	running  atomic.Bool
	ready    atomic.Bool
	stopOnce sync.Once

	iterations      atomic.Uint64
	emptyPackets    atomic.Uint64
	inferenceErrors atomic.Uint64
	published       atomic.Uint64
	publishErrors   atomic.Uint64
	lastWarn        time.Time
}

// New validates deps and builds the capture worker. Nothing is started.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("pipeline: source is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("pipeline: detector is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("pipeline: publisher is required")
	case deps.Strategy == nil:
		return nil, fmt.Errorf("pipeline: slot strategy is required")
	}
	if opts.MaxPlayers <= 0 {
		return nil, fmt.Errorf("pipeline: max players must be > 0")
	}
	if deps.Buffer == nil {
		deps.Buffer = handoff.New()
	}
	if deps.Encoder == nil {
		deps.Encoder = packet.NewEncoder(packet.DefaultVisibility)
	}
	if deps.Monitor == nil {
		deps.Monitor = perf.New(perf.Config{TargetFPS: 20, LowFPS: 15}, time.Now())
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = 2 * time.Millisecond
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = time.Second
	}
	if opts.WarnInterval <= 0 {
		opts.WarnInterval = 2 * time.Second
	}

	p := &Pipeline{deps: deps, opts: opts}
	p.worker = capture.NewWorker(deps.Source, deps.Buffer, capture.WorkerConfig{
		FrameSkip: opts.FrameSkip,
		ReadRetry: opts.ReadRetry,
	})
	return p, nil
}

// Run starts the capture worker and processes frames until ctx is done.
// The release sequence always runs before Run returns; its errors are
// joined into the returned error.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	p.started.Store(time.Now().UnixNano())

	defer func() {
		err = errors.Join(err, p.shutdown())
	}()

	p.worker.Start(ctx)
	p.ready.Store(true)

	slog.Info("pipeline: running",
		"frame_skip", p.opts.FrameSkip,
		"max_players", p.opts.MaxPlayers,
		"idle_backoff", p.opts.IdleBackoff,
	)

	idle := time.NewTimer(p.opts.IdleBackoff)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			slog.Info("pipeline: run loop exiting")
			return nil
		}

		frame, ok := p.deps.Buffer.TryTake()
		if !ok {
			idle.Reset(p.opts.IdleBackoff)
			select {
			case <-ctx.Done():
			case <-idle.C:
			}
			continue
		}

		p.process(ctx, frame)
	}
}

// process runs one frame through detect, assign, encode and publish. It
// never fails: every iteration ends with exactly one packet handed to the
// publisher, possibly with no players.
func (p *Pipeline) process(ctx context.Context, frame *types.Frame) {
	start := time.Now()

	res := inference.Run(ctx, p.deps.Detector, frame)
	if res.Failed() && (ctx.Err() != nil || errors.Is(res.Err, context.Canceled)) {
		// Shutting down: not a model failure, and no packet for this frame
		return
	}
	if res.Failed() {
		p.inferenceErrors.Add(1)
		p.warnInference(frame, res.Err, start)
	}

	assignments := p.deps.Strategy.Assign(res.People(), p.opts.MaxPlayers)
	pkt := p.deps.Encoder.Encode(assignments, frame.Width, frame.Height)
	if len(pkt.Players) == 0 {
		p.emptyPackets.Add(1)
	}

	payload, err := packet.Marshal(pkt)
	if err != nil {
		// Unreachable for finite coordinates; skip the send rather than emit garbage
		slog.Error("pipeline: packet encoding failed", "seq", frame.Seq, "error", err)
		return
	}

	if err := p.deps.Publisher.Publish(payload); err != nil {
		p.publishErrors.Add(1)
		slog.Debug("pipeline: publish failed", "seq", frame.Seq, "error", err)
	} else {
		p.published.Add(1)
	}

	p.iterations.Add(1)
	p.deps.Monitor.Observe(time.Since(start), len(pkt.Players))

	if r, ok := p.deps.Monitor.MaybeReport(time.Now()); ok {
		perf.Log(r)
		for _, rep := range p.deps.Reporters {
			if err := rep.Report(r); err != nil {
				slog.Debug("pipeline: reporter failed", "error", err)
			}
		}
	}
}

func (p *Pipeline) warnInference(frame *types.Frame, err error, now time.Time) {
	if now.Sub(p.lastWarn) < p.opts.WarnInterval {
		slog.Debug("inference: frame failed", "seq", frame.Seq, "error", err)
		return
	}
	p.lastWarn = now
	slog.Warn("inference: frame failed, sending empty packet",
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"error", err,
		"total_failures", p.inferenceErrors.Load(),
	)
}

// shutdown stops the worker and releases the camera, detector and publisher.
// Every step runs even when an earlier one fails.
func (p *Pipeline) shutdown() error {
	var err error
	p.stopOnce.Do(func() {
		p.ready.Store(false)
		slog.Info("pipeline: shutting down")

		var errs []error

		// 1. Capture goroutine first, it is the only other reader of the source
		if e := p.worker.Stop(p.opts.JoinTimeout); e != nil {
			errs = append(errs, fmt.Errorf("capture worker: %w", e))
		}

		// 2. Camera
		if e := p.deps.Source.Release(); e != nil {
			slog.Error("pipeline: failed to release camera", "error", e)
			errs = append(errs, fmt.Errorf("release source: %w", e))
		}

		// 3. Model
		if e := p.deps.Detector.Close(); e != nil {
			slog.Error("pipeline: failed to close detector", "error", e)
			errs = append(errs, fmt.Errorf("close detector: %w", e))
		}

		// 4. Socket
		if e := p.deps.Publisher.Close(); e != nil {
			slog.Error("pipeline: failed to close publisher", "error", e)
			errs = append(errs, fmt.Errorf("close publisher: %w", e))
		}

		err = errors.Join(errs...)
		slog.Info("pipeline: shutdown complete",
			"uptime", p.uptime().Round(time.Millisecond),
			"iterations", p.iterations.Load(),
			"clean", err == nil,
		)
	})
	return err
}

// Ready reports whether the processing loop is running.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

func (p *Pipeline) uptime() time.Duration {
	return time.Since(time.Unix(0, p.started.Load()))
}
