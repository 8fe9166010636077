package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

// fakeSource emits frames with Seq 1..limit, then only read misses.
// Every failEvery-th call (if > 0) is a miss that does not consume a frame.
type fakeSource struct {
	limit     uint64
	failEvery int

	calls    int
	seq      uint64
	released atomic.Bool
	mu       sync.Mutex
}

func (s *fakeSource) Read() (*types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failEvery > 0 && s.calls%s.failEvery == 0 {
		return nil, false
	}
	if s.seq >= s.limit {
		return nil, false
	}
	s.seq++
	return &types.Frame{Seq: s.seq, Width: 1, Height: 1, Format: types.FormatRGB, Data: []byte{1, 2, 3}}, true
}

func (s *fakeSource) Release() error {
	s.released.Store(true)
	return nil
}

// blockingSource blocks forever inside Read, simulating a stuck device call.
// entered is closed once the first Read is in progress.
type blockingSource struct {
	unblock chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{unblock: make(chan struct{}), entered: make(chan struct{})}
}

func (s *blockingSource) Read() (*types.Frame, bool) {
	s.once.Do(func() { close(s.entered) })
	<-s.unblock
	return nil, false
}

func (s *blockingSource) Release() error { return nil }

type recordingSink struct {
	mu   sync.Mutex
	seqs []uint64
}

func (r *recordingSink) Put(frame *types.Frame) {
	r.mu.Lock()
	r.seqs = append(r.seqs, frame.Seq)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// --- Test 1: Decimation ---

// TestWorkerDecimation validates that with frame-skip k exactly every
// (k+1)-th successfully read frame is forwarded.
func TestWorkerDecimation(t *testing.T) {
	testCases := []struct {
		skip int
		want []uint64
	}{
		{0, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
		{1, []uint64{2, 4, 6, 8, 10, 12}},
		{2, []uint64{3, 6, 9, 12}},
		{5, []uint64{6, 12}},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("skip=%d", tc.skip), func(t *testing.T) {
			src := &fakeSource{limit: 12}
			sink := &recordingSink{}
			w := NewWorker(src, sink, WorkerConfig{FrameSkip: tc.skip, ReadRetry: time.Millisecond})

			w.Start(context.Background())
			waitFor(t, time.Second, func() bool { return w.Stats().FramesRead == 12 })
			if err := w.Stop(time.Second); err != nil {
				t.Fatalf("Stop() = %v", err)
			}

			got := sink.snapshot()
			if len(got) != len(tc.want) {
				t.Fatalf("forwarded %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("forwarded %v, want %v", got, tc.want)
				}
			}
			if fwd := w.Stats().FramesForwarded; fwd != uint64(len(tc.want)) {
				t.Errorf("FramesForwarded = %d, want %d", fwd, len(tc.want))
			}
		})
	}
}

// --- Test 2: Transient read failures ---

// TestWorkerSurvivesReadFailures validates that read misses are retried and
// do not advance the decimation counter.
func TestWorkerSurvivesReadFailures(t *testing.T) {
	src := &fakeSource{limit: 6, failEvery: 2}
	sink := &recordingSink{}
	w := NewWorker(src, sink, WorkerConfig{FrameSkip: 1, ReadRetry: time.Millisecond})

	w.Start(context.Background())
	waitFor(t, time.Second, func() bool { return w.Stats().FramesRead == 6 })
	w.Stop(time.Second)

	stats := w.Stats()
	if stats.ReadFailures == 0 {
		t.Error("expected read failures to be counted")
	}

	got := sink.snapshot()
	want := []uint64{2, 4, 6}
	if len(got) != len(want) {
		t.Fatalf("forwarded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("forwarded %v, want %v", got, want)
		}
	}
}

// --- Test 3: Bounded shutdown ---

func TestWorkerStopBounded(t *testing.T) {
	src := &fakeSource{limit: 1 << 30}
	w := NewWorker(src, &recordingSink{}, WorkerConfig{})

	w.Start(context.Background())
	waitFor(t, time.Second, func() bool { return w.Stats().FramesRead > 0 })

	start := time.Now()
	if err := w.Stop(500 * time.Millisecond); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v", elapsed)
	}
	if w.Stats().Running {
		t.Error("worker still reports running after Stop")
	}
}

// TestWorkerStopTimeout validates that a worker stuck in a blocking read is
// abandoned after the join timeout instead of hanging shutdown.
func TestWorkerStopTimeout(t *testing.T) {
	src := newBlockingSource()
	defer close(src.unblock)

	w := NewWorker(src, &recordingSink{}, WorkerConfig{})
	w.Start(context.Background())

	// Stop must land while the goroutine is inside Read, not before it
	select {
	case <-src.entered:
	case <-time.After(time.Second):
		t.Fatal("worker never called Read")
	}

	start := time.Now()
	err := w.Stop(50 * time.Millisecond)
	if !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("Stop() = %v, want ErrJoinTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("Stop exceeded its timeout: %v", elapsed)
	}
}

func TestWorkerStopWithoutStart(t *testing.T) {
	w := NewWorker(&fakeSource{}, &recordingSink{}, WorkerConfig{})
	if err := w.Stop(time.Millisecond); err != nil {
		t.Errorf("Stop() on idle worker = %v", err)
	}
}

func TestWorkerParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(&fakeSource{limit: 1 << 30}, &recordingSink{}, WorkerConfig{})

	w.Start(ctx)
	cancel()

	waitFor(t, time.Second, func() bool { return !w.Stats().Running })
}
