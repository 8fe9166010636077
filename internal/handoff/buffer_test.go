package handoff

import (
	"sync"
	"testing"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

func frame(seq uint64) *types.Frame {
	return &types.Frame{Seq: seq, Width: 1, Height: 1, Format: types.FormatRGB, Data: []byte{0, 0, 0}, Timestamp: time.Now()}
}

// --- Test 1: Empty buffer ---

func TestTryTakeEmpty(t *testing.T) {
	b := New()

	f, ok := b.TryTake()
	if ok || f != nil {
		t.Fatalf("TryTake() on empty buffer = %v, %v", f, ok)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}

// --- Test 2: Newest wins ---

// TestPutOverwrites validates mailbox semantics.
//
// Scenario:
//  1. Put A, B, C without taking
//  2. TryTake returns C
//  3. Buffer is empty afterwards
//  4. Drops = 2 (A overwritten by B, B by C)
func TestPutOverwrites(t *testing.T) {
	b := New()

	b.Put(frame(1))
	b.Put(frame(2))
	b.Put(frame(3))

	f, ok := b.TryTake()
	if !ok {
		t.Fatal("TryTake() returned empty after Put")
	}
	if f.Seq != 3 {
		t.Errorf("got seq %d, want newest (3)", f.Seq)
	}

	if _, ok := b.TryTake(); ok {
		t.Error("second TryTake() should find the buffer empty")
	}

	stats := b.Stats()
	if stats.Puts != 3 || stats.Takes != 1 || stats.Drops != 2 {
		t.Errorf("stats = %+v, want puts=3 takes=1 drops=2", stats)
	}
	if rate := stats.DropRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("DropRate() = %.3f", rate)
	}
}

// --- Test 3: Take then Put does not count a drop ---

func TestPutAfterTakeNoDrop(t *testing.T) {
	b := New()

	b.Put(frame(1))
	b.TryTake()
	b.Put(frame(2))

	if drops := b.Stats().Drops; drops != 0 {
		t.Errorf("Drops = %d, want 0", drops)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
}

// --- Test 4: Concurrent producer / consumer ---

// TestConcurrentFreshness runs one producer and one consumer concurrently.
//
// Contract:
//   - Consumer never sees sequence numbers go backwards
//   - Every put is accounted for as taken, dropped, or still pending
func TestConcurrentFreshness(t *testing.T) {
	b := New()
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			b.Put(frame(i))
		}
	}()

	done := make(chan struct{})
	var lastSeq uint64
	var regressions int
	go func() {
		defer close(done)
		for {
			f, ok := b.TryTake()
			if ok {
				if f.Seq <= lastSeq {
					regressions++
				}
				lastSeq = f.Seq
				if f.Seq == n {
					return
				}
			}
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never observed the final frame")
	}

	if regressions != 0 {
		t.Errorf("consumer saw %d out-of-order frames", regressions)
	}

	stats := b.Stats()
	pending := uint64(b.Len())
	if stats.Takes+stats.Drops+pending != stats.Puts {
		t.Errorf("accounting mismatch: %+v pending=%d", stats, pending)
	}
	t.Logf("puts=%d takes=%d drops=%d", stats.Puts, stats.Takes, stats.Drops)
}
