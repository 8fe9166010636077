// Package handoff provides the single-slot, newest-wins frame mailbox that
// decouples the capture goroutine from the inference loop.
package handoff

import (
	"sync"
	"sync/atomic"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

// Buffer holds at most one frame. A Put overwrites any unconsumed frame,
// so a consumer always sees the newest frame captured since its last take.
//
// Semantics:
//   - Put never blocks beyond the mutex hold (pointer swap)
//   - TryTake never blocks; it returns (nil, false) when empty
//   - An overwritten, never-taken frame counts as a drop
//
// Thread-safety: one producer and one consumer is the intended shape, but
// any number of concurrent callers is safe.
type Buffer struct {
	mu    sync.Mutex
	frame *types.Frame

	puts  uint64
	takes uint64
	drops uint64
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Put stores frame, replacing any unconsumed one.
// frame.Data must not be modified after Put.
func (b *Buffer) Put(frame *types.Frame) {
	b.mu.Lock()
	if b.frame != nil {
		// Consumer is behind; the old frame is never going to be seen
		atomic.AddUint64(&b.drops, 1)
	}
	b.frame = frame
	b.mu.Unlock()

	atomic.AddUint64(&b.puts, 1)
}

// TryTake removes and returns the stored frame, if any.
func (b *Buffer) TryTake() (*types.Frame, bool) {
	b.mu.Lock()
	frame := b.frame
	b.frame = nil
	b.mu.Unlock()

	if frame == nil {
		return nil, false
	}
	atomic.AddUint64(&b.takes, 1)
	return frame, true
}

// Len reports 1 when a frame is waiting, 0 otherwise.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return 0
	}
	return 1
}
