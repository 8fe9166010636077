package handoff

import "sync/atomic"

// Stats is a point-in-time snapshot of buffer counters.
// Counters are read atomically and may be slightly stale relative to
// each other; that is acceptable for monitoring.
type Stats struct {
	Puts  uint64 `json:"puts"`
	Takes uint64 `json:"takes"`
	Drops uint64 `json:"drops"`
}

// DropRate returns drops as a fraction of puts (0 when nothing was put).
func (s Stats) DropRate() float64 {
	if s.Puts == 0 {
		return 0
	}
	return float64(s.Drops) / float64(s.Puts)
}

// Stats returns the current counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Puts:  atomic.LoadUint64(&b.puts),
		Takes: atomic.LoadUint64(&b.takes),
		Drops: atomic.LoadUint64(&b.drops),
	}
}
