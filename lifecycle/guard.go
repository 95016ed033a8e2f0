package lifecycle

import "sync/atomic"

// Guard caps the number of messages one worker process handles before it
// asks to stop. It is safe for concurrent use so several loops in one process
// can share a single budget.
type Guard struct {
	max   int64
	count atomic.Int64
}

// NewGuard returns a guard stopping after max messages. Zero or a negative
// max means unlimited.
func NewGuard(max int64) *Guard {
	if max < 0 {
		max = 0
	}
	return &Guard{max: max}
}

func (g *Guard) RecordProcessed() {
	if g == nil {
		return
	}
	g.count.Add(1)
}

// ShouldContinue reports false once the processed count reached the maximum.
func (g *Guard) ShouldContinue() bool {
	if g == nil || g.max == 0 {
		return true
	}
	return g.count.Load() < g.max
}

func (g *Guard) Processed() int64 {
	if g == nil {
		return 0
	}
	return g.count.Load()
}

func (g *Guard) Max() int64 {
	if g == nil {
		return 0
	}
	return g.max
}
