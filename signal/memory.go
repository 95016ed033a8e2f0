package signal

import (
	"context"
	"sync"
	"time"
)

// Memory keeps the marker in process memory. It suits tests and single
// process deployments where the operator triggers through an API.
type Memory struct {
	mu       sync.RWMutex
	recorded time.Time
	opts     options
}

func NewMemory(opts ...Option) *Memory {
	return &Memory{opts: newOptions(opts)}
}

func (m *Memory) Check(_ context.Context, startedAt time.Time) bool {
	m.mu.RLock()
	recorded := m.recorded
	m.mu.RUnlock()
	return Evaluate(recorded, startedAt, m.opts.now())
}

func (m *Memory) Trigger(_ context.Context, at time.Time) error {
	m.mu.Lock()
	m.recorded = m.opts.triggerTime(at)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Recorded(context.Context) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recorded, !m.recorded.IsZero(), nil
}

// Clear removes the marker.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.recorded = time.Time{}
	m.mu.Unlock()
}
