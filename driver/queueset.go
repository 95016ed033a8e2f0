package driver

import (
	"fmt"
	"slices"
	"sync"
)

// QueueSet maps priorities to physical queue names for backends that emulate
// priorities with several queues.
type QueueSet struct {
	mu     sync.RWMutex
	queues map[Priority]string
}

// NewQueueSet binds base to PriorityDefault.
func NewQueueSet(base string) *QueueSet {
	qs := &QueueSet{queues: make(map[Priority]string)}
	if base != "" {
		qs.queues[PriorityDefault] = base
	}
	return qs
}

// Setup binds name to priority, replacing a previous binding.
func (q *QueueSet) Setup(name string, priority Priority) error {
	if name == "" {
		return ErrQueueNameRequired
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[priority] = name
	return nil
}

// Name returns the queue bound to priority.
func (q *QueueSet) Name(priority Priority) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	name, ok := q.queues[priority]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPriority, priority)
	}
	return name, nil
}

// Priorities returns every bound priority, highest first.
func (q *QueueSet) Priorities() []Priority {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Priority, 0, len(q.queues))
	for p := range q.queues {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Priority) int { return int(b) - int(a) })
	return out
}

// Ordered filters requested down to bound priorities, deduplicated and
// sorted highest first. An empty request selects every bound priority.
func (q *QueueSet) Ordered(requested []Priority) ([]Priority, error) {
	if len(requested) == 0 {
		return q.Priorities(), nil
	}
	out := make([]Priority, 0, len(requested))
	for _, p := range requested {
		if _, err := q.Name(p); err != nil {
			return nil, err
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Priority) int { return int(b) - int(a) })
	return out, nil
}
