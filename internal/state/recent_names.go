package state

import "sync"

// RecentNames is the bounded FIFO of LLM-allocated bot names. Prevents the
// classifier from handing out the same name twice in quick succession:
// a name is accepted once, then rejected until it ages out of the queue.
type RecentNames struct {
	mu       sync.Mutex
	capacity int
	order    []string
	present  map[string]bool
}

// NewRecentNames builds the queue; capacity below one falls back to 200.
func NewRecentNames(capacity int) *RecentNames {
	if capacity < 1 {
		capacity = 200
	}
	return &RecentNames{
		capacity: capacity,
		present:  make(map[string]bool, capacity),
	}
}

// TryAdd enqueues the name. Returns false for duplicates still in the
// queue. When full, the oldest name drops first.
func (q *RecentNames) TryAdd(name string) bool {
	if name == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.present[name] {
		return false
	}
	if len(q.order) >= q.capacity {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.present, oldest)
	}
	q.order = append(q.order, name)
	q.present[name] = true
	return true
}

// Len returns the current queue depth.
func (q *RecentNames) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
