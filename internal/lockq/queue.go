package lockq

import "sync"

// Queue is a FIFO of work-item IDs with stable-order requeue. The copy
// matcher holds items aside while evaluating exclusions and pushes the
// rejects back at their original relative positions.
type Queue struct {
	mu    sync.Mutex
	items []string
	seen  map[string]bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{seen: make(map[string]bool)}
}

// Push appends id unless it is already queued.
func (q *Queue) Push(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen[id] {
		return
	}
	q.items = append(q.items, id)
	q.seen[id] = true
}

// Pop removes and returns the head, false when empty.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	delete(q.seen, id)
	return id, true
}

// PopN removes and returns up to n head items.
func (q *Queue) PopN(n int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]string, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	for _, id := range out {
		delete(q.seen, id)
	}
	return out
}

// Requeue pushes ids back at the front of the queue, preserving their
// relative order ahead of everything queued since.
func (q *Queue) Requeue(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if !q.seen[id] {
			kept = append(kept, id)
			q.seen[id] = true
		}
	}
	q.items = append(append([]string{}, kept...), q.items...)
}

// Remove deletes id wherever it sits in the queue.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.seen[id] {
		return
	}
	for i, it := range q.items {
		if it == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.seen, id)
}

// Contains reports whether id is queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seen[id]
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
