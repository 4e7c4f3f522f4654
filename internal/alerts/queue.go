package alerts

import (
	"errors"
	"sync"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("evaluation queue full")
	ErrQueueClosed = errors.New("evaluation queue closed")
)

// workQueue is a FIFO ring that doubles its backing array when it fills up,
// up to limit items. Push never blocks; Pop blocks until an item arrives or
// the queue is closed and drained.
type workQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // next read
	size   int
	limit  int
	closed bool

	pushed   int64
	popped   int64
	rejected int64
	grows    int
}

func newWorkQueue[T any](initial, limit int) *workQueue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit < initial {
		limit = initial
	}
	q := &workQueue[T]{
		ring:  make([]T, initial),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It fails instead of blocking when the queue is at its
// limit or closed.
func (q *workQueue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.size >= q.limit {
		q.rejected++
		return ErrQueueFull
	}
	if q.size == len(q.ring) {
		q.grow()
	}

	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	q.pushed++
	q.cond.Signal()
	return nil
}

// Pop removes the oldest item, blocking while the queue is empty and open.
// It returns false once the queue is closed and empty.
func (q *workQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.take()
}

// TryPop removes the oldest item without blocking.
func (q *workQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take()
}

func (q *workQueue[T]) take() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.popped++
	return item, true
}

// Close rejects further pushes and wakes blocked consumers. Items already
// queued remain poppable.
func (q *workQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *workQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// QueueStats contains queue counters.
type QueueStats struct {
	Pending  int   `json:"pending"`
	Capacity int   `json:"capacity"`
	Pushed   int64 `json:"pushed"`
	Popped   int64 `json:"popped"`
	Rejected int64 `json:"rejected"`
	Grows    int   `json:"grows"`
}

// Stats returns queue counters.
func (q *workQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:  q.size,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Rejected: q.rejected,
		Grows:    q.grows,
	}
}

// grow doubles the ring, capped at limit, and unwraps it. Requires mu.
func (q *workQueue[T]) grow() {
	n := len(q.ring) * 2
	if n > q.limit {
		n = q.limit
	}
	next := make([]T, n)
	for i := 0; i < q.size; i++ {
		next[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = next
	q.head = 0
	q.grows++
}
