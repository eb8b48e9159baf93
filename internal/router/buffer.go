package router

import "sync"

// GrowableBuffer is an unbounded thread-safe FIFO backed by a ring that
// doubles when full. Producers never block; consumers block on Receive until
// an item arrives or the buffer is closed.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	closed bool

	enqueued int64
	dequeued int64
	grows    int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initial int) *GrowableBuffer[T] {
	if initial < 1 {
		initial = 1
	}
	b := &GrowableBuffer[T]{ring: make([]T, initial)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item, growing the ring if needed. Returns false once the
// buffer has been closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == len(b.ring) {
		b.grow()
	}

	b.ring[(b.head+b.count)%len(b.ring)] = item
	b.count++
	b.enqueued++
	b.cond.Signal()
	return true
}

// Receive blocks until an item is available or the buffer is closed and
// drained. The second return is false only in the latter case.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// TryReceive is a non-blocking Receive. Returns false when the buffer is
// currently empty.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// DrainTo removes up to max items (all items when max <= 0) in FIFO order.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	n := b.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// Close stops accepting items. Pending items remain receivable; blocked
// receivers are woken.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring capacity.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// Stats returns a consistent view of the buffer counters.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Depth:    b.count,
		Capacity: len(b.ring),
		Enqueued: b.enqueued,
		Dequeued: b.dequeued,
		Grows:    b.grows,
	}
}

// BufferStats describes one buffer at a point in time.
type BufferStats struct {
	Depth    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Grows    int
}

// pop removes the oldest item. Caller holds the lock and has checked count.
func (b *GrowableBuffer[T]) pop() T {
	item := b.ring[b.head]
	var zero T
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.dequeued++
	return item
}

// grow doubles the ring, unwrapping items to the front. Caller holds the lock.
func (b *GrowableBuffer[T]) grow() {
	next := make([]T, len(b.ring)*2)
	for i := 0; i < b.count; i++ {
		next[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.ring = next
	b.head = 0
	b.grows++
}
