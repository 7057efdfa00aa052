package queue

// ring is a bounded FIFO. It is not safe for concurrent use; Queue guards it.
type ring[T any] struct {
	buf   []T
	head  int // read position
	tail  int // write position
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Len() int   { return r.count }
func (r *ring[T]) Full() bool { return r.count == len(r.buf) }

// Push appends item. Returns false if the ring is full.
func (r *ring[T]) Push(item T) bool {
	if r.Full() {
		return false
	}
	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
	return true
}

// Peek returns the oldest item without removing it.
func (r *ring[T]) Peek() (T, bool) {
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

// Pop removes and returns the oldest item.
func (r *ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.buf[r.head]
	r.buf[r.head] = zero // Clear reference for GC
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return item, true
}

// Drain removes and returns all items, oldest first.
func (r *ring[T]) Drain() []T {
	out := make([]T, 0, r.count)
	for r.count > 0 {
		item, _ := r.Pop()
		out = append(out, item)
	}
	return out
}

// Filter keeps the items for which keep returns true, in order, and returns
// the removed ones.
func (r *ring[T]) Filter(keep func(T) bool) []T {
	var removed []T
	n := r.count
	for i := 0; i < n; i++ {
		item, _ := r.Pop()
		if keep(item) {
			r.Push(item)
		} else {
			removed = append(removed, item)
		}
	}
	return removed
}
