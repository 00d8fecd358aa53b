package asio2

import "sync"

// nextPow2Uint64 returns the smallest power of two >= v with a minimum of 1.
func nextPow2Uint64(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// RingBuffer is a bounded FIFO with capacity rounded up to a power of two.
// Sessions use it as their outgoing message queue.
type RingBuffer[T any] struct {
	lock sync.Mutex
	buf  []T
	mask uint64
	head uint64 // next read position
	tail uint64 // next write position
}

// NewRingBuffer creates a new RingBuffer holding at least size items.
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	n := nextPow2Uint64(size)
	return &RingBuffer[T]{
		buf:  make([]T, n),
		mask: n - 1,
	}
}

// Enqueue appends item. It returns false if the buffer is full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.tail-r.head == uint64(len(r.buf)) {
		return false
	}
	r.buf[r.tail&r.mask] = item
	r.tail++
	return true
}

// Dequeue removes the oldest item. It returns false if the buffer is empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	var zero T
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.tail == r.head {
		return zero, false
	}
	i := r.head & r.mask
	item := r.buf[i]
	r.buf[i] = zero
	r.head++
	return item, true
}

// DequeueAll moves every queued item into dst and returns it.
func (r *RingBuffer[T]) DequeueAll(dst []T) []T {
	var zero T
	r.lock.Lock()
	defer r.lock.Unlock()
	for ; r.head != r.tail; r.head++ {
		i := r.head & r.mask
		dst = append(dst, r.buf[i])
		r.buf[i] = zero
	}
	return dst
}

// Len returns the number of queued items.
func (r *RingBuffer[T]) Len() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.tail - r.head
}

// Cap returns the capacity of the buffer.
func (r *RingBuffer[T]) Cap() uint64 {
	return uint64(len(r.buf))
}
