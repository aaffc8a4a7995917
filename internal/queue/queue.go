// Package queue implements a bounded FIFO with drop-oldest eviction.
//
// The queue decouples a producer running at device pace from consumers running
// at their own pace. Push never blocks: when the queue is full the oldest
// element is evicted to admit the new one, so a stalled consumer can never
// stall the producer.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	// DefaultCapacity is used when New is given a non-positive capacity.
	DefaultCapacity = 10

	// MaxCapacity bounds Resize and New.
	MaxCapacity = 4096
)

// Queue is a fixed-capacity ring buffer safe for concurrent use.
//
// Thread-safety:
//   - All operations serialize on mu (no torn reads of length or contents)
//   - cond is signalled on every Push so PopWait callers wake up
//   - dropped is atomic so stats readers never take the lock
type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	buf   []T
	head  int // index of the oldest element
	count int
	done  bool // set by Close, wakes PopWait callers

	dropped atomic.Uint64
	pushed  atomic.Uint64
}

// New creates a queue holding at most capacity elements.
func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{buf: make([]T, clampCapacity(capacity))}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func clampCapacity(n int) int {
	if n <= 0 {
		return DefaultCapacity
	}
	if n > MaxCapacity {
		return MaxCapacity
	}
	return n
}

// Push appends v, evicting the oldest element if the queue is full.
//
// Reports whether an element was evicted. Never blocks.
func (q *Queue[T]) Push(v T) (evicted bool) {
	q.mu.Lock()
	if q.count == len(q.buf) {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		evicted = true
		q.dropped.Add(1)
	}
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
	q.pushed.Add(1)
	q.cond.Signal()
	q.mu.Unlock()
	return evicted
}

// Pop removes and returns the oldest element. ok is false when the queue is
// empty; that is not an error.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (v T, ok bool) {
	if q.count == 0 {
		return v, false
	}
	v = q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v, true
}

// PopWait blocks until an element is available, ctx is done, or the queue is
// closed for waiting. ok is false in the last two cases.
//
// The producer side is unaffected: Push still evicts rather than waits.
func (q *Queue[T]) PopWait(ctx context.Context) (v T, ok bool) {
	// Wake the waiter when ctx ends; sync.Cond has no context support.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 {
		if q.done || ctx.Err() != nil {
			return v, false
		}
		q.cond.Wait()
	}
	return q.popLocked()
}

// IsEmpty reports whether the queue currently holds no elements.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == 0
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Clear discards every queued element.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.buf)
	q.head = 0
	q.count = 0
}

// Resize changes the capacity, keeping the newest elements when shrinking.
func (q *Queue[T]) Resize(capacity int) {
	capacity = clampCapacity(capacity)

	q.mu.Lock()
	defer q.mu.Unlock()
	if capacity == len(q.buf) {
		return
	}
	for q.count > capacity {
		q.popLocked()
		q.dropped.Add(1)
	}
	buf := make([]T, capacity)
	for i := 0; i < q.count; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

// Close wakes every PopWait caller and makes future PopWait calls return
// immediately once the queue is drained. Push and Pop keep working.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.done = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Reopen undoes Close so PopWait blocks again.
func (q *Queue[T]) Reopen() {
	q.mu.Lock()
	q.done = false
	q.mu.Unlock()
}

// Dropped returns the lifetime count of evicted elements.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Pushed returns the lifetime count of pushed elements.
func (q *Queue[T]) Pushed() uint64 {
	return q.pushed.Load()
}
