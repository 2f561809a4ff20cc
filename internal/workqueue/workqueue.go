package workqueue

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue closed")

// Queue hands items from producers to a single consumer loop and limits how many items are processed in parallel.
type Queue[T any] struct {
	items chan *T
	slots chan struct{}

	// Unbounded queues park items in overflow while items is full. Only the consumer moves them over, see Refill.
	unbounded bool
	mu        sync.Mutex
	overflow  []*T

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a queue buffering up to buffer items. Add blocks while the buffer is full. maxParallel <= 0 does not
// limit parallel processing.
func New[T any](maxParallel, buffer int) *Queue[T] {
	if buffer < 0 {
		buffer = 0
	}

	return newQueue[T](maxParallel, buffer, false)
}

// NewUnbounded creates a queue whose Add never blocks. Items beyond buffer are kept until the consumer catches up.
func NewUnbounded[T any](maxParallel, buffer int) *Queue[T] {
	if buffer < 1 {
		buffer = 1
	}

	return newQueue[T](maxParallel, buffer, true)
}

func newQueue[T any](maxParallel, buffer int, unbounded bool) *Queue[T] {
	var slots chan struct{}
	if maxParallel > 0 {
		slots = make(chan struct{}, maxParallel)
	}

	return &Queue[T]{
		items:     make(chan *T, buffer),
		slots:     slots,
		unbounded: unbounded,
		closed:    make(chan struct{}),
	}
}

// Reserve blocks until a processing slot is available
func (q *Queue[T]) Reserve(ctx context.Context) error {
	if q.slots == nil {
		return nil // No limit on parallel processing, no reservation needed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.slots <- struct{}{}:
		return nil
	}
}

// Release frees a slot acquired with Reserve
func (q *Queue[T]) Release() {
	if q.slots == nil {
		return
	}

	<-q.slots
}

// Add buffers the item. Bounded queues block until there is room, the context is done, or the queue is closed.
func (q *Queue[T]) Add(ctx context.Context, item *T) error {
	if q.isClosed() {
		return ErrClosed
	}

	if q.unbounded {
		return q.push(item)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrClosed
	case q.items <- item:
		return nil
	}
}

func (q *Queue[T]) push(item *T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isClosed() {
		return ErrClosed
	}

	// Keep FIFO order, nothing may overtake parked items
	if len(q.overflow) == 0 {
		select {
		case q.items <- item:
			return nil
		default:
		}
	}

	q.overflow = append(q.overflow, item)

	return nil
}

// Items returns the channel the consumer receives from. The consumer calls Refill after every receive.
func (q *Queue[T]) Items() <-chan *T {
	return q.items
}

// Refill moves parked items into the buffer while there is room
func (q *Queue[T]) Refill() {
	if !q.unbounded {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.overflow) > 0 {
		select {
		case q.items <- q.overflow[0]:
			q.overflow[0] = nil
			q.overflow = q.overflow[1:]
		default:
			return
		}
	}
}

// Close rejects further items. Buffered items can still be received.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

func (q *Queue[T]) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items) + len(q.overflow)
}
