package cortos

import "time"

// Queue is a fixed-capacity ring buffer of T coupled to an internal
// counting signal. Producers construct elements in place at the
// write cursor; a single consumer peeks the element at the read
// cursor with Front, optionally blocking with a timeout, and removes
// it with Pop.
//
// The queue distinguishes full from empty by leaving one slot
// unused: a queue created with capacity N holds at most N-1
// elements.
//
// Concurrency contract: multiple producers and a single consumer.
// Producers are serialized by the kernel's run-to-completion model —
// a push never suspends mid-update, and interrupt-context pushes are
// delivered only between task steps. Multiple consumers would race
// between Front and Pop and require external serialization.
type Queue[T any] struct {
	noCopy noCopy
	items  sema
	buf    []T
	rd     int
	wr     int
	extern bool
}

// NewQueue creates a queue whose backing storage is allocated at
// construction and holds up to capacity-1 elements. A capacity below
// two is a fatal configuration error, since such a queue could never
// hold an element.
func NewQueue[T any](k *Kernel, capacity int) *Queue[T] {
	kassert(capacity >= 2, "NewQueue", "capacity must be at least 2")
	q := &Queue[T]{buf: make([]T, capacity)}
	q.items.init(k, 0, uint32(capacity))
	return q
}

// NewQueueIn creates a queue on top of caller-supplied backing
// storage. The queue borrows buf for its whole lifetime and never
// reallocates or grows it; the caller must not touch buf while the
// queue is in use. This is the placement-construction strategy for
// storage with static or preallocated lifetime.
func NewQueueIn[T any](k *Kernel, buf []T) *Queue[T] {
	kassert(len(buf) >= 2, "NewQueueIn", "buffer must hold at least 2 slots")
	q := &Queue[T]{buf: buf, extern: true}
	q.items.init(k, 0, uint32(len(buf)))
	return q
}

// ExternalStorage reports whether the queue borrows caller-supplied
// backing storage.
func (q *Queue[T]) ExternalStorage() bool {
	return q.extern
}

// Cap returns the slot count of the backing storage. The usable
// capacity is one less.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Len returns the number of elements currently stored.
func (q *Queue[T]) Len() int {
	d := q.wr - q.rd
	if d < 0 {
		d += len(q.buf)
	}
	return d
}

// TryEmplaceBack constructs an element in place at the write cursor
// by calling build on the slot, then publishes it. It reports false
// without side effects when the queue is full. Must not be called
// from interrupt context: use TryPushBackFromISR there.
func (q *Queue[T]) TryEmplaceBack(build func(*T)) bool {
	q.items.k.taskContext("Queue.TryEmplaceBack")
	kassert(build != nil, "Queue.TryEmplaceBack", "nil build function")
	return q.push(build)
}

// TryPushBack copies item into the queue. It reports false without
// side effects when the queue is full.
func (q *Queue[T]) TryPushBack(item T) bool {
	q.items.k.taskContext("Queue.TryPushBack")
	return q.push(func(slot *T) { *slot = item })
}

// TryPushBackFromISR is the interrupt-context variant of
// TryPushBack. It never blocks; a consumer woken by the push runs
// after the interrupt handler returns.
func (q *Queue[T]) TryPushBackFromISR(item T) bool {
	q.items.k.isrContext("Queue.TryPushBackFromISR")
	return q.push(func(slot *T) { *slot = item })
}

func (q *Queue[T]) push(build func(*T)) bool {
	next := q.wr + 1
	if next == len(q.buf) {
		next = 0
	}
	if next == q.rd {
		return false
	}
	build(&q.buf[q.wr])
	q.items.signal()
	q.wr = next
	return true
}

// Front returns the element at the read cursor without removing it.
// When the queue is empty and timeout is non-zero, the calling task
// blocks until an element arrives or the timeout elapses; a zero
// timeout polls. The returned pointer stays valid until Pop.
func (q *Queue[T]) Front(timeout time.Duration) (*T, bool) {
	q.items.k.taskContext("Queue.Front")
	if q.rd == q.wr {
		if timeout == 0 {
			return nil, false
		}
		if !q.items.take("Queue.Front", timeout) {
			return nil, false
		}
		// Front is a peek: hand the count back so it keeps matching
		// the number of stored elements.
		q.items.signal()
	}
	return &q.buf[q.rd], true
}

// FrontFromISR polls the element at the read cursor from interrupt
// context without blocking.
func (q *Queue[T]) FrontFromISR() (*T, bool) {
	q.items.k.isrContext("Queue.FrontFromISR")
	if q.rd == q.wr {
		return nil, false
	}
	return &q.buf[q.rd], true
}

// Pop removes the element at the read cursor. The slot is zeroed so
// the element's references are released immediately. Pop must be
// preceded by a successful Front by the same consumer; popping an
// empty queue is a caller error the queue does not defend against.
func (q *Queue[T]) Pop() {
	q.items.k.taskContext("Queue.Pop")
	q.pop()
}

// PopFromISR is the interrupt-context variant of Pop.
func (q *Queue[T]) PopFromISR() {
	q.items.k.isrContext("Queue.PopFromISR")
	q.pop()
}

func (q *Queue[T]) pop() {
	var zero T
	q.buf[q.rd] = zero
	q.rd++
	if q.rd == len(q.buf) {
		q.rd = 0
	}
	if q.items.count > 0 {
		q.items.count--
	}
}
