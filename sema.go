package cortos

import (
	"time"

	"github.com/gammazero/deque"
)

// sema is the counting signal underlying every blocking primitive in
// this package. It holds a count bounded by max and a queue of
// waiting tasks. A give at max fails; a take at zero blocks, with
// the wake-up handed directly to the first waiter.
type sema struct {
	noCopy  noCopy
	k       *Kernel
	count   uint32
	max     uint32
	waiters deque.Deque[*Task]
}

func (s *sema) init(k *Kernel, initial, max uint32) {
	kassert(max > 0, "sema", "maximum count must be positive")
	kassert(initial <= max, "sema", "initial count exceeds maximum")
	s.k = k
	s.count = initial
	s.max = max
}

// give increments the count, waking the first waiter if one exists.
// It reports false when the count is already at its maximum.
func (s *sema) give(op string) bool {
	s.k.taskContext(op)
	return s.signal()
}

// giveFromISR is the interrupt-context variant of give. It never
// blocks; a woken task runs after the interrupt handler returns.
func (s *sema) giveFromISR(op string) bool {
	s.k.isrContext(op)
	return s.signal()
}

func (s *sema) signal() bool {
	if s.waiters.Len() > 0 {
		// Hand the count directly to the waiter instead of leaving
		// it observable in between.
		w := s.waiters.PopFront()
		s.k.makeReady(w, wakeSignal)
		return true
	}
	if s.count == s.max {
		return false
	}
	s.count++
	return true
}

// take decrements the count, blocking the calling task for up to
// timeout while the count is zero. It reports false on timeout. A
// zero timeout polls without blocking.
func (s *sema) take(op string, timeout time.Duration) bool {
	s.k.taskContext(op)
	if s.count > 0 {
		s.count--
		return true
	}
	if timeout == 0 {
		return false
	}

	t := s.k.currentTask(op)
	s.waiters.PushBack(t)
	t.cancelWait = func() { s.remove(t) }
	s.k.block(t, timeout)
	return t.wakeReason == wakeSignal
}

// takeFromISR is the interrupt-context variant of take: a pure poll
// that never blocks.
func (s *sema) takeFromISR(op string) bool {
	s.k.isrContext(op)
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// remove detaches a task that stopped waiting (timeout, suspension,
// deletion) from the waiter queue.
func (s *sema) remove(t *Task) {
	if i := s.waiters.Index(func(x *Task) bool { return x == t }); i >= 0 {
		s.waiters.Remove(i)
	}
}
