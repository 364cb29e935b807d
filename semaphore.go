package cortos

import "time"

// BinarySemaphore is a two-state signaling primitive. It is created
// in the "not signaled" state: the first Take blocks until a Give
// occurs. Give is release-as-signal, Take is acquire-as-wait, which
// makes it the natural primitive for one-shot wakeups between a task
// or interrupt and a single waiter.
type BinarySemaphore struct {
	noCopy noCopy
	s      sema
}

// NewBinarySemaphore creates a binary semaphore in the not-signaled
// state.
func (k *Kernel) NewBinarySemaphore() *BinarySemaphore {
	b := &BinarySemaphore{}
	b.s.init(k, 0, 1)
	return b
}

// Give signals the semaphore. It reports false when the semaphore
// was already signaled.
func (b *BinarySemaphore) Give() bool {
	return b.s.give("BinarySemaphore.Give")
}

// Take waits for the semaphore to be signaled, blocking the calling
// task for up to timeout. It reports false on timeout.
func (b *BinarySemaphore) Take(timeout time.Duration) bool {
	return b.s.take("BinarySemaphore.Take", timeout)
}

// GiveFromISR signals the semaphore from interrupt context.
func (b *BinarySemaphore) GiveFromISR() bool {
	return b.s.giveFromISR("BinarySemaphore.GiveFromISR")
}

// TakeFromISR polls the semaphore from interrupt context without
// blocking.
func (b *BinarySemaphore) TakeFromISR() bool {
	return b.s.takeFromISR("BinarySemaphore.TakeFromISR")
}

// CountingSemaphore is a signaling primitive with a bounded integer
// count. Give increments the count, failing once the maximum is
// reached; Take decrements it, blocking while it is zero.
type CountingSemaphore struct {
	noCopy noCopy
	s      sema
}

// NewCountingSemaphore creates a counting semaphore with the given
// initial count and maximum. An initial count above the maximum is a
// fatal configuration error.
func (k *Kernel) NewCountingSemaphore(initial, max uint32) *CountingSemaphore {
	c := &CountingSemaphore{}
	c.s.init(k, initial, max)
	return c
}

// Give increments the count, waking one waiting task if any. It
// reports false when the count is already at its maximum.
func (c *CountingSemaphore) Give() bool {
	return c.s.give("CountingSemaphore.Give")
}

// Take decrements the count, blocking the calling task for up to
// timeout while the count is zero. It reports false on timeout.
func (c *CountingSemaphore) Take(timeout time.Duration) bool {
	return c.s.take("CountingSemaphore.Take", timeout)
}

// GiveFromISR increments the count from interrupt context.
func (c *CountingSemaphore) GiveFromISR() bool {
	return c.s.giveFromISR("CountingSemaphore.GiveFromISR")
}

// TakeFromISR polls the count from interrupt context without
// blocking.
func (c *CountingSemaphore) TakeFromISR() bool {
	return c.s.takeFromISR("CountingSemaphore.TakeFromISR")
}

// Count returns the current count. The value is a diagnostic
// snapshot: it may change as soon as another task or interrupt runs,
// so it must not drive synchronization decisions.
func (c *CountingSemaphore) Count() uint32 {
	return c.s.count
}
