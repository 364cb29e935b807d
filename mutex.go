package cortos

import "time"

// Mutex provides mutual exclusion between tasks. It allows only one
// task to hold the lock at a time, blocking other tasks that attempt
// to acquire it until it is released.
//
// The mutex is not recursive: a task that locks it twice without an
// intervening unlock deadlocks itself.
type Mutex struct {
	noCopy noCopy
	s      sema
}

// NewMutex creates a mutex in the unlocked state.
func (k *Kernel) NewMutex() *Mutex {
	m := &Mutex{}
	m.s.init(k, 1, 1)
	return m
}

// Lock acquires the mutex, blocking the calling task for up to
// timeout. It reports false on timeout; timing out is an expected
// outcome of contention, not an error.
func (m *Mutex) Lock(timeout time.Duration) bool {
	return m.s.take("Mutex.Lock", timeout)
}

// Unlock releases the mutex, waking one waiting task if any. It
// reports false when the mutex was not locked, i.e. a release
// without a matching acquire.
func (m *Mutex) Unlock() bool {
	return m.s.give("Mutex.Unlock")
}

// LockFromISR acquires the mutex from interrupt context. It never
// blocks; it reports false when the mutex is unavailable.
func (m *Mutex) LockFromISR() bool {
	return m.s.takeFromISR("Mutex.LockFromISR")
}

// UnlockFromISR releases the mutex from interrupt context.
func (m *Mutex) UnlockFromISR() bool {
	return m.s.giveFromISR("Mutex.UnlockFromISR")
}
