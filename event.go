package cortos

import (
	"time"

	"github.com/gammazero/deque"
)

// EventGroup is a set of event flags tasks can block on. Unlike a
// semaphore, setting bits wakes every waiter whose condition becomes
// true, which makes event groups the tool for broadcasting state
// ("sensor ready", "link up") rather than handing out a resource.
type EventGroup struct {
	noCopy  noCopy
	k       *Kernel
	bits    uint32
	waiters deque.Deque[*eventWaiter]
}

// eventWaiter is one blocked WaitBits call.
type eventWaiter struct {
	task  *Task
	mask  uint32
	all   bool
	clear bool
	got   uint32
}

// NewEventGroup creates an event group with all bits clear.
func (k *Kernel) NewEventGroup() *EventGroup {
	return &EventGroup{k: k}
}

// Bits returns the current flag value. Like a semaphore count, this
// is a diagnostic snapshot only.
func (e *EventGroup) Bits() uint32 {
	return e.bits
}

// WaitBits blocks the calling task until the flags in mask are set —
// any of them, or all of them when waitAll is true — or the timeout
// elapses. It returns the flag value at the moment the condition was
// met and whether it was met; on timeout it returns the current
// value and false. When clearOnExit is true, a satisfied wait clears
// the bits in mask before returning.
func (e *EventGroup) WaitBits(mask uint32, waitAll, clearOnExit bool, timeout time.Duration) (uint32, bool) {
	e.k.taskContext("EventGroup.WaitBits")
	kassert(mask != 0, "EventGroup.WaitBits", "empty wait mask")

	if satisfied(e.bits, mask, waitAll) {
		v := e.bits
		if clearOnExit {
			e.bits &^= mask
		}
		return v, true
	}
	if timeout == 0 {
		return e.bits, false
	}

	t := e.k.currentTask("EventGroup.WaitBits")
	w := &eventWaiter{task: t, mask: mask, all: waitAll, clear: clearOnExit}
	e.waiters.PushBack(w)
	t.cancelWait = func() { e.remove(w) }
	e.k.block(t, timeout)
	if t.wakeReason == wakeSignal {
		return w.got, true
	}
	return e.bits, false
}

// SetBits sets the flags in mask and wakes every waiter whose
// condition is now met. It returns the flag value after any
// clear-on-exit masks of the woken waiters have been applied.
func (e *EventGroup) SetBits(mask uint32) uint32 {
	e.k.taskContext("EventGroup.SetBits")
	return e.set(mask)
}

// SetBitsFromISR is the interrupt-context variant of SetBits. Woken
// waiters run after the interrupt handler returns.
func (e *EventGroup) SetBitsFromISR(mask uint32) uint32 {
	e.k.isrContext("EventGroup.SetBitsFromISR")
	return e.set(mask)
}

// ClearBits clears the flags in mask and returns the value the group
// held before the clear.
func (e *EventGroup) ClearBits(mask uint32) uint32 {
	e.k.taskContext("EventGroup.ClearBits")
	prev := e.bits
	e.bits &^= mask
	return prev
}

func (e *EventGroup) set(mask uint32) uint32 {
	e.bits |= mask
	for i := 0; i < e.waiters.Len(); {
		w := e.waiters.At(i)
		if !satisfied(e.bits, w.mask, w.all) {
			i++
			continue
		}
		w.got = e.bits
		if w.clear {
			e.bits &^= w.mask
		}
		e.waiters.Remove(i)
		e.k.makeReady(w.task, wakeSignal)
	}
	return e.bits
}

func (e *EventGroup) remove(w *eventWaiter) {
	if i := e.waiters.Index(func(x *eventWaiter) bool { return x == w }); i >= 0 {
		e.waiters.Remove(i)
	}
}

func satisfied(bits, mask uint32, all bool) bool {
	if all {
		return bits&mask == mask
	}
	return bits&mask != 0
}
