package cortos

import "time"

// Delay blocks the calling task for at least d. A zero or negative
// delay yields to other ready tasks of the same priority instead of
// sleeping.
func (k *Kernel) Delay(d time.Duration) {
	t := k.currentTask("Delay")
	if d == Forever {
		k.block(t, Forever)
		return
	}
	n := k.ticks(d)
	if n == 0 {
		k.Yield()
		return
	}
	k.sleepUntil(t, k.now+n)
}

// DelayUntil blocks the calling task until the given tick. It
// returns immediately when the tick has already passed.
func (k *Kernel) DelayUntil(at Tick) {
	t := k.currentTask("DelayUntil")
	if at <= k.now {
		return
	}
	k.sleepUntil(t, at)
}

// CycleTimer produces drift-free periodic waits. It keeps a rolling
// reference tick and each Wait advances the reference by exactly one
// period, not to the actual wake time, so a cycle that overruns its
// deadline shortens the next wait instead of shifting the whole
// cadence.
type CycleTimer struct {
	noCopy   noCopy
	k        *Kernel
	lastWake Tick
}

// NewCycleTimer creates a cycle timer with its reference set to the
// current tick.
func (k *Kernel) NewCycleTimer() *CycleTimer {
	return &CycleTimer{k: k, lastWake: k.now}
}

// Reset captures the current tick as the new reference point.
func (c *CycleTimer) Reset() {
	c.lastWake = c.k.now
}

// Wait blocks the calling task until one period past the reference,
// then advances the reference by exactly the period. When the
// deadline has already passed the call returns immediately and the
// next Wait compensates.
func (c *CycleTimer) Wait(period time.Duration) {
	k := c.k
	k.currentTask("CycleTimer.Wait")
	target := c.lastWake + k.ticks(period)
	c.lastWake = target
	k.DelayUntil(target)
}
