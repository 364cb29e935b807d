package cortos

import (
	"context"
	"time"
)

// timerQueueLen is the capacity of the timer command queue; one slot
// disambiguates full from empty, so 15 commands fit.
const timerQueueLen = 16

const (
	timerCmdStart uint8 = iota
	timerCmdStop
	timerCmdDelete
)

// timerCommand is one start/stop/delete request posted to the timer
// daemon.
type timerCommand struct {
	kind uint8
	t    *Timer
	at   Tick // tick at which the command was posted
}

// TimerOption configures a timer at creation.
type TimerOption func(*Timer)

// WithTimerName sets the timer name, for diagnostics.
func WithTimerName(name string) TimerOption {
	return func(t *Timer) { t.name = name }
}

// WithTimerID attaches an opaque identifier to the timer. A callback
// shared between several timers can use it to tell which one
// expired.
func WithTimerID(id any) TimerOption {
	return func(t *Timer) { t.id = id }
}

// Timer is a software timer serviced by a kernel-owned daemon task.
// The callback runs on the daemon task, never inline with Start or
// Stop: when Start returns, the command has been queued, not
// executed. Callbacks run in task context and should not block for
// long, since they delay every other timer.
type Timer struct {
	noCopy noCopy

	k          *Kernel
	name       string
	id         any
	callback   func(*Timer)
	period     Tick
	autoreload bool

	// Owned by the daemon task after creation.
	active bool
	expiry Tick

	deleted bool
}

// NewTimer creates a software timer that invokes callback every
// period when autoreload is true, or once after period when false.
// The timer is created dormant; call Start to arm it. A nil callback
// or a period shorter than one tick is a fatal configuration error.
func (k *Kernel) NewTimer(callback func(*Timer), period time.Duration, autoreload bool, opts ...TimerOption) *Timer {
	kassert(callback != nil, "NewTimer", "nil callback")
	ticks := k.ticks(period)
	kassert(ticks > 0, "NewTimer", "period must be at least one tick")

	t := &Timer{
		k:          k,
		callback:   callback,
		period:     ticks,
		autoreload: autoreload,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the timer name.
func (t *Timer) Name() string {
	return t.name
}

// ID returns the identifier attached with WithTimerID.
func (t *Timer) ID() any {
	return t.id
}

// Period returns the timer period.
func (t *Timer) Period() time.Duration {
	return t.k.duration(t.period)
}

// Start arms the timer: it will expire one period after the command
// is posted. Starting an armed timer restarts its period. The
// calling task blocks for up to wait for space in the timer command
// queue; failure to post by then is fatal, since a lost timer
// command leaves the system in an undefined timing state.
func (t *Timer) Start(wait time.Duration) {
	t.post("Timer.Start", timerCmdStart, wait)
}

// Stop disarms the timer. A pending expiration that has not yet run
// is abandoned. The wait bounds the block on the command queue as in
// Start.
func (t *Timer) Stop(wait time.Duration) {
	t.post("Timer.Stop", timerCmdStop, wait)
}

// Delete disarms the timer and invalidates it. Further Start or Stop
// calls are fatal errors; Delete itself is idempotent.
func (t *Timer) Delete(wait time.Duration) {
	if t.deleted {
		return
	}
	t.post("Timer.Delete", timerCmdDelete, wait)
	t.deleted = true
}

// post queues a command for the daemon, retrying at tick granularity
// until the bounded wait is exhausted.
func (t *Timer) post(op string, kind uint8, wait time.Duration) {
	k := t.k
	k.taskContext(op)
	kassert(!t.deleted, op, "timer deleted")

	cmd := timerCommand{kind: kind, t: t, at: k.now}
	if k.timerQ.TryPushBack(cmd) {
		return
	}
	kassert(wait != 0, op, "timer command queue full")
	deadline := k.now + k.ticks(wait)
	for {
		k.Delay(k.duration(1))
		if k.timerQ.TryPushBack(cmd) {
			return
		}
		kassert(wait == Forever || k.now < deadline, op, "timer command queue full")
	}
}

// startTimerDaemon spawns the daemon task at the highest priority so
// expirations are serviced ahead of application work. Its control
// block comes from the pool slot reserved at kernel construction.
func (k *Kernel) startTimerDaemon() {
	k.daemon = k.Spawn(
		k.timerDaemon,
		WithName("timer-svc"),
		WithPriority(k.priorities-1),
		withDaemon(),
	)
}

// TimerService returns the daemon task that services software
// timers.
func (k *Kernel) TimerService() *Task {
	return k.daemon
}

func withDaemon() TaskOption {
	return func(c *taskConfig) { c.daemon = true }
}

// timerDaemon drains the command queue and fires due timers. It
// sleeps on the queue until the next expiry, so an idle timer set
// costs nothing per tick.
func (k *Kernel) timerDaemon(ctx context.Context, self *Task) {
	var active []*Timer
	for ctx.Err() == nil {
		wait := Forever
		if next, ok := nextTimerExpiry(active); ok {
			if next <= k.now {
				wait = 0
			} else {
				wait = k.duration(next - k.now)
			}
		}
		if cmd, ok := k.timerQ.Front(wait); ok {
			c := *cmd
			k.timerQ.Pop()
			active = applyTimerCommand(active, c)
		}
		active = k.fireDueTimers(active)
	}
}

func nextTimerExpiry(active []*Timer) (Tick, bool) {
	var next Tick
	found := false
	for _, t := range active {
		if !found || t.expiry < next {
			next = t.expiry
			found = true
		}
	}
	return next, found
}

func applyTimerCommand(active []*Timer, c timerCommand) []*Timer {
	t := c.t
	switch c.kind {
	case timerCmdStart:
		t.expiry = c.at + t.period
		t.active = true
		for _, a := range active {
			if a == t {
				return active
			}
		}
		return append(active, t)
	case timerCmdStop, timerCmdDelete:
		t.active = false
		for i, a := range active {
			if a == t {
				return append(active[:i], active[i+1:]...)
			}
		}
	}
	return active
}

// fireDueTimers runs the callback of every timer whose expiry has
// passed. Auto-reloading timers advance by exactly one period per
// firing, so a daemon delayed past several periods catches up one
// callback at a time.
func (k *Kernel) fireDueTimers(active []*Timer) []*Timer {
	out := active[:0]
	for _, t := range active {
		if t.active && t.expiry <= k.now {
			t.callback(t)
			if t.autoreload {
				t.expiry += t.period
			} else {
				t.active = false
			}
		}
		if t.active {
			out = append(out, t)
		}
	}
	return out
}
