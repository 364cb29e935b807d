package cortos

import (
	"context"
	"fmt"
	"runtime/trace"
	"strings"
	"time"

	"github.com/webriots/coro"
)

const (
	taskTraceCategory = "cortos"

	// DefaultPriority is one above the idle priority.
	DefaultPriority = 1

	// notifySlots is the number of direct-notification slots each
	// task carries.
	notifySlots = 4
)

// TaskState is the lifecycle state of a task.
type TaskState int

const (
	StateReady TaskState = iota
	StateRunning
	StateBlocked
	StateSuspended
	StateDeleted
)

// String returns the state name.
func (s TaskState) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateSuspended:
		return "Suspended"
	case StateDeleted:
		return "Deleted"
	}
	return "Unknown"
}

// wakeReason records why a blocked task was made ready again.
type wakeReason uint8

const (
	wakeNone wakeReason = iota
	wakeSignal
	wakeTimeout
)

// taskConfig holds task construction parameters.
type taskConfig struct {
	name     string
	priority int
	static   bool
	daemon   bool
}

// TaskOption configures a task at spawn time.
type TaskOption func(*taskConfig)

// WithName sets the task name, used for tracing and diagnostics.
func WithName(name string) TaskOption {
	return func(c *taskConfig) { c.name = name }
}

// WithPriority sets the task priority. Valid priorities range from 0
// (idle) to the kernel's priority count minus one; higher runs
// first.
func WithPriority(p int) TaskOption {
	return func(c *taskConfig) { c.priority = p }
}

// WithStatic allocates the task's control block from the kernel's
// preallocated pool instead of the heap. Spawning a static task when
// the pool is exhausted is a fatal configuration error: on a target
// without a fallback allocator there is nothing sensible to fall
// back to.
func WithStatic() TaskOption {
	return func(c *taskConfig) { c.static = true }
}

// Task is a coroutine-backed unit of execution scheduled by a
// Kernel. A task runs until it blocks, yields, or its handler
// returns; returning deletes the task.
//
// A Task owns exactly one execution context for its whole lifetime
// and must not be copied.
type Task struct {
	noCopy noCopy

	k        *Kernel
	name     string
	priority int
	daemon   bool
	poolIdx  int // index into the kernel's block pool, -1 when heap allocated

	state   TaskState
	handler func(context.Context, *Task)
	ctx     context.Context
	resume  func(struct{}) (struct{}, bool)
	cancel  func()
	suspend func() struct{}

	// gen increments every time the task blocks; it invalidates
	// stale entries in the kernel's sleep queue.
	gen        uint64
	wakeReason wakeReason
	cancelWait func()

	notify     [notifySlots]uint32
	notifyWait int
}

// Spawn creates a task running handler and adds it to the ready
// list. The handler receives a context carrying the task, retrievable
// with TaskFromContext. Tasks may be spawned before Run and from
// other tasks, but not from interrupt context.
func (k *Kernel) Spawn(handler func(context.Context, *Task), opts ...TaskOption) *Task {
	k.taskContext("Spawn")
	kassert(handler != nil, "Spawn", "nil handler")

	cfg := taskConfig{priority: DefaultPriority}
	for _, opt := range opts {
		opt(&cfg)
	}
	kassert(cfg.priority >= 0 && cfg.priority < k.priorities, "Spawn", "priority out of range")

	t := k.allocTask(cfg)
	t.k = k
	t.name = cfg.name
	t.priority = cfg.priority
	t.daemon = cfg.daemon
	t.handler = handler
	t.notifyWait = -1
	t.state = StateReady

	k.tasks = append(k.tasks, t)
	if !t.daemon {
		k.liveApp++
	}
	k.ready[t.priority].PushBack(t)
	return t
}

// allocTask obtains a control block per the configured storage
// strategy. The strategy is fixed for the task's whole lifetime.
func (k *Kernel) allocTask(cfg taskConfig) *Task {
	if cfg.daemon {
		t := &k.pool[0] // reserved for the timer daemon
		gen := t.gen
		*t = Task{poolIdx: 0, gen: gen}
		return t
	}
	if cfg.static {
		kassert(len(k.freeBlocks) > 0, "Spawn", "static control block pool exhausted")
		idx := k.freeBlocks[len(k.freeBlocks)-1]
		k.freeBlocks = k.freeBlocks[:len(k.freeBlocks)-1]
		t := &k.pool[idx]
		// gen survives block reuse so sleep-queue entries from the
		// block's previous life stay invalid.
		gen := t.gen
		*t = Task{poolIdx: idx, gen: gen}
		return t
	}
	return &Task{poolIdx: -1}
}

// release returns a deleted task's control block to the pool.
func (k *Kernel) release(t *Task) {
	if !t.daemon {
		k.liveApp--
	}
	if t.poolIdx > 0 {
		k.freeBlocks = append(k.freeBlocks, t.poolIdx)
	}
}

// start binds the task to a coroutine. Deferred until the first
// dispatch so the kernel's run context is available.
func (t *Task) start() {
	ctx := withTaskContext(t.k.ctx, t)
	t.ctx = ctx
	t.resume, t.cancel = coro.New(
		func(_ func(struct{}) struct{}, suspend func() struct{}) (z struct{}) {
			t.suspend = suspend
			t.handler(ctx, t)
			return
		},
	)
}

// resumeStep resumes the coroutine for one step. It reports false
// once the handler has returned.
func (t *Task) resumeStep() bool {
	if t.resume == nil {
		t.start()
	}
	_, alive := t.resume(struct{}{})
	return alive
}

// suspendSelf hands control back to the scheduler loop.
func (t *Task) suspendSelf() {
	t.suspend()
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Priority returns the task priority.
func (t *Task) Priority() int {
	return t.priority
}

// State returns the task's lifecycle state.
func (t *Task) State() TaskState {
	return t.state
}

// detach removes the task from whatever scheduler structure it is
// currently queued on.
func (t *Task) detach() {
	switch t.state {
	case StateReady:
		q := &t.k.ready[t.priority]
		if i := q.Index(func(x *Task) bool { return x == t }); i >= 0 {
			q.Remove(i)
		}
	case StateBlocked:
		if t.cancelWait != nil {
			t.cancelWait()
			t.cancelWait = nil
		}
		t.gen++
	}
}

// Delete removes the task from the scheduler. Deleting an
// already-deleted task is a no-op. A task may delete itself, in
// which case Delete does not return.
//
// Deleting another task unwinds its coroutine immediately: deferred
// functions in its handler run during the Delete call and must not
// use blocking kernel operations.
func (t *Task) Delete() {
	k := t.k
	k.taskContext("Task.Delete")
	if t.state == StateDeleted {
		return
	}
	if t == k.current {
		t.state = StateDeleted
		t.suspendSelf()
		return
	}
	t.detach()
	t.state = StateDeleted
	if t.cancel != nil {
		t.cancel()
	}
	k.release(t)
}

// SelfDelete deletes the currently running task. It never returns.
// Returning from the task handler is equivalent.
func (k *Kernel) SelfDelete() {
	t := k.currentTask("SelfDelete")
	t.state = StateDeleted
	t.suspendSelf()
}

// Suspend moves the task to the Suspended state. A task blocked on a
// primitive leaves its wait queue; if it is later resumed, the
// blocking operation reports failure as if it had timed out.
// Suspending the running task takes effect immediately.
func (t *Task) Suspend() {
	k := t.k
	k.taskContext("Task.Suspend")
	kassert(t.state != StateDeleted, "Task.Suspend", "task already deleted")
	if t == k.current {
		t.state = StateSuspended
		t.suspendSelf()
		return
	}
	t.detach()
	t.state = StateSuspended
}

// Resume makes a suspended task ready again. Resuming a task that is
// not suspended is a no-op.
func (t *Task) Resume() {
	k := t.k
	k.taskContext("Task.Resume")
	if t.state != StateSuspended {
		return
	}
	k.makeReady(t, wakeNone)
}

// NotifyGive increments the task's default notification slot and
// wakes the task if it is waiting on it. This is the lightest-weight
// way to signal a single known task.
func (t *Task) NotifyGive() {
	t.NotifyGiveIndexed(0)
}

// NotifyGiveIndexed increments the notification slot at index.
func (t *Task) NotifyGiveIndexed(index int) {
	t.k.taskContext("Task.NotifyGive")
	t.notifyGive(index)
}

// NotifyGiveFromISR is the interrupt-context variant of NotifyGive.
func (t *Task) NotifyGiveFromISR() {
	t.NotifyGiveIndexedFromISR(0)
}

// NotifyGiveIndexedFromISR is the interrupt-context variant of
// NotifyGiveIndexed.
func (t *Task) NotifyGiveIndexedFromISR(index int) {
	t.k.isrContext("Task.NotifyGiveFromISR")
	t.notifyGive(index)
}

func (t *Task) notifyGive(index int) {
	kassert(index >= 0 && index < notifySlots, "Task.NotifyGive", "notification index out of range")
	kassert(t.state != StateDeleted, "Task.NotifyGive", "task already deleted")
	t.notify[index]++
	if t.state == StateBlocked && t.notifyWait == index {
		t.notifyWait = -1
		t.k.makeReady(t, wakeSignal)
	}
}

// NotifyTake waits on the default notification slot. See
// NotifyTakeIndexed.
func (t *Task) NotifyTake(timeout time.Duration, reset bool) uint32 {
	return t.NotifyTakeIndexed(0, timeout, reset)
}

// NotifyTakeIndexed blocks the calling task until the notification
// slot at index is non-zero or the timeout elapses, and returns the
// slot's value at that point (zero on timeout). When reset is true
// the slot is cleared to zero on success, otherwise it is
// decremented, making the slot behave like a binary or a counting
// semaphore respectively.
func (t *Task) NotifyTakeIndexed(index int, timeout time.Duration, reset bool) uint32 {
	k := t.k
	cur := k.currentTask("Task.NotifyTake")
	kassert(cur == t, "Task.NotifyTake", "tasks may only take their own notifications")
	kassert(index >= 0 && index < notifySlots, "Task.NotifyTake", "notification index out of range")

	if t.notify[index] == 0 {
		if timeout == 0 {
			return 0
		}
		t.notifyWait = index
		t.cancelWait = func() { t.notifyWait = -1 }
		k.block(t, timeout)
		if t.notify[index] == 0 {
			return 0
		}
	}

	v := t.notify[index]
	if reset {
		t.notify[index] = 0
	} else {
		t.notify[index]--
	}
	return v
}

// Log writes a message to the execution trace when tracing is
// enabled.
func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		t.tracePrefix(&sb)
		sb.WriteString(msg)
		trace.Log(t.ctx, taskTraceCategory, sb.String())
	}
}

// Logf writes a formatted message to the execution trace when
// tracing is enabled.
func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		t.tracePrefix(&sb)
		fmt.Fprintf(&sb, format, args...)
		trace.Log(t.ctx, taskTraceCategory, sb.String())
	}
}

func (t *Task) tracePrefix(sb *strings.Builder) {
	if t.name != "" {
		sb.WriteString(t.name)
	} else {
		fmt.Fprintf(sb, "%p", t)
	}
	sb.WriteRune(' ')
}
