package cortos

import (
	"container/heap"
	"context"
	"runtime/trace"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

const (
	kernelTraceTaskType = "cortos-kernel"
	kernelTraceCategory = "cortos"
)

const (
	// DefaultTickRate is the tick frequency in Hz used unless
	// overridden with WithTickRate.
	DefaultTickRate = 1000

	// DefaultPriorities is the number of priority levels. Priority 0
	// is the idle priority; the highest level is reserved for the
	// timer daemon task.
	DefaultPriorities = 8

	// DefaultControlBlocks is the size of the static task
	// control-block pool. One extra block is always reserved for the
	// timer daemon.
	DefaultControlBlocks = 16
)

// config holds kernel construction parameters.
type config struct {
	tickRate   uint32
	priorities int
	blocks     int
	realTime   bool
}

// Option configures a Kernel at construction.
type Option func(*config)

// WithTickRate sets the tick frequency in Hz.
func WithTickRate(hz uint32) Option {
	return func(c *config) { c.tickRate = hz }
}

// WithPriorities sets the number of task priority levels.
func WithPriorities(n int) Option {
	return func(c *config) { c.priorities = n }
}

// WithControlBlocks sets the size of the static task control-block
// pool used by tasks spawned with WithStatic.
func WithControlBlocks(n int) Option {
	return func(c *config) { c.blocks = n }
}

// WithRealTime makes the kernel track wall-clock time instead of
// jumping the virtual tick clock forward when idle. With the default
// virtual clock, a kernel with nothing to run advances directly to
// the next deadline, which makes timeout behavior exact and tests
// deterministic; with a real-time clock it sleeps instead.
func WithRealTime() Option {
	return func(c *config) { c.realTime = true }
}

// Kernel owns the tick clock, the per-priority ready lists, and the
// scheduler loop. Every primitive in this package is created from a
// Kernel and operates only inside (or, for *FromISR operations,
// interleaved with) that kernel's Run loop.
//
// A Kernel and its primitives are confined to the goroutine that
// calls Run. The only entry point safe to call from other goroutines
// is Interrupt.
type Kernel struct {
	noCopy noCopy

	tickRate   uint32
	priorities int
	realTime   bool

	now   Tick
	epoch time.Time

	ready    []deque.Deque[*Task]
	sleepers sleepQueue
	tasks    []*Task
	current  *Task
	liveApp  int

	pool       []Task
	freeBlocks []int

	inISR        bool
	critical     int
	schedSuspend int
	stopped      bool
	running      bool

	irqMu sync.Mutex
	irq   []func(*ISR)
	irqCh chan struct{}

	ctx    context.Context
	daemon *Task
	timerQ *Queue[timerCommand]
}

// New creates a kernel. The kernel does nothing until Run is called.
func New(opts ...Option) *Kernel {
	cfg := config{
		tickRate:   DefaultTickRate,
		priorities: DefaultPriorities,
		blocks:     DefaultControlBlocks,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	kassert(cfg.tickRate > 0, "New", "tick rate must be positive")
	kassert(cfg.priorities >= 2, "New", "at least two priority levels required")
	kassert(cfg.blocks >= 0, "New", "control block count must not be negative")

	k := &Kernel{
		tickRate:   cfg.tickRate,
		priorities: cfg.priorities,
		realTime:   cfg.realTime,
		ready:      make([]deque.Deque[*Task], cfg.priorities),
		irqCh:      make(chan struct{}, 1),
	}

	// Block 0 is reserved for the timer daemon, mirroring the static
	// allocation hook a host kernel uses for its service tasks.
	k.pool = make([]Task, cfg.blocks+1)
	k.freeBlocks = make([]int, 0, cfg.blocks)
	for i := cfg.blocks; i >= 1; i-- {
		k.freeBlocks = append(k.freeBlocks, i)
	}
	k.timerQ = NewQueue[timerCommand](k, timerQueueLen)
	return k
}

// Now returns the current tick count.
func (k *Kernel) Now() Tick {
	return k.now
}

// TickRate returns the tick frequency in Hz.
func (k *Kernel) TickRate() uint32 {
	return k.tickRate
}

// Current returns the task being executed, or nil outside task
// context.
func (k *Kernel) Current() *Task {
	return k.current
}

// Stop requests the scheduler loop to exit after the current task
// step. It must be called from task or interrupt context; foreign
// goroutines stop the kernel by cancelling the context passed to
// Run.
func (k *Kernel) Stop() {
	k.stopped = true
}

// Run executes the scheduler loop until every application task has
// been deleted, Stop is called, or ctx is cancelled. Tasks may be
// spawned both before and during Run. Run must be called at most
// once per kernel.
func (k *Kernel) Run(ctx context.Context) {
	kassert(!k.running, "Run", "kernel already running")
	k.running = true
	k.epoch = time.Now()

	var tracer *trace.Task
	ctx, tracer = trace.NewTask(ctx, kernelTraceTaskType)
	defer tracer.End()

	k.ctx = ctx
	k.startTimerDaemon()
	defer k.shutdown()

	trace.Log(ctx, kernelTraceCategory, "RUN")

	for !k.stopped {
		if ctx.Err() != nil {
			return
		}
		k.advanceClock()
		k.dispatchInterrupts()
		k.wakeExpired()

		t := k.popReady()
		if t == nil {
			if k.liveApp == 0 {
				return
			}
			if at, ok := k.nextDeadline(); ok {
				k.idleUntil(ctx, at)
				continue
			}
			// Everything is blocked without a deadline; only an
			// interrupt can make progress.
			if !k.waitInterrupt(ctx) {
				return
			}
			continue
		}
		k.step(t)
	}
}

// step resumes one task until it blocks, yields, or returns.
func (k *Kernel) step(t *Task) {
	k.current = t
	t.state = StateRunning
	alive := t.resumeStep()
	k.current = nil

	if !alive {
		// The handler returned; the task deletes itself.
		t.state = StateDeleted
		k.release(t)
		return
	}
	if t.state == StateDeleted {
		t.cancel()
		k.release(t)
	}
}

// popReady returns the highest-priority ready task, or nil.
func (k *Kernel) popReady() *Task {
	for p := k.priorities - 1; p >= 0; p-- {
		if k.ready[p].Len() > 0 {
			return k.ready[p].PopFront()
		}
	}
	return nil
}

// makeReady moves a task to the ready list with the given wake
// reason. The caller must already have detached the task from any
// wait structure it was queued on.
func (k *Kernel) makeReady(t *Task, reason wakeReason) {
	t.wakeReason = reason
	t.cancelWait = nil
	t.state = StateReady
	k.ready[t.priority].PushBack(t)
}

// block suspends the current task until it is made ready again,
// registering a wake-up deadline unless timeout is Forever. On
// return the task's wakeReason records why it woke.
func (k *Kernel) block(t *Task, timeout time.Duration) {
	kassert(k.schedSuspend == 0, "block", "cannot block while the scheduler is suspended")
	kassert(k.critical == 0, "block", "cannot block inside a critical section")

	t.gen++
	t.wakeReason = wakeNone
	t.state = StateBlocked
	if timeout != Forever {
		heap.Push(&k.sleepers, sleeper{task: t, gen: t.gen, at: k.now + k.ticks(timeout)})
	}
	t.suspendSelf()
}

// sleepUntil blocks the current task until the given tick with no
// wait structure attached; only the deadline can wake it.
func (k *Kernel) sleepUntil(t *Task, at Tick) {
	kassert(k.schedSuspend == 0, "sleepUntil", "cannot block while the scheduler is suspended")
	kassert(k.critical == 0, "sleepUntil", "cannot block inside a critical section")

	t.gen++
	t.wakeReason = wakeNone
	t.state = StateBlocked
	heap.Push(&k.sleepers, sleeper{task: t, gen: t.gen, at: at})
	t.suspendSelf()
}

// wakeExpired readies every blocked task whose deadline has passed.
func (k *Kernel) wakeExpired() {
	for k.sleepers.Len() > 0 {
		s := k.sleepers[0]
		if s.at > k.now {
			return
		}
		heap.Pop(&k.sleepers)
		t := s.task
		if t.gen != s.gen || t.state != StateBlocked {
			continue // stale entry, the task was woken by other means
		}
		if t.cancelWait != nil {
			t.cancelWait()
		}
		k.makeReady(t, wakeTimeout)
	}
}

// nextDeadline reports the earliest live wake-up deadline.
func (k *Kernel) nextDeadline() (Tick, bool) {
	for k.sleepers.Len() > 0 {
		s := k.sleepers[0]
		if s.task.gen == s.gen && s.task.state == StateBlocked {
			return s.at, true
		}
		heap.Pop(&k.sleepers)
	}
	return 0, false
}

// idleUntil advances time to the given tick. With the virtual clock
// this is a direct jump; in real-time mode the kernel sleeps and can
// be woken early by an interrupt or context cancellation.
func (k *Kernel) idleUntil(ctx context.Context, at Tick) {
	if !k.realTime {
		k.now = at
		return
	}
	wait := k.duration(at) - time.Since(k.epoch)
	if wait <= 0 {
		k.advanceClock()
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-k.irqCh:
	case <-timer.C:
	}
	k.advanceClock()
}

// advanceClock syncs the tick count with wall-clock time in
// real-time mode. The virtual clock only moves in idleUntil.
func (k *Kernel) advanceClock() {
	if !k.realTime {
		return
	}
	elapsed := k.ticks(time.Since(k.epoch))
	if elapsed > k.now {
		k.now = elapsed
	}
}

// waitInterrupt parks the scheduler until an interrupt is injected.
// It returns false when ctx was cancelled instead.
func (k *Kernel) waitInterrupt(ctx context.Context) bool {
	k.irqMu.Lock()
	pending := len(k.irq) > 0
	k.irqMu.Unlock()
	if pending {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-k.irqCh:
		return true
	}
}

// shutdown unwinds every coroutine that is still alive so no
// goroutines leak past Run.
func (k *Kernel) shutdown() {
	for _, t := range k.tasks {
		if t.state != StateDeleted && t.cancel != nil {
			t.state = StateDeleted
			t.cancel()
		}
	}
}

// currentTask asserts task context and returns the running task. op
// names the operation for the Fault raised on misuse.
func (k *Kernel) currentTask(op string) *Task {
	kassert(!k.inISR, op, "not allowed in interrupt context")
	kassert(k.current != nil, op, "requires a running task")
	return k.current
}

// taskContext asserts that an operation is not being used from
// interrupt context. Unlike currentTask it is also satisfied before
// Run starts, so non-blocking operations may be used while wiring a
// system together.
func (k *Kernel) taskContext(op string) {
	kassert(!k.inISR, op, "not allowed in interrupt context, use the FromISR variant")
}

// isrContext asserts that an operation is only used from interrupt
// context.
func (k *Kernel) isrContext(op string) {
	kassert(k.inISR, op, "only allowed in interrupt context")
}

// Yield requests a switch to another ready task of equal or higher
// priority. If none exists the calling task continues. Yield is a
// no-op while the scheduler is suspended.
func (k *Kernel) Yield() {
	t := k.currentTask("Yield")
	if k.schedSuspend > 0 {
		return
	}
	t.wakeReason = wakeNone
	t.state = StateReady
	k.ready[t.priority].PushBack(t)
	t.suspendSelf()
}

// SuspendAll suspends the scheduler: the calling task keeps running
// but no context switch to another task will occur until ResumeAll.
// Interrupt delivery stays enabled. Blocking while the scheduler is
// suspended is a fatal error. Calls nest.
func (k *Kernel) SuspendAll() {
	k.currentTask("SuspendAll")
	k.schedSuspend++
}

// ResumeAll resumes the scheduler after SuspendAll.
func (k *Kernel) ResumeAll() {
	k.currentTask("ResumeAll")
	kassert(k.schedSuspend > 0, "ResumeAll", "scheduler is not suspended")
	k.schedSuspend--
}

// EnterCritical enters a critical section, masking interrupt
// delivery until the matching ExitCritical. Calls nest. Keep the
// protected region minimal: while it is held nothing else in the
// system makes progress.
func (k *Kernel) EnterCritical() {
	k.taskContext("EnterCritical")
	k.critical++
}

// ExitCritical leaves a critical section entered with EnterCritical.
func (k *Kernel) ExitCritical() {
	k.taskContext("ExitCritical")
	kassert(k.critical > 0, "ExitCritical", "not in a critical section")
	k.critical--
}

// ISR is the capability handed to interrupt handlers. Operations on
// it, and the *FromISR methods of the primitives, are the only calls
// legal inside a handler.
type ISR struct {
	k *Kernel
}

// Kernel returns the kernel this interrupt was delivered to.
func (i *ISR) Kernel() *Kernel {
	return i.k
}

// Now returns the current tick count.
func (i *ISR) Now() Tick {
	return i.k.now
}

// EnterCritical enters a critical section from interrupt context and
// returns the interrupt-mask token that must be passed to
// ExitCritical to restore the previous state.
func (i *ISR) EnterCritical() uint32 {
	mask := uint32(i.k.critical)
	i.k.critical++
	return mask
}

// ExitCritical restores the interrupt mask saved by EnterCritical.
func (i *ISR) ExitCritical(mask uint32) {
	kassert(i.k.critical > 0, "ISR.ExitCritical", "not in a critical section")
	i.k.critical = int(mask)
}

// Interrupt injects an interrupt handler. The handler runs in
// interrupt context between task steps, never in the middle of one,
// and must not block; it may only use *FromISR operations and the
// ISR capability it receives. Interrupt is the one Kernel entry
// point that is safe to call from any goroutine.
func (k *Kernel) Interrupt(fn func(*ISR)) {
	kassert(fn != nil, "Interrupt", "nil handler")
	k.irqMu.Lock()
	k.irq = append(k.irq, fn)
	k.irqMu.Unlock()
	select {
	case k.irqCh <- struct{}{}:
	default:
	}
}

// dispatchInterrupts delivers pending interrupts unless they are
// masked by a critical section.
func (k *Kernel) dispatchInterrupts() {
	if k.critical > 0 {
		return
	}
	k.irqMu.Lock()
	pending := k.irq
	k.irq = nil
	k.irqMu.Unlock()

	for _, fn := range pending {
		k.inISR = true
		fn(&ISR{k: k})
		k.inISR = false
	}
}

// sleeper is one pending wake-up deadline. Entries are invalidated
// lazily: a task woken by other means bumps its generation the next
// time it blocks, and stale entries are discarded when they surface.
type sleeper struct {
	task *Task
	gen  uint64
	at   Tick
}

// sleepQueue is a min-heap of sleepers ordered by deadline.
type sleepQueue []sleeper

func (q sleepQueue) Len() int           { return len(q) }
func (q sleepQueue) Less(i, j int) bool { return q[i].at < q[j].at }
func (q sleepQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *sleepQueue) Push(x any)        { *q = append(*q, x.(sleeper)) }
func (q *sleepQueue) Pop() any {
	old := *q
	n := len(old)
	s := old[n-1]
	*q = old[:n-1]
	return s
}
