package cortos

import "context"

// TaskGroup manages a set of tasks spawned for one piece of work and
// collects the first error that occurs. All tasks in the group share
// a context that is cancelled when any of them fails, and Wait
// blocks the owning task until every member has finished.
type TaskGroup struct {
	k      *Kernel
	ctx    context.Context
	cancel context.CancelCauseFunc
	active int
	waiter *Task
	err    error
}

// Group creates a task group owned by the receiver. The group's
// context derives from the task's context.
func (t *Task) Group() *TaskGroup {
	ctx, cancel := context.WithCancelCause(t.ctx)
	return &TaskGroup{k: t.k, ctx: ctx, cancel: cancel}
}

// Go spawns a member task running fn with the group's context. If fn
// returns an error, the group records the first one and cancels the
// shared context.
func (g *TaskGroup) Go(fn func(context.Context) error, opts ...TaskOption) {
	kassert(fn != nil, "TaskGroup.Go", "nil function")
	g.active++
	g.k.Spawn(func(_ context.Context, task *Task) {
		ctx := withTaskContext(g.ctx, task)
		if err := fn(ctx); err != nil && g.err == nil {
			g.err = err
			g.cancel(err)
		}
		g.active--
		if g.active == 0 && g.waiter != nil {
			w := g.waiter
			g.waiter = nil
			g.k.makeReady(w, wakeSignal)
		}
	}, opts...)
}

// Wait blocks the calling task until every member has finished and
// returns the first error encountered, or nil. Only one task may
// wait on a group.
func (g *TaskGroup) Wait() error {
	if g.active > 0 {
		t := g.k.currentTask("TaskGroup.Wait")
		kassert(g.waiter == nil, "TaskGroup.Wait", "group already has a waiter")
		g.waiter = t
		g.k.block(t, Forever)
	}
	g.cancel(g.err)
	return g.err
}
