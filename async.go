package cortos

import (
	"context"
	"time"
)

// Job is a one-shot asynchronous callback running on its own task.
// The task deletes itself when the callback returns, after signaling
// an internal binary semaphore that Join waits on.
type Job struct {
	noCopy noCopy
	done   *BinarySemaphore
}

// Async runs job on a newly spawned task and returns a handle to
// join on. Task options (name, priority, static allocation) apply to
// the spawned task.
func (k *Kernel) Async(job func(), opts ...TaskOption) *Job {
	kassert(job != nil, "Async", "nil job")
	j := &Job{done: k.NewBinarySemaphore()}
	k.Spawn(func(context.Context, *Task) {
		job()
		j.done.Give()
	}, opts...)
	return j
}

// Join blocks the calling task until the job has completed, for up
// to timeout. It reports false on timeout; the job keeps running
// either way, and a later Join can still observe its completion.
func (j *Job) Join(timeout time.Duration) bool {
	return j.done.Take(timeout)
}
