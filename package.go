// Package cortos provides cooperatively scheduled, RTOS-flavored
// concurrency primitives: tasks, mutexes, binary and counting
// semaphores, bounded queues, software timers, and drift-free
// periodic delays. It is designed for modeling and testing firmware
// control logic that was written against a real-time kernel, with an
// emphasis on deterministic scheduling and timing.
//
// Key components:
//
//   - Kernel: owns the tick clock, the ready lists, and the
//     scheduler loop. All primitives are created from a Kernel and
//     run inside its Run loop.
//
//   - Task: a coroutine-backed unit of execution with a priority, a
//     lifecycle state, and lightweight notification slots.
//
//   - Mutex, BinarySemaphore, CountingSemaphore: blocking
//     synchronization with timeouts, plus non-blocking
//     interrupt-context variants.
//
//   - Queue: a fixed-capacity generic ring buffer coupled to a
//     counting semaphore, supporting in-place construction and
//     blocking peek with timeout.
//
//   - Timer: software timers serviced by a kernel-owned daemon task,
//     with single-shot and auto-reloading modes.
//
// Scheduling is cooperative and run-to-completion: a task runs until
// it blocks, yields, or returns, and is never preempted by another
// task mid-operation. Interrupt handlers injected with
// Kernel.Interrupt run between task steps and may only use the
// *FromISR entry points, which never block.
package cortos
