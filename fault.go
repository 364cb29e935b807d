package cortos

import "fmt"

// Fault is the panic value raised for unrecoverable configuration
// errors: failed primitive creation, exhausted static control
// blocks, invalid parameters, or an operation used in the wrong
// execution context. These are the errors an embedded target cannot
// recover from, so they halt the program rather than propagate as
// return values. Expected run-time conditions (timeouts, full
// queues, an unlock without a matching lock) are reported as boolean
// results instead and never raise a Fault.
type Fault struct {
	Op     string // the operation that failed, e.g. "Queue.Front"
	Reason string
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("cortos: %s: %s", f.Op, f.Reason)
}

// kassert panics with a Fault when cond is false.
func kassert(cond bool, op, reason string) {
	if !cond {
		panic(&Fault{Op: op, Reason: reason})
	}
}
