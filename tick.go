package cortos

import (
	"math"
	"time"
)

// Tick is the kernel's internal time unit. Wall-clock durations
// passed to blocking operations are converted to ticks at the
// kernel's configured tick rate before use.
type Tick uint64

// Forever is the timeout value for an unbounded wait.
const Forever time.Duration = math.MaxInt64

// ticks converts a duration to a tick count, rounding up so that a
// wait of d never returns before d has elapsed. Forever must be
// handled by the caller before conversion.
func (k *Kernel) ticks(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	rate := time.Duration(k.tickRate)
	whole := Tick(d/time.Second) * Tick(k.tickRate)
	rem := d % time.Second
	return whole + Tick((rem*rate+time.Second-1)/time.Second)
}

// duration converts a tick count back to a wall-clock duration,
// saturating at Forever.
func (k *Kernel) duration(n Tick) time.Duration {
	rate := Tick(k.tickRate)
	secs := n / rate
	if secs >= Tick(Forever/time.Second) {
		return Forever
	}
	rem := n % rate
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}
