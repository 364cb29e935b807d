package cortos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerAutoreload(t *testing.T) {
	r := require.New(t)

	k := New()
	var fired []Tick
	tm := k.NewTimer(func(*Timer) {
		fired = append(fired, k.Now())
	}, 10*time.Millisecond, true)

	k.Spawn(func(_ context.Context, _ *Task) {
		tm.Start(0)
		k.Delay(35 * time.Millisecond)
		tm.Stop(0)
		k.Delay(20 * time.Millisecond)
	})
	k.Run(context.Background())

	r.Equal([]Tick{10, 20, 30}, fired, "an auto-reloading timer fires every period until stopped")
}

func TestTimerOneShot(t *testing.T) {
	r := require.New(t)

	k := New()
	count := 0
	tm := k.NewTimer(func(*Timer) { count++ }, 5*time.Millisecond, false)

	k.Spawn(func(_ context.Context, _ *Task) {
		tm.Start(0)
		k.Delay(30 * time.Millisecond)
	})
	k.Run(context.Background())

	r.Equal(1, count, "a single-shot timer fires exactly once")
}

func TestTimerRestart(t *testing.T) {
	r := require.New(t)

	k := New()
	var firedAt Tick
	tm := k.NewTimer(func(*Timer) { firedAt = k.Now() }, 20*time.Millisecond, false)

	k.Spawn(func(_ context.Context, _ *Task) {
		tm.Start(0)
		k.Delay(10 * time.Millisecond)
		tm.Start(0) // restart pushes the expiry out
		k.Delay(40 * time.Millisecond)
	})
	k.Run(context.Background())

	r.Equal(Tick(30), firedAt, "restarting an armed timer restarts its period")
}

func TestTimerCallbackRunsOnDaemon(t *testing.T) {
	r := require.New(t)

	k := New()
	var cbTask *Task
	tm := k.NewTimer(func(*Timer) {
		cbTask = k.Current()
	}, time.Millisecond, false)

	starter := k.Spawn(func(_ context.Context, self *Task) {
		tm.Start(0)
		r.Nil(cbTask, "the callback must not run inline with Start")
		k.Delay(5 * time.Millisecond)
	})

	k.Run(context.Background())
	r.NotNil(cbTask)
	r.NotEqual(starter, cbTask, "callbacks run on the timer service task")
	r.Equal(k.TimerService(), cbTask)
	r.Equal("timer-svc", cbTask.Name())
}

func TestTimerID(t *testing.T) {
	r := require.New(t)

	k := New()
	var seen []any
	callback := func(tm *Timer) { seen = append(seen, tm.ID()) }

	a := k.NewTimer(callback, 5*time.Millisecond, false, WithTimerID("a"), WithTimerName("timer-a"))
	b := k.NewTimer(callback, 10*time.Millisecond, false, WithTimerID("b"))

	k.Spawn(func(_ context.Context, _ *Task) {
		a.Start(0)
		b.Start(0)
		k.Delay(20 * time.Millisecond)
	})
	k.Run(context.Background())

	r.Equal([]any{"a", "b"}, seen, "a shared callback tells timers apart by ID")
	r.Equal("timer-a", a.Name())
	r.Equal(5*time.Millisecond, a.Period())
}

func TestTimerDelete(t *testing.T) {
	r := require.New(t)

	k := New()
	count := 0
	tm := k.NewTimer(func(*Timer) { count++ }, 5*time.Millisecond, true)

	k.Spawn(func(_ context.Context, _ *Task) {
		tm.Start(0)
		k.Delay(12 * time.Millisecond)
		tm.Delete(0)
		tm.Delete(0) // idempotent
		k.Delay(20 * time.Millisecond)
	})
	k.Run(context.Background())

	r.Equal(2, count, "a deleted timer stops firing")
}

func TestDelayTicks(t *testing.T) {
	r := require.New(t)

	k := New()
	k.Spawn(func(_ context.Context, _ *Task) {
		start := k.Now()
		k.Delay(7 * time.Millisecond)
		r.Equal(Tick(7), k.Now()-start)

		at := k.Now() + 13
		k.DelayUntil(at)
		r.Equal(at, k.Now())
		k.DelayUntil(at) // already passed, returns immediately
		r.Equal(at, k.Now())
	})
	k.Run(context.Background())
}

func TestCycleTimerDriftFree(t *testing.T) {
	r := require.New(t)

	k := New()
	var wakes []Tick
	k.Spawn(func(_ context.Context, _ *Task) {
		cycle := k.NewCycleTimer()
		period := 10 * time.Millisecond

		for i := 0; i < 2; i++ {
			cycle.Wait(period)
			wakes = append(wakes, k.Now())
		}

		// Overrun one cycle by 5ms; the next waits compensate
		// instead of shifting the cadence.
		k.Delay(15 * time.Millisecond)
		cycle.Wait(period)
		wakes = append(wakes, k.Now())
		cycle.Wait(period)
		wakes = append(wakes, k.Now())
	})
	k.Run(context.Background())

	r.Equal([]Tick{10, 20, 35, 40}, wakes,
		"wake times stay on the original 10ms grid after an overrun")
}

func TestCycleTimerReset(t *testing.T) {
	r := require.New(t)

	k := New()
	k.Spawn(func(_ context.Context, _ *Task) {
		cycle := k.NewCycleTimer()
		k.Delay(25 * time.Millisecond)
		cycle.Reset()
		cycle.Wait(10 * time.Millisecond)
		r.Equal(Tick(35), k.Now(), "reset rebases the cadence on the current tick")
	})
	k.Run(context.Background())
}
