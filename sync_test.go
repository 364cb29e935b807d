package cortos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutexContention(t *testing.T) {
	r := require.New(t)

	k := New()
	mux := k.NewMutex()

	counter := 0
	inside := 0
	worker := func(_ context.Context, _ *Task) {
		for i := 0; i < 1000; i++ {
			r.True(mux.Lock(Forever))
			inside++
			r.Equal(1, inside, "critical section must be exclusive")
			counter++
			if i%100 == 0 {
				k.Yield() // hold the lock across a reschedule
			}
			inside--
			r.True(mux.Unlock())
		}
	}
	k.Spawn(worker, WithName("one"))
	k.Spawn(worker, WithName("two"))
	k.Run(context.Background())

	r.Equal(2000, counter, "no increments may be lost")
}

func TestMutexLockTimeout(t *testing.T) {
	r := require.New(t)

	k := New()
	mux := k.NewMutex()

	var holderDone, waiterFailedAt Tick
	k.Spawn(func(_ context.Context, _ *Task) {
		r.True(mux.Lock(Forever))
		k.Delay(100 * time.Millisecond)
		r.True(mux.Unlock())
		holderDone = k.Now()
	}, WithName("holder"))

	k.Spawn(func(_ context.Context, _ *Task) {
		r.False(mux.Lock(10*time.Millisecond), "lock must time out while held")
		waiterFailedAt = k.Now()

		r.True(mux.Lock(Forever), "lock must succeed once released")
		r.True(mux.Unlock())
	}, WithName("waiter"))

	k.Run(context.Background())
	r.Equal(Tick(10), waiterFailedAt)
	r.Equal(Tick(100), holderDone)
}

func TestMutexUnlockWithoutLock(t *testing.T) {
	r := require.New(t)

	k := New()
	mux := k.NewMutex()

	// A release without a matching acquire is reported, not fatal.
	r.False(mux.Unlock())
	r.True(mux.Lock(0))
	r.True(mux.Unlock())
	r.False(mux.Unlock())
}

func TestBinarySemaphoreInitialState(t *testing.T) {
	r := require.New(t)

	k := New()
	sem := k.NewBinarySemaphore()

	r.False(sem.Take(0), "a binary semaphore starts not signaled")
	r.True(sem.Give())
	r.False(sem.Give(), "a second give must fail until taken")
	r.True(sem.Take(0))
	r.False(sem.Take(0))
}

func TestCountingSemaphoreBounds(t *testing.T) {
	r := require.New(t)

	k := New()
	sem := k.NewCountingSemaphore(2, 3)

	r.Equal(uint32(2), sem.Count())
	r.True(sem.Give())
	r.Equal(uint32(3), sem.Count())
	r.False(sem.Give(), "give at max must fail")
	r.Equal(uint32(3), sem.Count())

	for i := 3; i > 0; i-- {
		r.True(sem.Take(0))
	}
	r.Equal(uint32(0), sem.Count())
	r.False(sem.Take(0))
}

func TestCountingSemaphoreTakeBlocksUntilGive(t *testing.T) {
	r := require.New(t)

	k := New()
	sem := k.NewCountingSemaphore(0, 10)

	var takenAt Tick
	k.Spawn(func(_ context.Context, _ *Task) {
		r.True(sem.Take(Forever))
		takenAt = k.Now()
		r.Equal(uint32(0), sem.Count(), "the give must be consumed by the waiter")
	}, WithName("taker"))

	k.Spawn(func(_ context.Context, _ *Task) {
		k.Delay(30 * time.Millisecond)
		r.True(sem.Give())
	}, WithName("giver"))

	k.Run(context.Background())
	r.Equal(Tick(30), takenAt)
}

func TestSemaphoreGiveFromISR(t *testing.T) {
	r := require.New(t)

	k := New()
	sem := k.NewBinarySemaphore()

	woke := false
	k.Spawn(func(_ context.Context, _ *Task) {
		r.True(sem.Take(Forever))
		woke = true
	})

	go func() {
		time.Sleep(time.Millisecond)
		k.Interrupt(func(*ISR) {
			sem.GiveFromISR()
		})
	}()

	k.Run(context.Background())
	r.True(woke)
}

func TestSuspendedWaiterDropsOut(t *testing.T) {
	r := require.New(t)

	k := New()
	sem := k.NewBinarySemaphore()

	var (
		taker  *Task
		result bool
		ran    bool
	)
	taker = k.Spawn(func(_ context.Context, _ *Task) {
		result = sem.Take(Forever)
		ran = true
	}, WithName("taker"))

	k.Spawn(func(_ context.Context, _ *Task) {
		k.Delay(time.Millisecond)
		r.Equal(StateBlocked, taker.State())
		taker.Suspend()
		r.Equal(StateSuspended, taker.State())

		// The give must not reach the suspended task.
		r.True(sem.Give())
		taker.Resume()
	}, WithName("driver"))

	k.Run(context.Background())
	r.True(ran)
	r.False(result, "a wait interrupted by suspension reports failure")
}
