package cortos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskStates(t *testing.T) {
	r := require.New(t)

	k := New()
	worker := k.Spawn(func(_ context.Context, self *Task) {
		r.Equal(StateRunning, self.State())
		k.Delay(10 * time.Millisecond)
	}, WithName("worker"))

	r.Equal(StateReady, worker.State())

	k.Spawn(func(_ context.Context, _ *Task) {
		k.Delay(time.Millisecond)
		r.Equal(StateBlocked, worker.State())
		k.Delay(20 * time.Millisecond)
		r.Equal(StateDeleted, worker.State(), "a returned handler deletes its task")
	}, WithName("observer"))

	k.Run(context.Background())
}

func TestTaskDeleteIdempotent(t *testing.T) {
	r := require.New(t)

	k := New()
	victim := k.Spawn(func(_ context.Context, _ *Task) {
		k.Delay(Forever)
	})
	k.Spawn(func(_ context.Context, _ *Task) {
		victim.Delete()
		r.Equal(StateDeleted, victim.State())
		victim.Delete() // deleting a deleted task is a no-op
	})
	k.Run(context.Background())
}

func TestSelfDelete(t *testing.T) {
	r := require.New(t)

	reached := false
	k := New()
	k.Spawn(func(_ context.Context, _ *Task) {
		reached = true
		k.SelfDelete()
		r.Fail("SelfDelete must not return")
	})
	k.Run(context.Background())
	r.True(reached)
}

func TestNotifyTakeResetVsDecrement(t *testing.T) {
	r := require.New(t)

	k := New()
	worker := k.Spawn(func(_ context.Context, self *Task) {
		// Three pending gives, taken as a counter.
		v := self.NotifyTake(Forever, false)
		r.Equal(uint32(3), v)
		r.Equal(uint32(2), self.NotifyTake(0, false))
		r.Equal(uint32(1), self.NotifyTake(0, false))
		r.Equal(uint32(0), self.NotifyTake(0, false))

		// Taken as a binary flag: reset clears all pending gives.
		v = self.NotifyTake(Forever, true)
		r.Equal(uint32(2), v)
		r.Equal(uint32(0), self.NotifyTake(0, true))
	}, WithName("worker"))

	k.Spawn(func(_ context.Context, _ *Task) {
		worker.NotifyGive()
		worker.NotifyGive()
		worker.NotifyGive()
		k.Delay(time.Millisecond)
		worker.NotifyGive()
		worker.NotifyGive()
	}, WithName("notifier"))

	k.Run(context.Background())
}

func TestNotifyIndexedSlots(t *testing.T) {
	r := require.New(t)

	k := New()
	worker := k.Spawn(func(_ context.Context, self *Task) {
		r.Equal(uint32(1), self.NotifyTakeIndexed(2, Forever, true))
		r.Equal(uint32(0), self.NotifyTakeIndexed(0, 0, true), "slots are independent")
	})
	k.Spawn(func(_ context.Context, _ *Task) {
		worker.NotifyGiveIndexed(2)
	})
	k.Run(context.Background())
}

func TestNotifyGiveFromISR(t *testing.T) {
	r := require.New(t)

	k := New()
	var got uint32
	worker := k.Spawn(func(_ context.Context, self *Task) {
		got = self.NotifyTake(Forever, true)
	})

	go func() {
		time.Sleep(time.Millisecond)
		k.Interrupt(func(*ISR) {
			worker.NotifyGiveFromISR()
		})
	}()

	k.Run(context.Background())
	r.Equal(uint32(1), got)
}

func TestNotifyTakeTimeout(t *testing.T) {
	r := require.New(t)

	k := New()
	k.Spawn(func(_ context.Context, self *Task) {
		start := k.Now()
		r.Equal(uint32(0), self.NotifyTake(25*time.Millisecond, true))
		r.Equal(Tick(25), k.Now()-start)
	})
	k.Run(context.Background())
}

func TestAsyncJobJoin(t *testing.T) {
	r := require.New(t)

	k := New()
	order := []string{}
	k.Spawn(func(_ context.Context, _ *Task) {
		job := k.Async(func() {
			k.Delay(10 * time.Millisecond)
			order = append(order, "job")
		}, WithName("async"))

		order = append(order, "spawned")
		r.True(job.Join(Forever))
		order = append(order, "joined")
	})
	k.Run(context.Background())

	r.Equal([]string{"spawned", "job", "joined"}, order)
}

func TestAsyncJobJoinTimeout(t *testing.T) {
	r := require.New(t)

	k := New()
	k.Spawn(func(_ context.Context, _ *Task) {
		job := k.Async(func() {
			k.Delay(50 * time.Millisecond)
		})
		r.False(job.Join(10*time.Millisecond), "join must report timeout")
		r.True(job.Join(Forever), "a later join still observes completion")
	})
	k.Run(context.Background())
}

func TestTaskGroupCollectsFirstError(t *testing.T) {
	r := require.New(t)

	boom := errors.New("sensor offline")

	k := New()
	k.Spawn(func(_ context.Context, self *Task) {
		group := self.Group()
		cancelled := false

		group.Go(func(ctx context.Context) error {
			k.Delay(5 * time.Millisecond)
			return boom
		})
		group.Go(func(ctx context.Context) error {
			k.Delay(10 * time.Millisecond)
			cancelled = ctx.Err() != nil
			return nil
		})

		r.ErrorIs(group.Wait(), boom)
		r.True(cancelled, "a member failure cancels the group context")
	})
	k.Run(context.Background())
}

func TestTaskGroupWaitNoMembers(t *testing.T) {
	r := require.New(t)

	k := New()
	k.Spawn(func(_ context.Context, self *Task) {
		r.NoError(self.Group().Wait())
	})
	k.Run(context.Background())
}

func TestEventGroupWaitAny(t *testing.T) {
	r := require.New(t)

	const (
		evRx uint32 = 1 << iota
		evTx
		evErr
	)

	k := New()
	ev := k.NewEventGroup()

	var got uint32
	k.Spawn(func(_ context.Context, _ *Task) {
		v, ok := ev.WaitBits(evRx|evErr, false, true, Forever)
		r.True(ok)
		got = v
	}, WithName("waiter"))

	k.Spawn(func(_ context.Context, _ *Task) {
		ev.SetBits(evTx) // must not wake the waiter
		k.Delay(time.Millisecond)
		ev.SetBits(evErr)
	}, WithName("setter"))

	k.Run(context.Background())
	r.Equal(evTx|evErr, got)
	r.Equal(evTx, ev.Bits(), "clear-on-exit must clear only the waited mask")
}

func TestEventGroupWaitAll(t *testing.T) {
	r := require.New(t)

	k := New()
	ev := k.NewEventGroup()

	var wokeAt Tick
	k.Spawn(func(_ context.Context, _ *Task) {
		_, ok := ev.WaitBits(0b11, true, false, Forever)
		r.True(ok)
		wokeAt = k.Now()
	})
	k.Spawn(func(_ context.Context, _ *Task) {
		ev.SetBits(0b01)
		k.Delay(10 * time.Millisecond)
		ev.SetBits(0b10)
	})

	k.Run(context.Background())
	r.Equal(Tick(10), wokeAt, "wait-all must hold out for the full mask")
	r.Equal(uint32(0b11), ev.Bits())
}

func TestEventGroupTimeout(t *testing.T) {
	r := require.New(t)

	k := New()
	ev := k.NewEventGroup()
	k.Spawn(func(_ context.Context, _ *Task) {
		v, ok := ev.WaitBits(0b1, false, false, 15*time.Millisecond)
		r.False(ok)
		r.Equal(uint32(0), v)
		r.Equal(Tick(15), k.Now())
	})
	k.Run(context.Background())
}

func TestEventGroupSetFromISR(t *testing.T) {
	r := require.New(t)

	k := New()
	ev := k.NewEventGroup()

	woke := false
	k.Spawn(func(_ context.Context, _ *Task) {
		_, ok := ev.WaitBits(0b100, false, true, Forever)
		r.True(ok)
		woke = true
	})

	go func() {
		time.Sleep(time.Millisecond)
		k.Interrupt(func(*ISR) {
			ev.SetBitsFromISR(0b100)
		})
	}()

	k.Run(context.Background())
	r.True(woke)
}
