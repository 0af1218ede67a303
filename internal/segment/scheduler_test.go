package segment

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_FiresOnce(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(t0)
	s := newScheduler(clock)
	var fired atomic.Int32
	gen := s.schedule("a", time.Second, func(g uint64) {
		if g == 0 {
			t.Error("fired with zero generation")
		}
		fired.Add(1)
	})
	if gen == 0 || s.current("a") != gen {
		t.Fatalf("current = %d, want %d", s.current("a"), gen)
	}

	clock.Advance(999 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("fired before deadline")
	}
	clock.Advance(time.Millisecond)
	clock.Advance(time.Hour)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
	if s.isPending("a") {
		t.Error("timer still pending after fire")
	}
}

func TestScheduler_RescheduleSupersedes(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(t0)
	s := newScheduler(clock)
	var first, second atomic.Int32
	s.schedule("a", time.Second, func(uint64) { first.Add(1) })
	clock.Advance(900 * time.Millisecond)
	s.schedule("a", time.Second, func(uint64) { second.Add(1) })

	clock.Advance(500 * time.Millisecond)
	if first.Load() != 0 || second.Load() != 0 {
		t.Fatalf("fired early: first=%d second=%d", first.Load(), second.Load())
	}
	clock.Advance(500 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("superseded timer fired")
	}
	if second.Load() != 1 {
		t.Errorf("second fired %d times, want 1", second.Load())
	}
}

func TestScheduler_Cancel(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(t0)
	s := newScheduler(clock)
	var fired atomic.Int32
	s.schedule("a", time.Second, func(uint64) { fired.Add(1) })
	s.schedule("b", time.Second, func(uint64) { fired.Add(1) })

	if !s.cancel("a") {
		t.Error("cancel(a) = false")
	}
	if s.cancel("a") {
		t.Error("second cancel(a) = true")
	}
	if n := s.cancelAll(); n != 1 {
		t.Errorf("cancelAll = %d, want 1", n)
	}
	clock.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Errorf("cancelled timers fired %d times", fired.Load())
	}
	if clock.Pending() != 0 {
		t.Errorf("clock still holds %d timers", clock.Pending())
	}
}

func TestScheduler_OnFireMayReschedule(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(t0)
	s := newScheduler(clock)
	var fired atomic.Int32
	var onFire func(uint64)
	onFire = func(uint64) {
		if fired.Add(1) < 3 {
			s.schedule("a", time.Second, onFire)
		}
	}
	s.schedule("a", time.Second, onFire)

	clock.Advance(10 * time.Second)
	if got := fired.Load(); got != 3 {
		t.Errorf("fired %d times, want 3", got)
	}
}

func TestScheduler_ScheduleIfIdle(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(t0)
	s := newScheduler(clock)
	var fired atomic.Int32
	first, ok := s.scheduleIfIdle("a", time.Second, func(uint64) { fired.Add(1) })
	if !ok {
		t.Fatal("first scheduleIfIdle did not arm")
	}
	if _, ok := s.scheduleIfIdle("a", time.Second, func(uint64) { fired.Add(10) }); ok {
		t.Error("scheduleIfIdle armed over a pending timer")
	}
	if s.current("a") != first {
		t.Error("pending generation changed")
	}
	clock.Advance(time.Second)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired = %d, want 1", got)
	}
}

func TestFakeClock_DeadlineOrder(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(t0)
	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "late") })
	clock.AfterFunc(time.Second, func() {
		order = append(order, "early")
		if !clock.Now().Equal(t0.Add(time.Second)) {
			t.Errorf("Now during callback = %v", clock.Now())
		}
	})
	stopped := clock.AfterFunc(1500*time.Millisecond, func() { order = append(order, "stopped") })
	if !stopped.Stop() {
		t.Error("Stop = false for pending timer")
	}

	clock.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("order = %v", order)
	}
	if !clock.Now().Equal(t0.Add(3 * time.Second)) {
		t.Errorf("Now = %v", clock.Now())
	}
}
