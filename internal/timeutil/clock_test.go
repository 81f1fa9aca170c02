package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := NewRealClock()
	before := time.Now()
	got := c.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("RealClock.Now() = %v outside [%v, %v]", got, before, after)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Advance(250 * time.Millisecond)
	want := start.Add(250 * time.Millisecond)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockTicker(t *testing.T) {
	c := NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	tk := c.NewTicker(250 * time.Millisecond)

	c.Advance(250 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected a tick after Advance")
	}

	tk.Stop()
	c.Advance(250 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker should not tick")
	default:
	}
}

func TestFakeClockSince(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(5 * time.Second)
	if got := c.Since(start); got != 5*time.Second {
		t.Errorf("Since(start) = %v, want 5s", got)
	}
}
