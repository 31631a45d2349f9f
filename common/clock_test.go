package common

import (
	"testing"
	"time"
)

func TestManualClockAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewManualClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}

	ch := c.After(time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before the clock advanced")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case at := <-ch:
		if !at.Equal(start.Add(time.Second)) {
			t.Fatalf("expected fire at %v, got %v", start.Add(time.Second), at)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestManualClockZeroDurationFiresImmediately(t *testing.T) {
	c := NewManualClock(time.Unix(1000, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration must fire without an Advance")
	}
	select {
	case <-c.After(-time.Second):
	default:
		t.Fatal("negative duration must fire without an Advance")
	}
}

func TestManualClockMultipleWaiters(t *testing.T) {
	c := NewManualClock(time.Unix(1000, 0))
	early := c.After(time.Second)
	late := c.After(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-early:
	default:
		t.Fatal("due waiter did not fire")
	}
	select {
	case <-late:
		t.Fatal("later waiter fired too soon")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-late:
	default:
		t.Fatal("later waiter did not fire once due")
	}
}
