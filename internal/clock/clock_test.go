package clock

import (
	"testing"
	"time"
)

func TestFake_AddAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Expected %v, got %v", start, c.Now())
	}

	c.Add(90 * time.Minute)
	want := start.Add(90 * time.Minute)
	if !c.Now().Equal(want) {
		t.Errorf("Expected %v after Add, got %v", want, c.Now())
	}

	later := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Expected %v after Set, got %v", later, c.Now())
	}
}

func TestFake_TimerFiresOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)
	timer := c.Timer(time.Hour)

	c.Add(59 * time.Minute)
	select {
	case <-timer.C:
		t.Fatal("Expected timer not to fire before its deadline")
	default:
	}

	c.Add(time.Minute)
	select {
	case at := <-timer.C:
		if !at.Equal(start.Add(time.Hour)) {
			t.Errorf("Expected fire time %v, got %v", start.Add(time.Hour), at)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected timer to fire once the clock reached its deadline")
	}
}

func TestReal_Now(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got := New().Now()
	if got.Before(before) {
		t.Errorf("Real clock went backwards: %v < %v", got, before)
	}
}
