package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPeriodic_RunsJobs(t *testing.T) {
	t.Parallel()

	p := NewPeriodic(time.UTC, nil)
	var ok, failing atomic.Int32
	if err := p.Every("ok", time.Second, func(context.Context) error {
		ok.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := p.Every("failing", time.Second, func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if p.Len() != 2 {
		t.Errorf("Expected 2 jobs, got %d", p.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for ok.Load() < 2 || failing.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("Expected jobs to run repeatedly, got ok=%d failing=%d", ok.Load(), failing.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestPeriodic_InvalidSchedules(t *testing.T) {
	t.Parallel()

	p := NewPeriodic(nil, nil)
	noop := func(context.Context) error { return nil }
	if err := p.Every("zero", 0, noop); err == nil {
		t.Error("Expected error for zero interval")
	}
	if err := p.Schedule("bad", "not a spec", noop); err == nil {
		t.Error("Expected error for invalid spec")
	}
	if err := p.Schedule("hourly", "@hourly", noop); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("Expected 1 job, got %d", p.Len())
	}
}
