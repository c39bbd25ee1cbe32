package session

import (
	"context"
	"testing"
	"time"
)

func TestDefaultReaperConfig(t *testing.T) {
	cfg := DefaultReaperConfig()
	if cfg.SweepPeriod != 60*time.Second {
		t.Errorf("unexpected sweep period: %v", cfg.SweepPeriod)
	}
	if cfg.InactivityWindow != 30*time.Minute {
		t.Errorf("unexpected inactivity window: %v", cfg.InactivityWindow)
	}
}

func TestReaperEvictsIdleSessions(t *testing.T) {
	st := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st.SetField("stale", "url", "x")

	go StartReaper(ctx, st, ReaperConfig{
		SweepPeriod:      10 * time.Millisecond,
		InactivityWindow: 30 * time.Millisecond,
	})

	// Wait for the session to age past the window and be swept.
	deadline := time.Now().Add(2 * time.Second)
	for st.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stale session not evicted, %d still live", st.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReaperKeepsActiveSessions(t *testing.T) {
	st := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go StartReaper(ctx, st, ReaperConfig{
		SweepPeriod:      10 * time.Millisecond,
		InactivityWindow: 100 * time.Millisecond,
	})

	// Keep writing well inside the window; the session must survive
	// several sweep cycles.
	for i := 0; i < 20; i++ {
		st.Touch("busy")
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := st.GetField("busy", "url"); ok {
		t.Fatal("unexpected field on touched session")
	}
	if st.Len() != 1 {
		t.Fatalf("active session was evicted, len=%d", st.Len())
	}
}

func TestReaperStopsOnCancel(t *testing.T) {
	st := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		StartReaper(ctx, st, ReaperConfig{
			SweepPeriod:      5 * time.Millisecond,
			InactivityWindow: time.Minute,
		})
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}

func TestReaperZeroConfigUsesDefaults(t *testing.T) {
	// A zero config must not panic the ticker; the loop comes up with the
	// default periods and still honors cancellation.
	st := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		StartReaper(ctx, st, ReaperConfig{})
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
