package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labelmint/labelmint/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storeCheck(db *sqlite.DB) Check {
	return Check{Name: "store", CheckFn: db.Ping}
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestChecker_RunOnceHealthy(t *testing.T) {
	c := NewChecker(0, nil, storeCheck(newTestDB(t)))
	if c.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s default", c.interval)
	}

	statuses := c.RunOnce(context.Background())
	if len(statuses) != 1 {
		t.Fatalf("RunOnce() = %d statuses, want 1", len(statuses))
	}
	if !statuses[0].Healthy || statuses[0].Name != "store" {
		t.Errorf("status = %+v, want healthy store", statuses[0])
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(time.Minute, nil, storeCheck(newTestDB(t)))
	// No statuses yet, so vacuously healthy.
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run")
	}
}

func TestChecker_ClosedStoreIsUnhealthy(t *testing.T) {
	db := newTestDB(t)
	var recovered atomic.Int32
	c := NewChecker(time.Minute, nil, Check{
		Name:      "store",
		CheckFn:   db.Ping,
		RecoverFn: func(context.Context) error { recovered.Add(1); return nil },
	})
	db.Close()

	c.RunOnce(context.Background())
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false after the store closed")
	}
	s := c.Statuses()[0]
	if s.Healthy || s.Error == "" {
		t.Errorf("status = %+v, want unhealthy with error", s)
	}
	if recovered.Load() != 1 {
		t.Errorf("recover calls = %d, want 1", recovered.Load())
	}
}

func TestChecker_StatusesIsACopy(t *testing.T) {
	c := NewChecker(time.Minute, nil, Check{Name: "x", CheckFn: func(context.Context) error { return nil }})
	c.RunOnce(context.Background())

	got := c.Statuses()
	got[0].Healthy = false
	if !c.IsHealthy() {
		t.Error("mutating Statuses() result changed checker state")
	}
}

func TestChecker_Run(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(10*time.Millisecond, nil, Check{
		Name: "flaky",
		CheckFn: func(context.Context) error {
			if calls.Add(1) == 1 {
				return errors.New("first check fails")
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if calls.Load() < 3 {
		t.Fatalf("calls = %d, want >= 3", calls.Load())
	}
	if !c.IsHealthy() {
		t.Error("later checks passed; IsHealthy() should be true")
	}
}
