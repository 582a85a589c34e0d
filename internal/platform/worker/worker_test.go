package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/blume/blume/internal/platform/locker"
)

func TestRunOnce(t *testing.T) {
	var buf bytes.Buffer
	l := locker.NewMemoryLocker()
	w := New(l, zerolog.New(&buf), Options{})

	var calls int32
	job := Job{Name: "reminders", Run: func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 3, nil
	}}
	if !w.RunOnce(context.Background(), job) {
		t.Fatal("expected the job to run")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !strings.Contains(buf.String(), `"handled":3`) {
		t.Errorf("expected the count to be logged, got %s", buf.String())
	}

	// The lock is released after the run.
	if _, ok, _ := l.TryLock(context.Background(), keyPrefix+"reminders", time.Minute); !ok {
		t.Error("expected the leader lock to be released")
	}
}

func TestRunOnce_SkipsWhenAnotherInstanceLeads(t *testing.T) {
	l := locker.NewMemoryLocker()
	if _, ok, _ := l.TryLock(context.Background(), keyPrefix+"reminders", time.Minute); !ok {
		t.Fatal("setup lock failed")
	}
	w := New(l, zerolog.Nop(), Options{})

	ran := false
	if w.RunOnce(context.Background(), Job{Name: "reminders", Run: func(context.Context) (int, error) {
		ran = true
		return 0, nil
	}}) {
		t.Error("expected the run to be skipped")
	}
	if ran {
		t.Error("the job must not run without the lock")
	}
}

type brokenLocker struct{}

func (brokenLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, errors.New("redis down")
}

func (brokenLocker) Refresh(context.Context, string, string, time.Duration) error { return nil }
func (brokenLocker) Unlock(context.Context, string, string) error                { return nil }

func TestRunOnce_LockError(t *testing.T) {
	var buf bytes.Buffer
	w := New(brokenLocker{}, zerolog.New(&buf), Options{})
	if w.RunOnce(context.Background(), Job{Name: "reminders", Run: func(context.Context) (int, error) {
		t.Error("the job must not run")
		return 0, nil
	}}) {
		t.Error("expected the run to be skipped")
	}
	if !strings.Contains(buf.String(), "redis down") {
		t.Errorf("expected the lock error to be logged, got %s", buf.String())
	}
}

func TestRunOnce_JobErrorReleasesLock(t *testing.T) {
	var buf bytes.Buffer
	l := locker.NewMemoryLocker()
	w := New(l, zerolog.New(&buf), Options{})

	w.RunOnce(context.Background(), Job{Name: "refunds", Run: func(context.Context) (int, error) {
		return 0, errors.New("boom")
	}})
	if !strings.Contains(buf.String(), "job failed") {
		t.Errorf("expected the failure to be logged, got %s", buf.String())
	}
	if _, ok, _ := l.TryLock(context.Background(), keyPrefix+"refunds", time.Minute); !ok {
		t.Error("expected the leader lock to be released after a failure")
	}
}

func TestRunOnce_RefreshesLongJobs(t *testing.T) {
	l := locker.NewMemoryLocker()
	w := New(l, zerolog.Nop(), Options{LockTTL: 40 * time.Millisecond})

	w.RunOnce(context.Background(), Job{Name: "slow", Run: func(ctx context.Context) (int, error) {
		time.Sleep(100 * time.Millisecond)
		if _, ok, _ := l.TryLock(ctx, keyPrefix+"slow", time.Minute); ok {
			t.Error("the lock expired while the job was still running")
		}
		return 0, nil
	}})
}

func TestAddAndStop(t *testing.T) {
	w := New(locker.NewMemoryLocker(), zerolog.Nop(), Options{})
	if err := w.Add("not a spec", Job{Name: "bad"}); err == nil {
		t.Error("expected an invalid spec to be rejected")
	}

	var calls int32
	if err := w.Add("@every 1s", Job{Name: "tick", Run: func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Start()
	time.Sleep(1500 * time.Millisecond)
	w.Stop()
	if atomic.LoadInt32(&calls) == 0 {
		t.Error("expected the scheduled job to run")
	}
}
