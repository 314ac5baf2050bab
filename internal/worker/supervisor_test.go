package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWorkerRunsUntilCanceled(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	var runs int32

	err := s.Add(Config{Name: "ticker"}, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		select {
		case <-deadline:
			t.Fatal("worker never ran")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st, err := s.Status("ticker")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st != StatusStopped {
		t.Fatalf("expected stopped, got %s", st)
	}
}

func TestWorkerRetriesAndFailsAfterMaxRetries(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	var attempts int32

	err := s.Add(Config{
		Name:           "flaky",
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		st, err := s.Status("flaky")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st == StatusFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker never reached failed state, last status=%s", st)
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if got := atomic.LoadInt32(&attempts); got < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", got)
	}
	_ = s.Stop()
}

func TestAddAfterStartIsRejected(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.Add(Config{Name: "late"}, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error adding worker after start")
	}
}
