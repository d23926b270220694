package autoupdate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLeasesAcquire(t *testing.T) {
	ctx := context.Background()
	l := NewLeases(0)

	release, err := l.Acquire(ctx, "a/a.php")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := l.Acquire(ctx, "a/a.php"); !IsApplyKind(err, ApplyBusy) {
		t.Errorf("second Acquire() error = %v, want Busy", err)
	}

	other, err := l.Acquire(ctx, "b/b.php")
	if err != nil {
		t.Fatalf("Acquire(other) error = %v", err)
	}
	other()

	release()
	again, err := l.Acquire(ctx, "a/a.php")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again()
}

func TestLeasesWait(t *testing.T) {
	ctx := context.Background()
	l := NewLeases(time.Second)

	release, err := l.Acquire(ctx, "a/a.php")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		r, err := l.Acquire(ctx, "a/a.php")
		waitErr = err
		if err == nil {
			r()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	if waitErr != nil {
		t.Errorf("waiting Acquire() error = %v, want success after release", waitErr)
	}
}

func TestLeasesTimeoutAndCancel(t *testing.T) {
	l := NewLeases(20 * time.Millisecond)
	release, _ := l.Acquire(context.Background(), "a/a.php")
	defer release()

	if _, err := l.Acquire(context.Background(), "a/a.php"); !IsApplyKind(err, ApplyBusy) {
		t.Errorf("Acquire() error = %v, want Busy after wait", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx, "a/a.php"); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}
