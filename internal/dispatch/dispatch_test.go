package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueueRunsOnLoop(t *testing.T) {
	d, err := New(testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	result := make(chan int, 1)
	d.Enqueue(func() { result <- 42 })

	select {
	case v := <-result:
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for enqueued task")
	}

	cancel()
	<-done
}

func TestCallLaterFiresAfterDelay(t *testing.T) {
	d, err := New(testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	fired := make(chan struct{}, 1)
	d.Enqueue(func() {
		d.CallLater(20*time.Millisecond, func() { fired <- struct{}{} })
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancel()
	<-done
}

func TestRemoveCallLaterCancelsTimer(t *testing.T) {
	d, err := New(testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	fired := make(chan struct{}, 1)
	d.Enqueue(func() {
		id := d.CallLater(20*time.Millisecond, func() { fired <- struct{}{} })
		d.RemoveCallLater(id)
	})

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestRunGuardedRecoversPanic(t *testing.T) {
	d, err := New(testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Enqueue(func() { panic("boom") })

	afterPanic := make(chan struct{}, 1)
	d.Enqueue(func() { afterPanic <- struct{}{} })

	select {
	case <-afterPanic:
	case <-time.After(2 * time.Second):
		t.Fatal("loop died after panic")
	}

	cancel()
	<-done
}
