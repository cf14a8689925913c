package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescerDoReturnsResult(t *testing.T) {
	c := NewCoalescer[int]()
	p := c.Do("key", func() (int, error) {
		return 42, nil
	})

	value, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected 42, got %d", value)
	}
	if p.Status() != StatusFulfilled {
		t.Fatalf("expected StatusFulfilled, got %v", p.Status())
	}
}

func TestCoalescerDoPropagatesError(t *testing.T) {
	c := NewCoalescer[int]()
	boom := errors.New("boom")
	p := c.Do("key", func() (int, error) {
		return 0, boom
	})

	_, err := p.Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if p.Status() != StatusRejected {
		t.Fatalf("expected StatusRejected, got %v", p.Status())
	}
}

func TestCoalescerDoCoalescesConcurrentCalls(t *testing.T) {
	c := NewCoalescer[int]()
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func() (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	promises := make([]*ObservablePromise[int], 5)
	for i := range promises {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			promises[i] = c.Do("shared", fn)
		}(i)
	}
	wg.Wait()
	close(release)

	for _, p := range promises {
		if _, err := p.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 underlying call, got %d", got)
	}
}

func TestObservablePromiseStatusPendingUntilSettled(t *testing.T) {
	c := NewCoalescer[int]()
	release := make(chan struct{})

	p := c.Do("key", func() (int, error) {
		<-release
		return 1, nil
	})

	if p.Status() != StatusPending {
		t.Fatalf("expected StatusPending before the call settles, got %v", p.Status())
	}
	close(release)

	if _, err := p.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestObservablePromiseWaitRespectsContext(t *testing.T) {
	c := NewCoalescer[int]()
	release := make(chan struct{})
	defer close(release)

	p := c.Do("key", func() (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	if err == nil {
		t.Fatal("expected Wait to return an error when the context is cancelled first")
	}
}

func TestObservablePromiseDoneClosesOnSettle(t *testing.T) {
	c := NewCoalescer[int]()
	release := make(chan struct{})

	p := c.Do("key", func() (int, error) {
		<-release
		return 1, nil
	})

	select {
	case <-p.Done():
		t.Fatal("expected Done to stay open while pending")
	default:
	}

	close(release)
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done to close once the call settled")
	}
	if p.Status() != StatusFulfilled {
		t.Fatalf("expected fulfilled status, got %v", p.Status())
	}
}
