package clock

import (
	"context"
	"testing"
	"time"
)

func TestDelayReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	if err := Delay(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Delay returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("Delay returned early after %v", elapsed)
	}
}

func TestDelayCancelledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Delay(ctx, time.Second); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestDelayZeroChecksContextOnly(t *testing.T) {
	if err := Delay(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Delay(ctx, 0); err == nil {
		t.Fatal("expected error from cancelled context even with zero duration")
	}
}

func TestSystemNowMonotonic(t *testing.T) {
	c := System{}
	a := c.Now()
	b := c.Now()
	if b.Before(a) {
		t.Fatal("System.Now went backwards")
	}
}
