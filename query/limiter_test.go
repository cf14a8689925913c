package query

import (
	"context"
	"testing"
	"time"
)

func TestBackgroundLimiterAllowsUpToBurst(t *testing.T) {
	l := NewBackgroundLimiter(1, 2)
	if !l.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if !l.Allow() {
		t.Fatal("expected second call within burst to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected a call beyond burst to be denied")
	}
}

func TestBackgroundLimiterNilIsAlwaysAllowed(t *testing.T) {
	var l *BackgroundLimiter
	if !l.Allow() {
		t.Fatal("expected a nil limiter to always allow")
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("expected a nil limiter to never block Wait, got %v", err)
	}
}

func TestBackgroundLimiterWaitBlocksUntilTokenAvailable(t *testing.T) {
	l := NewBackgroundLimiter(1000, 1)
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("expected Wait to acquire a refreshed token, got %v", err)
	}
}
