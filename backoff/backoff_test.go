package backoff

import (
	"testing"
	"time"
)

func TestJitterExponentialZeroAttempt(t *testing.T) {
	j := NewJitterExponential(time.Second, 30*time.Second)
	if d := j.Delay(0); d != 0 {
		t.Fatalf("expected 0 delay for attempt 0, got %v", d)
	}
}

func TestJitterExponentialWithinCap(t *testing.T) {
	j := NewJitterExponential(time.Second, 5*time.Second)
	for attempt := uint32(1); attempt <= 10; attempt++ {
		d := j.Delay(attempt)
		if d < 0 || d > 5*time.Second {
			t.Fatalf("attempt %d delay %v out of [0, cap]", attempt, d)
		}
	}
}

func TestJitterExponentialGrowsWithAttempt(t *testing.T) {
	j := NewJitterExponential(100*time.Millisecond, time.Hour)
	// The ceiling grows with attempt, so repeated sampling of later
	// attempts should eventually produce larger delays than attempt 1.
	var maxEarly, maxLate time.Duration
	for i := 0; i < 50; i++ {
		if d := j.Delay(1); d > maxEarly {
			maxEarly = d
		}
		if d := j.Delay(8); d > maxLate {
			maxLate = d
		}
	}
	if maxLate <= maxEarly {
		t.Fatalf("expected later attempts to reach higher delays: early=%v late=%v", maxEarly, maxLate)
	}
}

func TestFixedAlwaysSameDelay(t *testing.T) {
	f := Fixed(2 * time.Second)
	if f.Delay(1) != 2*time.Second || f.Delay(99) != 2*time.Second {
		t.Fatal("Fixed delay should not vary by attempt")
	}
}
