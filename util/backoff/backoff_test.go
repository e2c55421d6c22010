package backoff

import (
	"context"
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	base := time.Second
	maxDelay := time.Minute

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-3, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{10, time.Minute},
		{500, time.Minute},
	}
	for _, tt := range tests {
		if got := Exponential(base, maxDelay, tt.attempt); got != tt.want {
			t.Errorf("Exponential(%v, %v, %d) = %v, want %v", base, maxDelay, tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialExponentIsCapped(t *testing.T) {
	// With a huge max the cap on the exponent is what bounds the delay.
	got := Exponential(time.Millisecond, time.Hour, 50)
	want := time.Millisecond << MaxExponent
	if got != want {
		t.Errorf("Exponential with capped exponent = %v, want %v", got, want)
	}
}

func TestExponentialNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt < 40; attempt++ {
		d := Exponential(250*time.Millisecond, 30*time.Second, attempt)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		if d > 30*time.Second {
			t.Fatalf("attempt %d: delay %v above max", attempt, d)
		}
		prev = d
	}
	if prev != 30*time.Second {
		t.Errorf("final delay = %v, want cap 30s", prev)
	}
}

func TestBackoff_Wait(t *testing.T) {
	t.Run("growth and capping", func(t *testing.T) {
		b := New(10*time.Millisecond, 25*time.Millisecond, 2.0)
		ctx := context.Background()

		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if b.CurrentDelay() != 20*time.Millisecond {
			t.Errorf("Expected delay 20ms after first wait, got %v", b.CurrentDelay())
		}
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if b.CurrentDelay() != 25*time.Millisecond {
			t.Errorf("Expected delay capped at 25ms, got %v", b.CurrentDelay())
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		b := New(time.Second, 10*time.Second, 2.0)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := b.Wait(ctx)
		if err != context.DeadlineExceeded {
			t.Fatalf("Expected DeadlineExceeded, got %v", err)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Errorf("Wait did not return promptly on cancellation")
		}
		if b.CurrentDelay() != time.Second {
			t.Errorf("Delay should not grow on cancellation, got %v", b.CurrentDelay())
		}
	})

	t.Run("reset", func(t *testing.T) {
		b := New(5*time.Millisecond, time.Second, 3.0)
		_ = b.Wait(context.Background())
		b.Reset()
		if b.CurrentDelay() != 5*time.Millisecond {
			t.Errorf("Expected delay reset to 5ms, got %v", b.CurrentDelay())
		}
	})
}
