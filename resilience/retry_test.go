package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardline/wardline/core"
)

func testRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        0,
	}
}

// TestRetryBasicSuccess tests successful execution on first attempt
func TestRetryBasicSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testRetryConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

// TestRetryEventualSuccess tests success after multiple attempts
func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected eventual success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryMaxAttemptsExceeded tests failure after all retries exhausted
func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testRetryConfig(), func() error {
		attempts++
		return errors.New("persistent error")
	})

	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryContextCancellation tests context cancellation during retry
func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := testRetryConfig()
	config.InitialDelay = 50 * time.Millisecond
	config.MaxAttempts = 5

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, config, func() error {
		attempts++
		return errors.New("keep failing")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if attempts >= 5 {
		t.Errorf("Expected cancellation before all attempts, got %d", attempts)
	}
}

// TestRetryDelayGrowth verifies the backoff formula caps at MaxDelay
func TestRetryDelayGrowth(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:   10,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      400 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        0,
	}

	if d := config.Delay(1); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms for attempt 1, got %v", d)
	}
	if d := config.Delay(2); d != 200*time.Millisecond {
		t.Errorf("Expected 200ms for attempt 2, got %v", d)
	}
	if d := config.Delay(5); d != 400*time.Millisecond {
		t.Errorf("Expected cap 400ms for attempt 5, got %v", d)
	}
}

// TestRetryDelayJitterBounds verifies jitter only extends the delay
func TestRetryDelayJitterBounds(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.5,
	}

	for i := 0; i < 50; i++ {
		d := config.Delay(1)
		if d < 100*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("Jittered delay %v outside [100ms, 150ms]", d)
		}
	}
}

// TestRetryWithCircuitBreakerOpen verifies an open circuit short-circuits
func TestRetryWithCircuitBreakerOpen(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})
	cb.RecordFailure() // trip it

	invoked := 0
	err := RetryWithCircuitBreaker(context.Background(), testRetryConfig(), cb, func() error {
		invoked++
		return nil
	})

	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("Expected retries exhausted against open circuit, got %v", err)
	}
	if invoked != 0 {
		t.Errorf("Expected function never invoked through open circuit, got %d calls", invoked)
	}
}
