package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxRetries: max, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

// TestExecuteWithRetry_Success verifies basic success case returns nil on first attempt.
func TestExecuteWithRetry_Success(t *testing.T) {
	calls := 0
	err := ExecuteWithRetry(context.Background(), fastRetry(3), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// TestExecuteWithRetry_NetworkThenSuccess verifies network errors are retried.
func TestExecuteWithRetry_NetworkThenSuccess(t *testing.T) {
	calls := 0
	retries := 0
	cfg := fastRetry(5)
	cfg.OnRetry = func(attempt int, err error, errType ErrorType) {
		retries++
		if errType != ErrorTypeNetwork {
			t.Errorf("expected network classification, got %s", ErrorTypeName(errType))
		}
	}

	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("dial tcp 10.0.0.1:22: connect: connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("expected 3 calls and 2 retries, got %d and %d", calls, retries)
	}
}

// TestExecuteWithRetry_AuthError verifies no retry when the host rejects our key.
func TestExecuteWithRetry_AuthError(t *testing.T) {
	calls := 0
	err := ExecuteWithRetry(context.Background(), fastRetry(5), func() error {
		calls++
		return fmt.Errorf("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey]")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry on auth), got %d", calls)
	}
}

// TestExecuteWithRetry_Exhausted verifies the last error is wrapped.
func TestExecuteWithRetry_Exhausted(t *testing.T) {
	sentinel := errors.New("read: connection reset by peer")
	err := ExecuteWithRetry(context.Background(), fastRetry(3), func() error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

// TestExecuteWithRetry_ContextCancelledDuringSleep verifies retry returns quickly when context cancelled.
func TestExecuteWithRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := ExecuteWithRetry(ctx, cfg, func() error {
		return fmt.Errorf("connection reset")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ExecuteWithRetry took %v after cancellation", elapsed)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorTypeSuccess},
		{context.Canceled, ErrorTypeFatal},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrorTypeFatal},
		{errors.New("ssh: handshake failed: knownhosts: key mismatch"), ErrorTypeAuth},
		{errors.New("dial tcp: i/o timeout"), ErrorTypeNetwork},
		{errors.New("unexpected EOF"), ErrorTypeNetwork},
		{errors.New("no such file"), ErrorTypeFatal},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, ErrorTypeName(got), ErrorTypeName(tt.want))
		}
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	if d := CalculateBackoff(0, time.Second, time.Minute); d != 0 {
		t.Errorf("attempt 0 should not wait, got %v", d)
	}
	for i := 0; i < 100; i++ {
		if d := CalculateBackoff(10, time.Second, 3*time.Second); d < 0 || d >= 3*time.Second {
			t.Fatalf("backoff %v outside [0, 3s)", d)
		}
	}
}
