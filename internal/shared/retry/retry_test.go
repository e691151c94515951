package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

func TestWithBackoffSucceedsImmediately(t *testing.T) {
	calls := 0
	result, err := WithBackoff(context.Background(), nil, "op", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWithBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	result, err := WithBackoff(context.Background(), nil, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", shared.NewNetworkError("transient", errors.New("boom"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %q", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithBackoffExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := shared.NewNetworkError("permanent", errors.New("boom"))
	_, err := WithBackoff(context.Background(), nil, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts (MaxRetries), got %d", calls)
	}
}

func TestWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithBackoff(ctx, nil, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return 0, shared.NewNetworkError("fail", errors.New("boom"))
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("expected retry loop to stop after cancellation, got %d calls", calls)
	}
}

func TestWithBackoffDoesNotRetryNonRetriableError(t *testing.T) {
	calls := 0
	wantErr := shared.NewInvalidRequestError("malformed body", errors.New("bad json"))
	_, err := WithBackoff(context.Background(), nil, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Fatalf("expected a non-retriable error to stop after 1 attempt, got %d calls", calls)
	}
}
