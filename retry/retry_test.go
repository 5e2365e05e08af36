package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"releasebot/models"
)

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &models.TransientError{Op: "list tags", Err: errors.New("timeout")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	inputErr := &models.InputError{Field: "repositoryURL", Value: "ftp://x", Reason: "not https"}
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return inputErr
	})
	if !errors.Is(err, inputErr) {
		t.Fatalf("expected input error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error retried: %d calls", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return &models.TransientError{Op: "dial", Err: errors.New("refused")}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !models.IsTransient(err) {
		t.Fatalf("final error lost its transient marker: %v", err)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, 3, time.Minute, func() error {
		return &models.TransientError{Op: "dial", Err: errors.New("refused")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
