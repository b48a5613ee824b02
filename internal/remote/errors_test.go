package remote

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindPermission},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusPreconditionFailed, KindConflict},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInsufficientStorage, KindQuota},
		{http.StatusInternalServerError, KindUnknown},
	}

	for _, tt := range tests {
		if got := FromStatus(tt.status); got != tt.want {
			t.Errorf("FromStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(NewError(KindQuota, "write", nil)); got != KindQuota {
		t.Errorf("typed error should keep its kind, got %s", got)
	}
	if got := Classify(context.DeadlineExceeded); got != KindNetwork {
		t.Errorf("deadline should classify as network, got %s", got)
	}
	if got := Classify(errors.New("mystery")); got != KindUnknown {
		t.Errorf("unrecognized error should be unknown, got %s", got)
	}
}

func TestRetryable(t *testing.T) {
	retryable := []Kind{KindNetwork, KindRateLimit, KindUnknown}
	for _, k := range retryable {
		if !Retryable(k) {
			t.Errorf("%s should be retryable", k)
		}
	}
	terminal := []Kind{KindAuth, KindPermission, KindConflict, KindQuota, KindNotFound}
	for _, k := range terminal {
		if Retryable(k) {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestWithErrorHandlingRetriesNetwork(t *testing.T) {
	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	calls := 0
	err := WithErrorHandling(context.Background(), "op",
		CallOptions{Retry: true, MaxRetries: 3, Sleep: sleep}, nil,
		func(ctx context.Context) error {
			calls++
			return NewError(KindNetwork, "", errors.New("reset"))
		})

	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	// Linear backoff for network failures.
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("unexpected backoff schedule: %v", delays)
	}
}

func TestWithErrorHandlingRateLimitBackoff(t *testing.T) {
	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_ = WithErrorHandling(context.Background(), "op",
		CallOptions{Retry: true, MaxRetries: 3, Sleep: sleep}, nil,
		func(ctx context.Context) error {
			return NewError(KindRateLimit, "", nil)
		})

	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(delays) != 2 || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("expected exponential 2s/4s, got %v", delays)
	}
}

func TestWithErrorHandlingNoRetryForAuth(t *testing.T) {
	calls := 0
	err := WithErrorHandling(context.Background(), "op",
		CallOptions{Retry: true, MaxRetries: 3}, nil,
		func(ctx context.Context) error {
			calls++
			return NewError(KindAuth, "", nil)
		})

	if calls != 1 {
		t.Errorf("auth failures must not retry, got %d attempts", calls)
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != KindAuth {
		t.Errorf("expected typed auth error, got %v", err)
	}
}

func TestWithErrorHandlingSuccessAfterRetry(t *testing.T) {
	calls := 0
	onErrors := 0
	err := WithErrorHandling(context.Background(), "op",
		CallOptions{
			Retry:      true,
			MaxRetries: 3,
			Sleep:      func(ctx context.Context, d time.Duration) error { return nil },
			OnError:    func(kind Kind, attempt int, err error) { onErrors++ },
		}, nil,
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return NewError(KindNetwork, "", nil)
			}
			return nil
		})

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if onErrors != 2 {
		t.Errorf("OnError should observe every retried failure, got %d", onErrors)
	}
}

func TestWithErrorHandlingWrapsUntyped(t *testing.T) {
	cause := errors.New("boom")
	err := WithErrorHandling(context.Background(), "readDocument", CallOptions{}, nil,
		func(ctx context.Context) error { return cause })

	var ge *Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected typed error, got %v", err)
	}
	if ge.Op != "readDocument" || ge.Kind != KindUnknown {
		t.Errorf("unexpected wrap: %+v", ge)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should expose its cause")
	}
}

func TestKindMessages(t *testing.T) {
	kinds := []Kind{KindNetwork, KindAuth, KindConflict, KindQuota,
		KindNotFound, KindPermission, KindRateLimit, KindUnknown}
	for _, k := range kinds {
		if k.Message() == "" {
			t.Errorf("kind %s has no user-visible message", k)
		}
	}
}
