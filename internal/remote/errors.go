package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Kind classifies a gateway failure by its surface, not its cause. The
// scheduler and the UI key their behavior off the kind alone.
type Kind int

const (
	// KindUnknown covers anything the classifier cannot place.
	KindUnknown Kind = iota
	// KindNetwork is a transport-level failure (DNS, dial, reset, timeout).
	KindNetwork
	// KindAuth is an expired or rejected credential (401).
	KindAuth
	// KindConflict is a concurrent-writer collision (409 / ETag mismatch).
	KindConflict
	// KindQuota means the remote store is out of space (507).
	KindQuota
	// KindNotFound is a missing document (404). Not an error for reads.
	KindNotFound
	// KindPermission is an authorization failure (403).
	KindPermission
	// KindRateLimit is a throttling response (429).
	KindRateLimit
)

// String returns the canonical short name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindQuota:
		return "quota"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// Message returns the short canonical user-visible message for the kind.
func (k Kind) Message() string {
	switch k {
	case KindNetwork:
		return "Connection problem. Your changes are saved locally and will sync when you're back online."
	case KindAuth:
		return "Your session has expired. Please sign in again."
	case KindConflict:
		return "This list was changed on another device."
	case KindQuota:
		return "Your cloud storage is full. Free up space to keep syncing."
	case KindNotFound:
		return "No remote list found yet."
	case KindPermission:
		return "You don't have permission to access this list."
	case KindRateLimit:
		return "Syncing too fast. Will retry shortly."
	default:
		return "Something went wrong while syncing."
	}
}

// Error is the typed failure returned by every gateway operation.
type Error struct {
	Kind   Kind
	Op     string // gateway operation name, e.g. "readDocument"
	Status int    // HTTP status if the failure came off the wire, else 0
	Err    error  // underlying cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed gateway error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus maps an HTTP status code to an error kind.
func FromStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return KindConflict
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusInsufficientStorage:
		return KindQuota
	default:
		return KindUnknown
	}
}

// Classify returns the kind of any error. Typed gateway errors report
// their own kind; context and transport failures classify as network;
// everything else is unknown.
func Classify(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return KindNetwork
	}
	return KindUnknown
}

// retrySchedule returns the backoff delays for a kind, or nil when the
// kind must surface to the caller without retrying.
func retrySchedule(kind Kind) []time.Duration {
	switch kind {
	case KindNetwork:
		// Linear: transport blips usually clear quickly.
		return []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}
	case KindRateLimit:
		// Exponential with a longer base: the store asked us to back off.
		return []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	case KindUnknown:
		return []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	default:
		// Auth, Permission, Conflict, Quota, NotFound: the caller decides.
		return nil
	}
}

// Retryable reports whether the kind is locally recoverable via backoff.
func Retryable(kind Kind) bool {
	return retrySchedule(kind) != nil
}

// CallOptions tunes WithErrorHandling per call site.
type CallOptions struct {
	// Retry enables backoff-and-retry for retryable kinds.
	Retry bool

	// MaxRetries caps the number of retries; 0 means the engine default.
	MaxRetries int

	// OnError, if set, observes every classified failure including the
	// ones that will be retried.
	OnError func(kind Kind, attempt int, err error)

	// Sleep overrides the delay function (tests). Nil uses a real timer
	// honoring context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

const defaultMaxRetries = 3

// WithErrorHandling runs op, classifying any failure into the error
// taxonomy and retrying retryable kinds on their classified backoff
// schedule. The last error is returned once retries are exhausted.
//
// Retries are invisible to the user unless they exhaust.
func WithErrorHandling(ctx context.Context, opName string, opts CallOptions, logger *log.Logger, op func(ctx context.Context) error) error {
	if logger == nil {
		logger = log.New(discard{}, "", 0)
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = wrapKind(opName, err)

		kind := Classify(lastErr)
		if opts.OnError != nil {
			opts.OnError(kind, attempt, lastErr)
		}

		schedule := retrySchedule(kind)
		if !opts.Retry || schedule == nil || attempt >= maxRetries-1 {
			return lastErr
		}

		delay := schedule[min(attempt, len(schedule)-1)]
		logger.Printf("%s failed (%s), retrying in %s (attempt %d/%d): %v",
			opName, kind, delay, attempt+1, maxRetries, lastErr)

		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// wrapKind ensures the returned error is a typed *Error carrying the
// operation name.
func wrapKind(opName string, err error) error {
	var ge *Error
	if errors.As(err, &ge) {
		if ge.Op == "" {
			ge.Op = opName
		}
		return err
	}
	return NewError(Classify(err), opName, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
