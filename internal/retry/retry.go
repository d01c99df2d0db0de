// Package retry provides a cancellation-aware retry executor with
// exponential backoff and a pluggable error classifier.
//
// Every network call the sync engines make goes through Do, so retry
// behavior, backoff growth, and cancellation handling are uniform across
// the codebase instead of being re-implemented at each call site.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

// Kind classifies a failure for retry purposes.
type Kind int

const (
	// KindTransient indicates a failure that is likely to succeed on retry
	// (connection reset, timeout, premature stream termination, DNS failure).
	KindTransient Kind = iota

	// KindTerminal indicates a failure that retrying will not fix
	// (validation or auth rejection).
	KindTerminal

	// KindCancelled indicates the operation was cancelled or the session
	// deadline expired. Never retried, and never confused with failure.
	KindCancelled
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Policy configures the retry executor.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// A value of 3 means up to 4 attempts total.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration

	// GrowthFactor is the multiplier applied to the delay per attempt.
	GrowthFactor float64

	// Jitter adds up to 25% random slack to each delay to avoid
	// synchronized retry storms from a fleet of field devices.
	Jitter bool
}

// DefaultPolicy returns the policy used by the sync engines:
// 3 retries, 2s initial delay, 30s cap, doubling, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		GrowthFactor: 2.0,
		Jitter:       true,
	}
}

// Classifier decides whether a failure is worth retrying.
type Classifier func(error) Kind

// classifiedError carries an explicit kind assigned at the failure site.
type classifiedError struct {
	kind Kind
	err  error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Classified wraps err with an explicit retry kind, overriding whatever
// the classifier would have decided. Used by the remote client to map
// HTTP status codes onto the taxonomy.
func Classified(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: kind, err: err}
}

// KindOf returns the kind err was explicitly classified with, if any.
func KindOf(err error) (Kind, bool) {
	var c *classifiedError
	if errors.As(err, &c) {
		return c.kind, true
	}
	return 0, false
}

// Classify applies the default classification heuristic.
//
// Explicit marks from Classified win. Context cancellation and deadline
// expiry are Cancelled. Timeouts, resets, refused connections, DNS
// failures, and prematurely closed streams are Transient. Everything else
// is Terminal.
func Classify(err error) Kind {
	if kind, ok := KindOf(err); ok {
		return kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}

	return KindTerminal
}

// IsCancelled reports whether err represents cancellation rather than
// an operational failure.
func IsCancelled(err error) bool {
	return err != nil && Classify(err) == KindCancelled
}

// Do runs fn with retries according to policy.
//
// fn is attempted up to policy.MaxRetries+1 times. Failures are classified
// by classify (nil means Classify); transient failures sleep an
// exponentially growing, capped delay before the next attempt, terminal
// and cancelled failures propagate immediately. The backoff sleep itself
// observes ctx: if ctx fires mid-sleep, Do returns at once with a
// cancellation error instead of completing the delay.
//
// After the retry budget is exhausted, the last error is returned.
func Do[T any](ctx context.Context, policy Policy, classify Classifier, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if classify == nil {
		classify = Classify
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := Sleep(ctx, delayFor(policy, attempt)); err != nil {
				return zero, fmt.Errorf("retry aborted during backoff: %w", err)
			}
		}

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		switch classify(err) {
		case KindTransient:
			continue
		case KindCancelled:
			return zero, err
		default:
			return zero, err
		}
	}

	return zero, lastErr
}

// delayFor computes the backoff delay before the given retry attempt
// (attempt is 1-based: 1 for the first retry).
func delayFor(policy Policy, attempt int) time.Duration {
	d := float64(policy.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= policy.GrowthFactor
	}
	if max := float64(policy.MaxDelay); policy.MaxDelay > 0 && d > max {
		d = max
	}
	if policy.Jitter {
		d += d * 0.25 * rand.Float64()
		if max := float64(policy.MaxDelay); policy.MaxDelay > 0 && d > max {
			d = max
		}
	}
	return time.Duration(d)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
// Returns ctx.Err() if the context fired. Used for backoff delays and for
// the inter-batch pauses in the sync engines, so every suspension point
// observes the same cancellation token.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
