package op

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	operrors "github.com/systmms/opbulk/internal/errors"
	"github.com/systmms/opbulk/internal/logging"
	"github.com/systmms/opbulk/internal/metrics"
)

// Retry defaults.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
)

// RetryPolicy bounds retries of Transient outcomes. The delay before retry k
// (zero-based) is InitialDelay * 2^k.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// DefaultRetryPolicy returns 3 retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, InitialDelay: DefaultInitialDelay}
}

// Validate rejects negative values.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return operrors.ConfigError{
			Field:   "retry.max_retries",
			Value:   p.MaxRetries,
			Message: "must not be negative",
		}
	}
	if p.InitialDelay < 0 {
		return operrors.ConfigError{
			Field:   "retry.initial_delay",
			Value:   p.InitialDelay,
			Message: "must not be negative",
		}
	}
	return nil
}

// RetryingRunner retries Transient outcomes of the wrapped Runner with
// exponential backoff. AuthRequired and Fatal outcomes return immediately.
type RetryingRunner struct {
	next     Runner
	policy   RetryPolicy
	logger   *logging.Logger
	metrics  *metrics.Collectors
	newTimer func() backoff.Timer
}

// RetryOption configures a RetryingRunner.
type RetryOption func(*RetryingRunner)

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(l *logging.Logger) RetryOption {
	return func(r *RetryingRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetryMetrics counts every retry.
func WithRetryMetrics(m *metrics.Collectors) RetryOption {
	return func(r *RetryingRunner) { r.metrics = m }
}

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(newTimer func() backoff.Timer) RetryOption {
	return func(r *RetryingRunner) { r.newTimer = newTimer }
}

// NewRetryingRunner wraps next with policy.
func NewRetryingRunner(next Runner, policy RetryPolicy, opts ...RetryOption) (*RetryingRunner, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	r := &RetryingRunner{
		next:   next,
		policy: policy,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Policy returns the configured policy.
func (r *RetryingRunner) Policy() RetryPolicy {
	return r.policy
}

func (r *RetryingRunner) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.policy.InitialDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(time.Duration(math.MaxInt64)),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.MaxRetries)), ctx)
}

// Run executes cmd, retrying while the outcome is Transient and the budget
// allows. An exhausted budget becomes a Fatal outcome wrapping
// ErrRetriesExhausted.
func (r *RetryingRunner) Run(ctx context.Context, cmd Command) Outcome {
	var (
		last     Outcome
		attempts int
	)

	operation := func() error {
		attempts++
		last = r.next.Run(ctx, cmd)
		switch last.Kind {
		case Success:
			return nil
		case Transient:
			if last.Err == nil {
				last.Err = operrors.ErrRateLimited
			}
			return last.Err
		default:
			if last.Err == nil {
				last.Err = fmt.Errorf("%w: %s", operrors.ErrCommandFailed, cmd)
			}
			return backoff.Permanent(last.Err)
		}
	}

	notify := func(_ error, delay time.Duration) {
		r.metrics.Retry()
		r.logger.Warn("Rate limit hit, retrying in %.1fs", delay.Seconds())
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, r.backOff(ctx), notify, timer)
	last.Attempts = attempts
	if err == nil || last.Kind != Transient {
		return last
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{Kind: Fatal, Err: fmt.Errorf("%s: %w", cmd, ctxErr), Attempts: attempts}
	}

	r.logger.Error("Rate limit retries exhausted for %s", cmd)
	return Outcome{
		Kind:     Fatal,
		Err:      fmt.Errorf("%w after %d attempts: %w", operrors.ErrRetriesExhausted, attempts, last.Err),
		Attempts: attempts,
	}
}
