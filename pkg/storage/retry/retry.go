// File: pkg/storage/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"objstore/pkg/storage"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how patiently an operation is retried.
// A Policy is read-only once handed to a Controller.
type Policy struct {
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1" yaml:"max_attempts"`
	// Delay before the second attempt; doubles for each further attempt
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"gte=0" yaml:"base_delay"`
	// Ceiling for the doubled delay, applied before jitter
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"gte=0" yaml:"max_delay"`
	// Each delay is scaled by a random factor in [1-JitterFraction, 1+JitterFraction]
	JitterFraction float64 `mapstructure:"jitter" validate:"gte=0,lte=1" yaml:"jitter"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    10,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       15 * time.Second,
		JitterFraction: 0.5,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %s is shorter than base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return fmt.Errorf("jitter fraction must be within [0, 1], got %v", p.JitterFraction)
	}
	return nil
}

// Returned once every attempt failed. Unwraps to the last attempt's error so
// its kind is still visible through errors.Is.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Decides whether a failed attempt may be retried
type Classifier func(err error) bool

// Called before each retry with the attempt that failed and the upcoming delay
type Notify func(op storage.Op, attempt int, delay time.Duration, err error)

type Option func(*Controller)

func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

func WithClassifier(cl Classifier) Option {
	return func(c *Controller) { c.retryable = cl }
}

func WithNotify(n Notify) Option {
	return func(c *Controller) { c.notify = n }
}

// Controller runs an operation until it succeeds, fails permanently or runs
// out of attempts. Attempts are strictly sequential.
type Controller struct {
	policy    Policy
	logger    *slog.Logger
	sleep     Sleeper
	retryable Classifier
	notify    Notify
}

func New(policy Policy, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		policy:    policy,
		logger:    logger,
		sleep:     sleepContext,
		retryable: storage.IsRetryable,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) Policy() Policy {
	return c.policy
}

// Runs fn, retrying retryable failures. attempt starts at 1. Inputs such as
// list cursors must be captured by fn; the controller never alters them.
func (c *Controller) Do(ctx context.Context, op storage.Op, fn func(ctx context.Context, attempt int) error) error {
	_, err := Do(ctx, c, op, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// Generic form of Controller.Do for operations that produce a value
func Do[T any](ctx context.Context, c *Controller, op storage.Op, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	schedule := c.schedule()

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				c.logger.Debug("Operation succeeded after retry", "op", op, "attempts", attempt)
			}
			return v, nil
		}

		if ctx.Err() != nil || !c.retryable(err) {
			return zero, err
		}
		if attempt >= c.policy.MaxAttempts {
			c.logger.Warn("Retries exhausted", "op", op, "attempts", attempt, "error", err)
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := schedule.NextBackOff()
		if after := storage.RetryAfter(err); after > 0 {
			delay = after
		}

		c.logger.Debug("Retrying operation", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if c.notify != nil {
			c.notify(op, attempt, delay, err)
		}

		if serr := c.sleep(ctx, delay); serr != nil {
			return zero, errors.Join(serr, err)
		}
	}
}

// A fresh delay schedule: base doubling up to max, each delay jittered.
// Elapsed time is never a stop condition; only MaxAttempts is.
func (c *Controller) schedule() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.policy.BaseDelay,
		RandomizationFactor: c.policy.JitterFraction,
		Multiplier:          2,
		MaxInterval:         c.policy.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
