package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"objstore/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// Records requested delays instead of sleeping
type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newController(t *testing.T, p Policy, rec *recorder) *Controller {
	t.Helper()
	c, err := New(p, quiet, WithSleeper(rec.sleep))
	require.NoError(t, err)
	return c
}

func unavailable() error {
	return storage.FromStatus(503, storage.OpGet, "a", false)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	cases := map[string]Policy{
		"zero attempts":  {MaxAttempts: 0},
		"negative delay": {MaxAttempts: 1, BaseDelay: -1},
		"max below base": {MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Millisecond},
		"jitter too big": {MaxAttempts: 1, JitterFraction: 1.5},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, p.Validate())
			_, err := New(p, quiet)
			assert.Error(t, err)
		})
	}
}

func TestDo_TransientFailuresThenSuccess(t *testing.T) {
	for _, k := range []int{1, 3, 5} {
		rec := &recorder{}
		c := newController(t, Policy{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}, rec)

		calls := 0
		got, err := Do(context.Background(), c, storage.OpGet, func(ctx context.Context, attempt int) (string, error) {
			calls++
			assert.Equal(t, calls, attempt)
			if attempt <= k {
				return "", unavailable()
			}
			return "body", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "body", got)
		assert.Equal(t, k+1, calls)
		require.Len(t, rec.delays, k)
		for i := 1; i < len(rec.delays); i++ {
			assert.GreaterOrEqual(t, rec.delays[i], rec.delays[i-1])
		}
	}
}

func TestDo_DelayScheduleDoublesUpToMax(t *testing.T) {
	rec := &recorder{}
	c := newController(t, Policy{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}, rec)

	err := c.Do(context.Background(), storage.OpList, func(ctx context.Context, attempt int) error {
		return unavailable()
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 6, exhausted.Attempts)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}, rec.delays)
}

func TestDo_JitterStaysWithinBounds(t *testing.T) {
	rec := &recorder{}
	c := newController(t, Policy{MaxAttempts: 50, BaseDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond, JitterFraction: 0.25}, rec)

	_ = c.Do(context.Background(), storage.OpGet, func(ctx context.Context, attempt int) error {
		return unavailable()
	})

	require.Len(t, rec.delays, 49)
	for _, d := range rec.delays {
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestDo_ExhaustionPreservesKind(t *testing.T) {
	rec := &recorder{}
	c := newController(t, Policy{MaxAttempts: 3}, rec)

	err := c.Do(context.Background(), storage.OpGet, func(ctx context.Context, attempt int) error {
		return storage.FromStatus(429, storage.OpGet, "a", false)
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, storage.ErrRateLimited)
	assert.Equal(t, storage.KindRateLimited, storage.KindOf(err))
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	for _, status := range []int{400, 403, 404, 412, 416} {
		rec := &recorder{}
		c := newController(t, DefaultPolicy(), rec)

		calls := 0
		err := c.Do(context.Background(), storage.OpGet, func(ctx context.Context, attempt int) error {
			calls++
			return storage.FromStatus(status, storage.OpGet, "a", false)
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls, "status %d", status)
		assert.Empty(t, rec.delays)

		var exhausted *ExhaustedError
		assert.False(t, errors.As(err, &exhausted))
	}
}

func TestDo_TransportFailureIsRetried(t *testing.T) {
	rec := &recorder{}
	c := newController(t, Policy{MaxAttempts: 3}, rec)

	calls := 0
	err := c.Do(context.Background(), storage.OpPut, func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return storage.FromTransport(errors.New("connection reset"), storage.OpPut, "a")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_RetryAfterOverridesComputedDelay(t *testing.T) {
	rec := &recorder{}
	c := newController(t, Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}, rec)

	err := c.Do(context.Background(), storage.OpGet, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			e := storage.FromStatus(429, storage.OpGet, "a", false)
			e.RetryAfter = 7 * time.Second
			return e
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, rec.delays)
}

func TestDo_CapturedInputsAreResentUnchanged(t *testing.T) {
	rec := &recorder{}
	c := newController(t, Policy{MaxAttempts: 4}, rec)

	cursor := "token-abc"
	var seen []string
	err := c.Do(context.Background(), storage.OpList, func(ctx context.Context, attempt int) error {
		seen = append(seen, cursor)
		if attempt < 3 {
			return unavailable()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"token-abc", "token-abc", "token-abc"}, seen)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, err := New(Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, quiet)
	require.NoError(t, err)

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err = c.Do(ctx, storage.OpGet, func(ctx context.Context, attempt int) error {
		calls++
		return unavailable()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDo_NotifyCalledPerRetry(t *testing.T) {
	var attempts []int
	c, err := New(Policy{MaxAttempts: 3}, quiet,
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithNotify(func(op storage.Op, attempt int, delay time.Duration, err error) {
			assert.Equal(t, storage.OpDelete, op)
			attempts = append(attempts, attempt)
		}),
	)
	require.NoError(t, err)

	_ = c.Do(context.Background(), storage.OpDelete, func(ctx context.Context, attempt int) error {
		return unavailable()
	})
	assert.Equal(t, []int{1, 2}, attempts)
}
