package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	r := New(
		WithInitialInterval(time.Millisecond),
		WithMaxRetries(5),
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	r := New(
		WithInitialInterval(time.Millisecond),
		WithMaxRetries(2),
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("still broken")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "first attempt plus two retries")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	r := New(
		WithInitialInterval(time.Millisecond),
		WithMaxRetries(5),
		WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
	)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	r := New(
		WithInitialInterval(time.Hour),
		WithMaxRetries(5),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func(context.Context) error {
		return errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestDoWithDataReturnsValue(t *testing.T) {
	r := New(
		WithInitialInterval(time.Millisecond),
		WithMaxRetries(3),
	)

	calls := 0
	got, err := DoWithData(r, context.Background(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
