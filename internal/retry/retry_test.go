package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedDelay(d time.Duration) DelayFunc {
	return func() func() time.Duration {
		return func() time.Duration { return d }
	}
}

func TestRetrySuccessOnFirstTry(t *testing.T) {
	var attempts int
	fn := func(ctx context.Context) error {
		attempts++
		return nil
	}

	err := Do(context.Background(), fn, WithMaxAttempts(3))

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrySuccessAfterAFewRetries(t *testing.T) {
	var attempts int
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	err := Do(
		context.Background(),
		fn,
		WithMaxAttempts(5),
		WithDelayFunc(fixedDelay(time.Millisecond)),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryFailureAfterAllAttempts(t *testing.T) {
	var attempts int
	expectedErr := errors.New("error")
	fn := func(ctx context.Context) error {
		attempts++
		return expectedErr
	}

	err := Do(
		context.Background(),
		fn,
		WithMaxAttempts(4),
		WithDelayFunc(fixedDelay(time.Millisecond)),
	)

	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 4, attempts)
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var attempts int
	fn := func(ctx context.Context) error {
		attempts++
		return errors.New("error")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(
		ctx,
		fn,
		WithMaxAttempts(10),
		WithDelayFunc(fixedDelay(10*time.Millisecond)),
	)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 10)
}
