package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return ferrors.New(ferrors.KindTransient, "fetch_tasks", errors.New("timeout"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsAfterMaxAttempts(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.MaxAttempts = 3

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return ferrors.New(ferrors.KindTransient, "fetch_tasks", errors.New("still down"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonTransientFailsFast(t *testing.T) {
	cfg := DefaultRetryConfig()
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return ferrors.New(ferrors.KindMalformed, "fetch_tasks", errors.New("bad payload"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, ferrors.Is(err, ferrors.KindMalformed))
}

func TestRetry_RespectsCancellation(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxAttempts = 5

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		attempts++
		return ferrors.New(ferrors.KindTransient, "fetch_tasks", errors.New("down"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
