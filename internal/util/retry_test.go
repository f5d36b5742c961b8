package util

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalineage/internal/common"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(common.Transient("blob put", errors.New("reset"))))
	assert.True(t, IsTransient(errors.New("database is locked (5)")))
	assert.False(t, IsTransient(fmt.Errorf("x: %w", common.ErrNotFound)))
	assert.False(t, IsTransient(&common.VersionInUseError{VersionID: "v", Pinned: true}))
}

func fastOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Millisecond),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

func TestRetryTransientOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, func() error {
		calls++
		if calls < 3 {
			return common.Transient("metadata", errors.New("busy"))
		}
		return nil
	}, fastOptions(ctx)...)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(ctx, func() error {
		calls++
		return &common.InvalidInputError{Reason: "bad"}
	}, fastOptions(ctx)...)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, 1, calls, "validation errors are not retried")
}

func TestRetryWithResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	calls := 0
	got, err := RetryWithResult(ctx, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("database is locked")
		}
		return "ok", nil
	}, fastOptions(ctx)...)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestPollUntil(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	n := 0
	err := PollUntil(ctx, PollConfig{Timeout: time.Second, Interval: time.Millisecond}, func() bool {
		n++
		return n == 3
	})
	require.NoError(t, err)

	err = PollUntil(ctx, PollConfig{Timeout: 10 * time.Millisecond, Interval: time.Millisecond}, func() bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
