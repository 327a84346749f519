package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
)

func fastProfile() Profile {
	p := DefaultProfile()
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.MaxAttempts = 4
	return p
}

func TestInvoker_SucceedsAfterRetries(t *testing.T) {
	inv := New(fastProfile(), false)

	attempts := 0
	err := inv.WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestInvoker_StopsOnClientFault(t *testing.T) {
	inv := New(fastProfile(), false)

	attempts := 0
	err := inv.WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return apperrors.New(apperrors.ErrorTypeClientFault, "bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "ShouldRetry rejects client-fault errors immediately")
}

func TestInvoker_ExhaustsAttempts(t *testing.T) {
	p := fastProfile()
	p.MaxAttempts = 3
	inv := New(p, false)

	attempts := 0
	err := inv.WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestInvoker_CancelledContextStopsImmediately(t *testing.T) {
	inv := New(fastProfile(), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := inv.WithRetry(ctx, func(ctx context.Context) error {
		attempts++
		return nil
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))
	assert.Equal(t, 0, attempts)
}

func TestInvoker_Serialized(t *testing.T) {
	inv := New(fastProfile(), true)

	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = inv.WithRetry(context.Background(), func(ctx context.Context) error {
				order = append(order, i)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Len(t, order, 3, "serialized invoker still lets every call through, one at a time")
}

func TestIsOAuthRateLimited(t *testing.T) {
	wrapped := apperrors.Wrap(&OAuthRateLimitedError{Cause: errors.New("x")}, apperrors.ErrorTypeTransient, "oauth call failed")
	assert.True(t, IsOAuthRateLimited(wrapped))
	assert.False(t, IsOAuthRateLimited(errors.New("unrelated")))
}
