package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_ConsumesReservoir(t *testing.T) {
	r := NewRegistry(map[string]Budget{
		"test": {Burst: 1000, Steady: 3, Concurrency: 5},
	})

	for i := 0; i < 3; i++ {
		_, err := Schedule(context.Background(), r, "test", func(ctx context.Context) (int, error) {
			return i, nil
		})
		require.NoError(t, err)
	}

	reservoir, steady, ok := r.Stats("test")
	require.True(t, ok)
	assert.Equal(t, 0, reservoir)
	assert.Equal(t, 3, steady)
}

func TestSchedule_UnknownKeyPanics(t *testing.T) {
	r := NewRegistry(map[string]Budget{})
	assert.Panics(t, func() {
		_, _ = Schedule(context.Background(), r, "missing", func(ctx context.Context) (int, error) {
			return 0, nil
		})
	})
}

func TestSchedule_CancelledContext(t *testing.T) {
	// Steady: 0 forces the reservoir wait branch, the first of
	// Schedule's waits that observe ctx.Done() before dispatching.
	r := NewRegistry(map[string]Budget{
		"test": {Burst: 1000, Steady: 0, Concurrency: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Schedule(ctx, r, "test", func(ctx context.Context) (int, error) {
		return 0, nil
	})
	require.Error(t, err)
}

func TestSchedule_ReturnsFnError(t *testing.T) {
	r := NewRegistry(map[string]Budget{
		"test": {Burst: 1000, Steady: 5, Concurrency: 5},
	})

	_, err := Schedule(context.Background(), r, "test", func(ctx context.Context) (int, error) {
		return 0, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
}
