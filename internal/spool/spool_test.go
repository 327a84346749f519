package spool

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpool_WriteThenDrain(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "")

	records := []map[string]interface{}{
		{"id": "1", "v": "a"},
		{"id": "2", "v": "b"},
		{"id": "3", "v": "c"},
	}

	gen := func(ctx context.Context, emit func(map[string]interface{}) error) error {
		for _, r := range records {
			if err := emit(r); err != nil {
				return err
			}
		}
		return io.EOF
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx, gen)

	var got []map[string]interface{}
	err := s.Process(ctx, func(rec map[string]interface{}) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0]["id"])
	assert.Equal(t, "3", got[2]["id"])

	s.Cleanup()
}

func TestSpool_TailsWhileWriterIsSlow(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "")

	gen := func(ctx context.Context, emit func(map[string]interface{}) error) error {
		for i := 0; i < 3; i++ {
			if err := emit(map[string]interface{}{"id": i}); err != nil {
				return err
			}
			time.Sleep(30 * time.Millisecond)
		}
		return io.EOF
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx, gen)

	count := 0
	err := s.Process(ctx, func(rec map[string]interface{}) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSpool_CancellationStopsProcess(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "")

	block := make(chan struct{})
	gen := func(ctx context.Context, emit func(map[string]interface{}) error) error {
		if err := emit(map[string]interface{}{"id": 1}); err != nil {
			return err
		}
		<-block
		return io.EOF
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() { close(block) })
	s.Start(ctx, gen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Process(ctx, func(rec map[string]interface{}) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not observe cancellation")
	}
}
