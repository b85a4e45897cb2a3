package loopctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_StopsAfterMaxTimes(t *testing.T) {
	l := New(WithMaxTimes(3), WithInterval(time.Millisecond))
	var calls int
	err := l.Do(func() (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestLoop_AbortStopsImmediately(t *testing.T) {
	l := New(WithInterval(time.Millisecond))
	var calls int
	wantErr := errors.New("boom")
	err := l.Do(func() (bool, error) {
		calls++
		return calls == 2, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 2, calls)
}

func TestLoop_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(WithInterval(50*time.Millisecond), WithContext(ctx))

	var calls int
	done := make(chan error, 1)
	go func() {
		done <- l.Do(func() (bool, error) {
			calls++
			if calls == 1 {
				cancel()
			}
			return false, nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after context cancellation")
	}
	assert.GreaterOrEqual(t, calls, 1)
}

func TestLoop_DeclineLimitCapsBackoff(t *testing.T) {
	l := New(
		WithInterval(time.Millisecond),
		WithDeclineRatio(10),
		WithDeclineLimit(5*time.Millisecond),
		WithMaxTimes(3),
	)
	start := time.Now()
	_ = l.Do(func() (bool, error) { return false, errors.New("fail") })
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
