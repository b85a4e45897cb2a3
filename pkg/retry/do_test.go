package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("bind: address already in use")
		}
		return nil
	}, WithMaxAttempts(5), WithBackoff(Fixed(time.Millisecond)))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ReturnsLastErrorWhenBudgetSpent(t *testing.T) {
	wantErr := errors.New("still failing")
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return wantErr
	}, WithMaxAttempts(3), WithBackoff(Fixed(time.Millisecond)))
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	}, WithMaxAttempts(10), WithBackoff(Fixed(50*time.Millisecond)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextErrorIsNotRetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	}, WithMaxAttempts(5))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestFixed_ConstantPause(t *testing.T) {
	b := Fixed(time.Second)
	assert.Equal(t, time.Second, b(0))
	assert.Equal(t, time.Second, b(7))
}

func TestLinear_GrowsAndCaps(t *testing.T) {
	b := Linear(10*time.Millisecond, 25*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b(0))
	assert.Equal(t, 20*time.Millisecond, b(1))
	assert.Equal(t, 25*time.Millisecond, b(2))
	assert.Equal(t, 25*time.Millisecond, b(9))
}

func TestExponential_DoublesAndCaps(t *testing.T) {
	b := Exponential(10*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b(0))
	assert.Equal(t, 20*time.Millisecond, b(1))
	assert.Equal(t, 40*time.Millisecond, b(2))
	assert.Equal(t, 50*time.Millisecond, b(3))
}

func TestExponential_UncappedWithoutMax(t *testing.T) {
	b := Exponential(time.Millisecond)
	assert.Equal(t, 8*time.Millisecond, b(3))
}

func TestDo_JitterStaysWithinPause(t *testing.T) {
	start := time.Now()
	_ = Do(context.Background(), func(context.Context) error {
		return errors.New("fail")
	}, WithMaxAttempts(3), WithBackoff(Fixed(20*time.Millisecond)), WithJitter())
	// Two pauses, each jittered into (0, 20ms]: the whole run stays well
	// under the unjittered 40ms plus scheduling slack.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
