package ringbuffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSPSC_RejectsNonPowerOfTwo(t *testing.T) {
	_, err := NewSPSC[int](3)
	require.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = NewSPSC[int](0)
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestSPSC_ClaimPublishConsume(t *testing.T) {
	r, err := NewSPSC[int](8)
	require.NoError(t, err)

	start, ok := r.TryClaim(4)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)
	for i := uint64(0); i < 4; i++ {
		*r.Slot(start + i) = int(i) * 10
	}
	r.Publish(start + 4)

	dest := make([]int, 8)
	cstart, n := r.PeekBatch(dest)
	require.Equal(t, 4, n)
	assert.Equal(t, uint64(0), cstart)
	assert.Equal(t, []int{0, 10, 20, 30}, dest[:n])

	r.AdvanceConsumer(cstart + uint64(n) - 1)
	assert.Equal(t, uint64(4), r.ConsumedSeq())
}

func TestSPSC_ClaimFailsWhenFull(t *testing.T) {
	r, err := NewSPSC[int](4)
	require.NoError(t, err)

	start, ok := r.TryClaim(4)
	require.True(t, ok)
	r.Publish(start + 4)

	_, ok = r.TryClaim(1)
	assert.False(t, ok, "claim beyond capacity with nothing consumed should fail")

	dest := make([]int, 4)
	cstart, n := r.PeekBatch(dest)
	r.AdvanceConsumer(cstart + uint64(n) - 1)

	_, ok = r.TryClaim(1)
	assert.True(t, ok, "claim should succeed once consumer has advanced")
}

func TestSPSC_ClaimBlockingWaitsForConsumer(t *testing.T) {
	r, err := NewSPSC[int](4)
	require.NoError(t, err)

	start, ok := r.TryClaim(4)
	require.True(t, ok)
	r.Publish(start + 4)

	claimed := make(chan uint64, 1)
	go func() {
		claimed <- r.ClaimBlocking(1, &YieldingWaitStrategy{})
	}()

	select {
	case seq := <-claimed:
		t.Fatalf("claim succeeded on a full ring at seq %d", seq)
	case <-time.After(20 * time.Millisecond):
	}

	dest := make([]int, 4)
	cstart, n := r.PeekBatch(dest)
	r.AdvanceConsumer(cstart + uint64(n) - 1)

	select {
	case seq := <-claimed:
		assert.Equal(t, uint64(4), seq)
	case <-time.After(2 * time.Second):
		t.Fatal("claim did not complete after consumer advanced")
	}
}

func TestSPSC_ConcurrentProducerConsumer(t *testing.T) {
	r, err := NewSPSC[int](64)
	require.NoError(t, err)

	const total = 10000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			start, ok := r.TryClaim(1)
			if !ok {
				continue
			}
			*r.Slot(start) = i
			r.Publish(start + 1)
			i++
		}
	}()

	sum := 0
	go func() {
		defer wg.Done()
		got := 0
		buf := make([]int, 16)
		for got < total {
			cstart, n := r.PeekBatch(buf)
			if n == 0 {
				continue
			}
			for i := 0; i < n; i++ {
				sum += buf[i]
			}
			r.AdvanceConsumer(cstart + uint64(n) - 1)
			got += n
		}
	}()

	wg.Wait()
	assert.Equal(t, total*(total-1)/2, sum)
}
