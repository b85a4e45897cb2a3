package recvwindow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_InOrderDelivery(t *testing.T) {
	win := NewRing(8, 0)
	for i := uint64(0); i < 4; i++ {
		require.True(t, win.Insert(i, []byte{byte(i)}))
	}
	var delivered []byte
	win.DeliverInOrder(func(data []byte) { delivered = append(delivered, data[0]) })
	assert.Equal(t, []byte{0, 1, 2, 3}, delivered)
}

func TestRing_OutOfOrderDelivery(t *testing.T) {
	win := NewRing(8, 0)
	require.True(t, win.Insert(1, []byte{1}))
	require.True(t, win.Insert(2, []byte{2}))
	require.True(t, win.Insert(0, []byte{0}))

	var delivered []byte
	win.DeliverInOrder(func(data []byte) { delivered = append(delivered, data[0]) })
	assert.Equal(t, []byte{0, 1, 2}, delivered)
}

func TestRing_DuplicateInsertRejected(t *testing.T) {
	win := NewRing(8, 0)
	require.True(t, win.Insert(0, []byte{42}))
	require.False(t, win.Insert(0, []byte{99}))

	var delivered []byte
	win.DeliverInOrder(func(data []byte) { delivered = append(delivered, data[0]) })
	assert.Equal(t, []byte{42}, delivered)
}

func TestRing_WraparoundAcrossDeliverCalls(t *testing.T) {
	win := NewRing(4, 0)
	for i := uint64(0); i < 4; i++ {
		require.True(t, win.Insert(i, []byte{byte(i)}))
	}
	var first []byte
	win.DeliverInOrder(func(data []byte) { first = append(first, data[0]) })
	assert.Equal(t, []byte{0, 1, 2, 3}, first)

	for i := uint64(4); i < 8; i++ {
		require.True(t, win.Insert(i, []byte{byte(i)}))
	}
	var second []byte
	win.DeliverInOrder(func(data []byte) { second = append(second, data[0]) })
	assert.Equal(t, []byte{4, 5, 6, 7}, second)
}

func TestRing_GapsReportsMissingRanges(t *testing.T) {
	win := NewRing(16, 0)
	require.True(t, win.Insert(0, []byte{0}))
	require.True(t, win.Insert(5, []byte{5}))
	win.DeliverInOrder(func([]byte) {})

	type rng struct{ start, end uint64 }
	var gaps []rng
	win.Gaps(func(start, end uint64) { gaps = append(gaps, rng{start, end}) })
	require.Len(t, gaps, 2)
	assert.Equal(t, rng{1, 4}, gaps[0])
	assert.Equal(t, rng{6, 16}, gaps[1])
}

func TestWindow_BitmapInOrderDelivery(t *testing.T) {
	win := NewWindow(8, 0)
	for i := uint64(0); i < 4; i++ {
		win.Insert(i, []byte{byte(i)})
	}
	var delivered []byte
	win.DeliverInOrder(func(data []byte) { delivered = append(delivered, data[0]) })
	assert.Equal(t, []byte{0, 1, 2, 3}, delivered)
}

func TestWindow_BoundedFuturePackets(t *testing.T) {
	win := NewWindow(4, 0)
	win.Insert(100, []byte{100})
	win.Insert(101, []byte{101})
	win.Insert(4, []byte{4})
	win.Insert(5, []byte{5})

	var delivered []byte
	win.DeliverInOrder(func(data []byte) { delivered = append(delivered, data[0]) })
	assert.Empty(t, delivered)

	for i := uint64(0); i < 4; i++ {
		win.Insert(i, []byte{byte(i)})
	}
	var delivered2 []byte
	win.DeliverInOrder(func(data []byte) { delivered2 = append(delivered2, data[0]) })
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5}, delivered2)

	var delivered3 []byte
	win.DeliverInOrder(func(data []byte) { delivered3 = append(delivered3, data[0]) })
	assert.Empty(t, delivered3)
}

func TestWindow_FutureDuplicateIgnored(t *testing.T) {
	win := NewWindow(4, 0)
	win.Insert(6, []byte{60})
	win.Insert(6, []byte{61})
	for i := uint64(0); i < 6; i++ {
		win.Insert(i, []byte{byte(i)})
	}

	var delivered []byte
	win.DeliverInOrder(func(data []byte) { delivered = append(delivered, data[0]) })
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 60}, delivered)
}

func TestWindow_BitmapBaseTrailsDelivery(t *testing.T) {
	win := NewWindow(64, 0)
	var delivered int
	for i := uint64(0); i < 200; i++ {
		win.Insert(i, []byte{byte(i)})
		win.DeliverInOrder(func([]byte) { delivered++ })
	}
	assert.Equal(t, 200, delivered)

	// The base advances in whole words and never reports anything below
	// itself as received.
	assert.Equal(t, uint64(192), win.bitmapBase)
	assert.Less(t, win.ring.nextExpected-win.bitmapBase, uint64(64))
	assert.False(t, win.isReceived(win.bitmapBase-1))
}

func TestWindow_DuplicateInsertIgnored(t *testing.T) {
	win := NewWindow(8, 0)
	win.Insert(0, []byte{42})
	win.Insert(0, []byte{99})

	var delivered []byte
	win.DeliverInOrder(func(data []byte) { delivered = append(delivered, data[0]) })
	assert.Equal(t, []byte{42}, delivered)
}
