package ringbuffer

import "sync/atomic"

// cacheLinePad is 64 bytes, the common x86/ARM cache line size, used to
// stop producer and consumer cursors from sharing a cache line and
// thrashing each other.
const cacheLinePad = 64

// paddedCursor is a sequence counter padded to its own cache line so that
// concurrent producer/consumer cursors never false-share.
type paddedCursor struct {
	seq atomic.Uint64
	_   [cacheLinePad - 8]byte
}

func (c *paddedCursor) load() uint64      { return c.seq.Load() }
func (c *paddedCursor) store(v uint64)    { c.seq.Store(v) }
func (c *paddedCursor) add(d uint64) uint64 { return c.seq.Add(d) }
func (c *paddedCursor) cas(old, new uint64) bool {
	return c.seq.CompareAndSwap(old, new)
}
