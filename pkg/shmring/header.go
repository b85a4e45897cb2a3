package shmring

import (
	"sync/atomic"
	"unsafe"
)

// magic identifies a file as belonging to this ring format.
const magic uint64 = 0x4b414f535f534852

// formatVersion is bumped on any breaking change to headerSize or field
// layout.
const formatVersion uint32 = 1

// headerSize reserves room for the fixed fields plus headroom for future
// ones without shifting slot data, and keeps the three hot cursors each on
// their own cache line.
const headerSize = 256

// header is overlaid directly onto the first 256 bytes of the mapped file
// via unsafe.Pointer. Field order and padding must exactly match: every
// process that opens the file — regardless of which one created it —
// computes offsets from this same layout.
type header struct {
	magic    uint64
	version  uint32
	capacity uint32
	slotSize uint32
	_        [44]byte

	producerSeq atomic.Uint64
	_           [56]byte

	// cachedConsumerSeq is a producer-side scratch slot for the last
	// observed consumer cursor. This implementation keeps that cache
	// in-process (see Ring.cachedSeq); the field stays in the layout so
	// every process computes the same offsets.
	cachedConsumerSeq atomic.Uint64
	_                 [56]byte

	consumerSeq atomic.Uint64
	_           [56]byte
}

func init() {
	if unsafe.Sizeof(header{}) != headerSize {
		panic("shmring: header layout does not match headerSize")
	}
}
