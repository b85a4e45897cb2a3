package ringbuffer

import "sync/atomic"

// MPSC is a multi-producer, single-consumer ring buffer. Producers claim
// slots with a CAS-weak loop on the shared cursor, retrying until their
// claim wins; the consumer is single-threaded so its
// cursor needs no synchronization beyond the atomic load used for
// backpressure gating. Publish visibility is gated per-slot: because two
// producers can claim concurrently and finish publishing out of order, a
// per-slot ready flag (parallel to MPMC's availability bitmap, but
// specialized to a single contiguous consumer) tracks which claimed slots
// have actually been written.
type MPSC[T any] struct {
	buf      []T
	ready    []paddedFlag
	mask     uint64
	capacity uint64

	claimed   paddedCursor // CAS'd by producers
	consumed  paddedCursor // consumer-owned, read by producers for gating
}

type paddedFlag struct {
	v atomic.Uint32
	_ [cacheLinePad - 4]byte
}

// NewMPSC creates an MPSC ring of the given power-of-two capacity.
func NewMPSC[T any](capacity uint64) (*MPSC[T], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	return &MPSC[T]{
		buf:      make([]T, capacity),
		ready:    make([]paddedFlag, capacity),
		mask:     capacity - 1,
		capacity: capacity,
	}, nil
}

func (r *MPSC[T]) Capacity() uint64 { return r.capacity }

// TryClaim reserves n contiguous slots using a CAS-weak loop. It reports
// ok=false if the ring is full with respect to the consumer cursor.
func (r *MPSC[T]) TryClaim(n uint64) (start uint64, ok bool) {
	for {
		cur := r.claimed.load()
		end := cur + n
		if end-r.consumed.load() > r.capacity {
			return 0, false
		}
		if r.claimed.cas(cur, end) {
			return cur, true
		}
	}
}

func (r *MPSC[T]) Slot(seq uint64) *T {
	return &r.buf[seq&r.mask]
}

// Publish marks every slot in the claimed range [start, seqEnd) ready. Since
// producers may finish out of order, each slot in the claimed range is
// flagged independently rather than moving a single cursor.
func (r *MPSC[T]) Publish(start, seqEnd uint64) {
	for seq := start; seq < seqEnd; seq++ {
		r.ready[seq&r.mask].v.Store(1)
	}
}

// PeekBatch copies up to len(dest) contiguous ready slots starting at the
// consumer's cursor. Visibility stops at the first not-yet-published slot,
// preserving the contiguous-delivery contract.
func (r *MPSC[T]) PeekBatch(dest []T) (start uint64, n int) {
	start = r.consumed.load()
	i := 0
	for uint64(i) < uint64(len(dest)) {
		seq := start + uint64(i)
		if r.ready[seq&r.mask].v.Load() == 0 {
			break
		}
		dest[i] = r.buf[seq&r.mask]
		i++
	}
	return start, i
}

// AdvanceConsumer moves the consumer cursor past seqInclusive and clears
// the ready flags it consumed, freeing those slots for producers.
func (r *MPSC[T]) AdvanceConsumer(seqInclusive uint64) {
	start := r.consumed.load()
	for seq := start; seq <= seqInclusive; seq++ {
		r.ready[seq&r.mask].v.Store(0)
	}
	r.consumed.store(seqInclusive + 1)
}
