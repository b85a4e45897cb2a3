package ringbuffer

import "runtime"

// SPMC is a single-producer, multi-consumer ring buffer. The producer side
// is identical to SPSC (an unsynchronized local claim counter plus a single
// atomic publish store). Consumers share one CAS'd read cursor: each
// consumer claims a batch of not-yet-delivered sequences with a CAS-weak
// loop, so every published item is handed to exactly one consumer.
type SPMC[T any] struct {
	buf      []T
	mask     uint64
	capacity uint64

	claimed   uint64 // producer-local, unsynchronized
	published paddedCursor
	read      paddedCursor // CAS'd by consumers claiming work
	consumed  paddedCursor // trails the slowest consumer, gates the producer
}

// NewSPMC creates an SPMC ring of the given power-of-two capacity.
func NewSPMC[T any](capacity uint64) (*SPMC[T], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	return &SPMC[T]{
		buf:      make([]T, capacity),
		mask:     capacity - 1,
		capacity: capacity,
	}, nil
}

func (r *SPMC[T]) Capacity() uint64 { return r.capacity }

// TryClaim reserves n contiguous slots for the producer, gated against the
// trailing consumer cursor rather than the read cursor: a slot is not free
// for reuse until every consumer that claimed it has finished with it.
func (r *SPMC[T]) TryClaim(n uint64) (start uint64, ok bool) {
	start = r.claimed
	end := start + n
	if end-r.consumed.load() > r.capacity {
		return 0, false
	}
	r.claimed = end
	return start, true
}

func (r *SPMC[T]) Slot(seq uint64) *T {
	return &r.buf[seq&r.mask]
}

// Publish makes slots up to (but excluding) seqEnd visible to consumers.
func (r *SPMC[T]) Publish(seqEnd uint64) {
	r.published.store(seqEnd)
}

// ClaimRead reserves up to n published-but-unclaimed sequences for one
// consumer via a CAS-weak loop on the shared read cursor. Returns ok=false
// if nothing is published yet.
func (r *SPMC[T]) ClaimRead(n uint64) (start uint64, count uint64, ok bool) {
	for {
		cur := r.read.load()
		avail := r.published.load() - cur
		if avail == 0 {
			return 0, 0, false
		}
		take := n
		if avail < take {
			take = avail
		}
		if r.read.cas(cur, cur+take) {
			return cur, take, true
		}
	}
}

// Get returns the value at sequence seq. Valid only for sequences the
// caller has claimed via ClaimRead and not yet released.
func (r *SPMC[T]) Get(seq uint64) T {
	return r.buf[seq&r.mask]
}

// Release marks the claimed range [start, start+count) as fully consumed by
// the calling consumer. Consumers must release in the order they claimed
// (true in practice since ClaimRead hands out strictly increasing ranges);
// the trailing cursor only advances past a release that abuts it, so a
// consumer that stalls holds back TryClaim's gating without corrupting data.
func (r *SPMC[T]) Release(start, count uint64) {
	for {
		cur := r.consumed.load()
		if cur != start {
			// An earlier consumer's range hasn't been released yet.
			// Ranges are handed out in increasing order by ClaimRead so
			// this clears as earlier consumers finish.
			runtime.Gosched()
			continue
		}
		if r.consumed.cas(cur, cur+count) {
			return
		}
	}
}
