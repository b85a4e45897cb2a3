package ringbuffer

// SPSC is a single-producer, single-consumer fixed-capacity ring buffer of
// T. Producer claim is an unsynchronized local counter (only the producer
// goroutine ever touches it); publish is a single atomic store. The
// consumer's cursor load happens-before any read of a slot's payload,
// giving a safe handoff without a CAS on the hot path since there is only
// ever one producer and one consumer to synchronize.
type SPSC[T any] struct {
	buf      []T
	mask     uint64
	capacity uint64

	claimed   uint64 // producer-local, unsynchronized
	published paddedCursor
	consumed  paddedCursor
}

// NewSPSC creates an SPSC ring of the given power-of-two capacity.
func NewSPSC[T any](capacity uint64) (*SPSC[T], error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	return &SPSC[T]{
		buf:      make([]T, capacity),
		mask:     capacity - 1,
		capacity: capacity,
	}, nil
}

func (r *SPSC[T]) Capacity() uint64 { return r.capacity }

// TryClaim reserves n contiguous slots for the producer. It reports
// ok=false if doing so would advance the producer cursor more than
// capacity slots ahead of the consumer cursor; the caller retries
// (optionally via a WaitStrategy) or drops, the ring never blocks.
func (r *SPSC[T]) TryClaim(n uint64) (start uint64, ok bool) {
	start = r.claimed
	end := start + n
	if end-r.consumed.load() > r.capacity {
		return 0, false
	}
	r.claimed = end
	return start, true
}

// ClaimBlocking reserves n contiguous slots, waiting via ws whenever the
// ring is full — a blocking convenience layered over the non-blocking
// TryClaim core for producers that would otherwise retry in place.
func (r *SPSC[T]) ClaimBlocking(n uint64, ws WaitStrategy) uint64 {
	for {
		if start, ok := r.TryClaim(n); ok {
			return start
		}
		ws.Wait()
	}
}

// Slot returns a mutable view of the slot owning sequence seq. Valid only
// for sequences between a successful TryClaim and the matching Publish.
func (r *SPSC[T]) Slot(seq uint64) *T {
	return &r.buf[seq&r.mask]
}

// Publish makes slots up to (but excluding) seqEnd visible to the
// consumer. All writes to those slots must happen-before this call.
func (r *SPSC[T]) Publish(seqEnd uint64) {
	r.published.store(seqEnd)
}

// PeekBatch copies up to len(dest) published-but-unconsumed slots into
// dest, starting at the consumer's current position, and returns the
// starting sequence and the count copied.
func (r *SPSC[T]) PeekBatch(dest []T) (start uint64, n int) {
	start = r.consumed.load()
	avail := r.published.load() - start
	max := uint64(len(dest))
	if avail < max {
		max = avail
	}
	for i := uint64(0); i < max; i++ {
		dest[i] = r.buf[(start+i)&r.mask]
	}
	return start, int(max)
}

// AdvanceConsumer moves the consumer cursor past seqInclusive, freeing
// those slots for the producer.
func (r *SPSC[T]) AdvanceConsumer(seqInclusive uint64) {
	r.consumed.store(seqInclusive + 1)
}

// ConsumedSeq returns the consumer's current cursor (next seq to read).
func (r *SPSC[T]) ConsumedSeq() uint64 { return r.consumed.load() }

// PublishedSeq returns the producer's current published cursor.
func (r *SPSC[T]) PublishedSeq() uint64 { return r.published.load() }
