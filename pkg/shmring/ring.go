// Package shmring is a file-backed, single-producer/single-consumer ring
// buffer shared between two processes via mmap(MAP_SHARED): a 256-byte
// header carrying the magic number, geometry, and the three shared cursor
// words, followed by the slot payload region. Cursor transitions go
// through atomic loads/stores so the two processes agree on slot
// visibility without any lock; slot bytes are plain memory, ordered by
// the cursors alone.
package shmring

import (
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// Ring is one end (producer or consumer) of a shared-memory ring buffer.
// A Ring is not safe for concurrent use by multiple goroutines on the same
// end; the format supports exactly one producer and one consumer process.
type Ring struct {
	mm       mmap.MMap
	file     *os.File
	path     string
	owner    bool // true for the process that called Create; unlinks on Close
	capacity uint64
	mask     uint64
	slotSize uint32

	isProducer bool
	localSeq   uint64 // this end's own cursor, unsynchronized
	cachedSeq  uint64 // last observed cursor from the other end
}

func slotCount(capacity uint32) error {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// Create creates (truncating any existing file) a new shared ring at path
// sized for capacity slots of slotSize bytes each, and returns the
// producer end.
func Create(path string, capacity uint32, slotSize uint32) (*Ring, error) {
	if err := slotCount(capacity); err != nil {
		return nil, err
	}

	fileSize := int64(headerSize) + int64(capacity)*int64(slotSize)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(fileSize); err != nil {
		f.Close()
		return nil, err
	}

	mm, err := mmap.MapRegion(f, int(fileSize), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	h := headerOf(mm)
	h.magic = magic
	h.version = formatVersion
	h.capacity = capacity
	h.slotSize = slotSize
	h.producerSeq.Store(0)
	h.cachedConsumerSeq.Store(0)
	h.consumerSeq.Store(0)

	if err := mm.Flush(); err != nil {
		mm.Unmap()
		f.Close()
		return nil, err
	}

	return &Ring{
		mm:         mm,
		file:       f,
		path:       path,
		owner:      true,
		capacity:   uint64(capacity),
		mask:       uint64(capacity) - 1,
		slotSize:   slotSize,
		isProducer: true,
	}, nil
}

// Open attaches to an existing shared ring at path as the consumer end,
// validating the magic number, format version, and slot size against what
// the creator wrote.
func Open(path string, slotSize uint32) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < headerSize {
		f.Close()
		return nil, ErrFileTooSmall
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	h := headerOf(mm)
	if h.magic != magic {
		mm.Unmap()
		f.Close()
		return nil, ErrBadMagic
	}
	if h.version != formatVersion {
		mm.Unmap()
		f.Close()
		return nil, ErrVersionMismatch
	}
	if h.slotSize != slotSize {
		mm.Unmap()
		f.Close()
		return nil, ErrSlotSizeMismatch
	}

	return &Ring{
		mm:         mm,
		file:       f,
		path:       path,
		capacity:   uint64(h.capacity),
		mask:       uint64(h.capacity) - 1,
		slotSize:   slotSize,
		isProducer: false,
	}, nil
}

func headerOf(mm mmap.MMap) *header {
	return (*header)(unsafe.Pointer(&mm[0]))
}

func (r *Ring) header() *header { return headerOf(r.mm) }

func (r *Ring) Capacity() uint64 { return r.capacity }
func (r *Ring) SlotSize() uint32 { return r.slotSize }
func (r *Ring) IsProducer() bool { return r.isProducer }

func (r *Ring) slotBytes(seq uint64) []byte {
	idx := seq & r.mask
	off := uint64(headerSize) + idx*uint64(r.slotSize)
	return r.mm[off : off+uint64(r.slotSize)]
}

// TryClaim reserves the next slot for the producer, refreshing its cached
// view of the consumer cursor only when the local view says the ring is
// full, avoiding an atomic load on every claim.
func (r *Ring) TryClaim() (seq uint64, ok bool) {
	if !r.isProducer {
		return 0, false
	}
	if r.localSeq-r.cachedSeq >= r.capacity {
		r.cachedSeq = r.header().consumerSeq.Load()
		if r.localSeq-r.cachedSeq >= r.capacity {
			return 0, false
		}
	}
	seq = r.localSeq
	r.localSeq++
	return seq, true
}

// WriteSlot copies data into the slot claimed as seq, zero-padding the
// remainder. It must only be called by the producer for a sequence
// returned by TryClaim and not yet published.
func (r *Ring) WriteSlot(seq uint64, data []byte) error {
	if uint32(len(data)) > r.slotSize {
		return ErrPayloadTooLarge
	}
	b := r.slotBytes(seq)
	clear(b)
	copy(b, data)
	return nil
}

// Publish makes the slot at seq visible to the consumer. The store is a
// release: every write to the slot via WriteSlot happens-before a consumer
// that observes the new producerSeq value.
func (r *Ring) Publish(seq uint64) {
	r.header().producerSeq.Store(seq + 1)
}

// TrySend is the common claim+write+publish path for fixed-size messages.
func (r *Ring) TrySend(data []byte) (uint64, error) {
	if !r.isProducer {
		return 0, ErrNotProducer
	}
	seq, ok := r.TryClaim()
	if !ok {
		return 0, ErrWouldBlock
	}
	if err := r.WriteSlot(seq, data); err != nil {
		return 0, err
	}
	r.Publish(seq)
	return seq, nil
}

// Available returns the number of slots published but not yet consumed.
func (r *Ring) Available() uint64 {
	r.cachedSeq = r.header().producerSeq.Load()
	if r.cachedSeq < r.localSeq {
		return 0
	}
	return r.cachedSeq - r.localSeq
}

// TryReceive copies the next unconsumed slot's bytes into dst and advances
// the consumer cursor. It reports false if nothing new has been published.
func (r *Ring) TryReceive(dst []byte) (n int, ok bool) {
	producerSeq := r.header().producerSeq.Load()
	if r.localSeq >= producerSeq {
		return 0, false
	}
	n = copy(dst, r.slotBytes(r.localSeq))
	r.localSeq++
	r.header().consumerSeq.Store(r.localSeq)
	return n, true
}

// Receive drains every published-but-unconsumed slot through cb, advancing
// the consumer cursor once at the end rather than on every slot — the
// batched form for high-throughput polling.
func (r *Ring) Receive(cb func([]byte)) int {
	producerSeq := r.header().producerSeq.Load()
	count := 0
	for r.localSeq < producerSeq {
		cb(r.slotBytes(r.localSeq))
		r.localSeq++
		count++
	}
	if count > 0 {
		r.header().consumerSeq.Store(r.localSeq)
	}
	return count
}

// Close unmaps the file and, for the process that created it, removes it
// from disk.
func (r *Ring) Close() error {
	err := r.mm.Unmap()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if r.owner {
		if rerr := os.Remove(r.path); err == nil {
			err = rerr
		}
	}
	return err
}
