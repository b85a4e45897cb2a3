// Package recvwindow reassembles out-of-order UDP payloads into an
// in-order stream: a fixed ring of slots keyed by sequence-modulo-window
// for the near future, a sorted overflow buffer for packets that arrive
// further ahead than the ring can hold, and a received-sequence bitmap for
// O(1) duplicate detection across both tiers.
package recvwindow

import "sort"

// maxPacketSize bounds a single slot's payload at the largest value the
// wire's uint16 payload_len can express, so a slot never has to truncate a
// frame the sender was allowed to send.
const maxPacketSize = 1<<16 - 1

type slot struct {
	seq   uint64
	valid bool
	data  []byte
}

// Ring reassembles packets delivered in the window [nextExpected,
// nextExpected+size) into order. It is not safe for concurrent use; callers
// serialize access the same way the transport serializes its receive path.
type Ring struct {
	slots         []slot
	nextExpected  uint64
	size          uint64
}

// NewRing creates a window of the given size (must be > 0) starting at
// startSeq.
func NewRing(size int, startSeq uint64) *Ring {
	slots := make([]slot, size)
	return &Ring{
		slots:        slots,
		nextExpected: startSeq,
		size:         uint64(size),
	}
}

// Insert stores data under seq if it falls within the window and the slot
// isn't already occupied. It reports whether the insert took effect;
// duplicates and occupied-but-undelivered slots return false.
func (r *Ring) Insert(seq uint64, data []byte) bool {
	if seq < r.nextExpected || seq >= r.nextExpected+r.size {
		return false
	}
	idx := seq % r.size
	s := &r.slots[idx]
	if s.valid {
		return false
	}
	if len(data) > maxPacketSize {
		data = data[:maxPacketSize]
	}
	s.seq = seq
	s.data = append(s.data[:0], data...)
	s.valid = true
	return true
}

// DeliverInOrder hands every contiguous in-order payload starting at
// nextExpected to f, stopping at the first gap.
func (r *Ring) DeliverInOrder(f func(data []byte)) {
	for {
		idx := r.nextExpected % r.size
		s := &r.slots[idx]
		if s.valid && s.seq == r.nextExpected {
			f(s.data)
			s.valid = false
			r.nextExpected++
		} else {
			break
		}
	}
}

// NextExpected returns the next sequence the window is waiting on.
func (r *Ring) NextExpected() uint64 { return r.nextExpected }

// AdvanceExpected jumps next_expected forward to seq, used for the
// handshake hint that the peer's first Data frame starts at a given
// sequence rather than 0. It only ever moves forward: a seq behind the
// current cursor is ignored.
func (r *Ring) AdvanceExpected(seq uint64) {
	if seq > r.nextExpected {
		r.nextExpected = seq
	}
}

// LastDeliveredSeq returns the highest sequence delivered in-order so far,
// used to populate outgoing ACKs.
func (r *Ring) LastDeliveredSeq() uint64 {
	if r.nextExpected == 0 {
		return 0
	}
	return r.nextExpected - 1
}

// Gaps scans a reasonable lookahead past the highest seen sequence and
// reports missing ranges [start, end] (inclusive) via report, for building
// a batch NAK. The scan covers a 32-slot lookahead past the highest valid
// slot rather than the whole window every call.
func (r *Ring) Gaps(report func(start, end uint64)) {
	const lookahead = 32

	highest := r.nextExpected
	for i := range r.slots {
		s := &r.slots[i]
		if s.valid && s.seq > highest {
			highest = s.seq
		}
	}
	if highest <= r.nextExpected {
		return
	}

	end := highest + lookahead
	if max := r.nextExpected + r.size; end > max {
		end = max
	}

	var missingStart uint64
	inGap := false
	for seq := r.nextExpected; seq < end; seq++ {
		idx := seq % r.size
		s := &r.slots[idx]
		if !s.valid || s.seq != seq {
			if !inGap {
				missingStart = seq
				inGap = true
			}
		} else if inGap {
			report(missingStart, seq-1)
			inGap = false
		}
	}
	if inGap {
		report(missingStart, end-1)
	}
}

// futurePacket is an overflow entry for a sequence that arrived further
// ahead of nextExpected than the ring can directly index.
type futurePacket struct {
	seq  uint64
	data []byte
}

// Window adds a received-sequence bitmap and a bounded overflow buffer in
// front of Ring for packets that arrive well ahead of the current window —
// the same two-tier structure as the transport's BitmapWindow. The bitmap
// covers [bitmapBase, bitmapBase + 64*len(bitmap)) and makes duplicate
// detection O(1) across both the ring and the overflow region.
type Window struct {
	ring             *Ring
	maxFuturePackets int
	future           []futurePacket

	bitmap     []uint64
	bitmapBase uint64
}

// NewWindow creates a bitmap-style window: a ring of the given size plus
// an overflow region sized at 2x the ring for near-future out-of-order
// arrivals.
func NewWindow(size int, startSeq uint64) *Window {
	// Enough words to cover the ring plus the overflow region with slack
	// for a bitmap base trailing nextExpected by up to 63.
	words := (2*size)/64 + 2
	return &Window{
		ring:             NewRing(size, startSeq),
		maxFuturePackets: size * 2,
		bitmap:           make([]uint64, words),
		bitmapBase:       startSeq,
	}
}

func (w *Window) markReceived(seq uint64) {
	if seq < w.bitmapBase {
		return
	}
	off := seq - w.bitmapBase
	if off >= uint64(len(w.bitmap))*64 {
		return
	}
	w.bitmap[off/64] |= 1 << (off % 64)
}

func (w *Window) isReceived(seq uint64) bool {
	if seq < w.bitmapBase {
		return false
	}
	off := seq - w.bitmapBase
	if off >= uint64(len(w.bitmap))*64 {
		return false
	}
	return w.bitmap[off/64]&(1<<(off%64)) != 0
}

// advanceBitmap slides the bitmap base forward one word at a time while
// nextExpected has moved at least 64 past it, discarding the fully
// delivered low word each step.
func (w *Window) advanceBitmap() {
	for w.ring.nextExpected-w.bitmapBase >= 64 {
		copy(w.bitmap, w.bitmap[1:])
		w.bitmap[len(w.bitmap)-1] = 0
		w.bitmapBase += 64
	}
}

// Insert routes seq into the ring if it's within the current window, into
// the sorted overflow buffer if it's further ahead but still within
// maxFuturePackets, or drops it if it's further out than that. Duplicates
// anywhere in the covered range are detected via the bitmap and dropped.
func (w *Window) Insert(seq uint64, data []byte) {
	next := w.ring.nextExpected
	size := w.ring.size

	if w.isReceived(seq) {
		return
	}
	switch {
	case seq >= next && seq < next+size:
		if w.ring.Insert(seq, data) {
			w.markReceived(seq)
		}
	case seq >= next && seq < next+uint64(w.maxFuturePackets):
		cp := append([]byte(nil), data...)
		w.future = append(w.future, futurePacket{seq: seq, data: cp})
		sort.Slice(w.future, func(i, j int) bool { return w.future[i].seq < w.future[j].seq })
		w.markReceived(seq)
	}
}

// DeliverInOrder drains the ring, then folds in any overflow packets that
// have become the new next-expected sequence, repeating until nothing more
// can advance. The bitmap base is slid forward afterwards once delivery has
// moved nextExpected a full word past it.
func (w *Window) DeliverInOrder(f func(data []byte)) {
	w.ring.DeliverInOrder(f)

	for i := 0; i < len(w.future); {
		fp := w.future[i]
		switch {
		case fp.seq == w.ring.nextExpected:
			w.ring.Insert(fp.seq, fp.data)
			w.future = append(w.future[:i], w.future[i+1:]...)
			w.ring.DeliverInOrder(f)
		case fp.seq < w.ring.nextExpected:
			w.future = append(w.future[:i], w.future[i+1:]...)
		default:
			i++
		}
	}

	w.advanceBitmap()
}

// Gaps delegates to the underlying ring.
func (w *Window) Gaps(report func(start, end uint64)) {
	w.ring.Gaps(report)
}

// LastDeliveredSeq delegates to the underlying ring.
func (w *Window) LastDeliveredSeq() uint64 { return w.ring.LastDeliveredSeq() }

// AdvanceExpected delegates to the underlying ring, keeping the bitmap
// base within a word of the new cursor.
func (w *Window) AdvanceExpected(seq uint64) {
	w.ring.AdvanceExpected(seq)
	w.advanceBitmap()
}
