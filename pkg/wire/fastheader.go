package wire

import "encoding/binary"

// FastHeaderSize is the encoded size of FastHeader (4-byte tagged length +
// 4-byte sequence).
const FastHeaderSize = 8

// FastHeaderMagic is OR'd into the high bit of FrameLength so a receiver
// can tell a fast-path frame apart from a full Header, whose first four
// bytes are its little-endian SessionID, by that one bit and without a
// separate framing byte. A full Header whose SessionID has the high bit
// set is therefore classified as a fast frame.
const FastHeaderMagic uint32 = 0x80000000

// FastHeader is the minimal unreliable-path frame header: total frame
// length (header+payload) tagged with FastHeaderMagic in its high bit, and
// a 32-bit sequence. There is no checksum or timestamp; FlagNoCRC-style
// frames trade integrity checking for minimum overhead.
type FastHeader struct {
	FrameLength uint32 // FastHeaderMagic | (FastHeaderSize + len(payload))
	Sequence    uint32
}

// NewFastHeader builds a fast header for a payload of payloadLen bytes.
func NewFastHeader(sequence uint32, payloadLen int) FastHeader {
	return FastHeader{
		FrameLength: FastHeaderMagic | uint32(FastHeaderSize+payloadLen),
		Sequence:    sequence,
	}
}

// Len returns the total frame length (header + payload) this header
// describes, with the magic tag bit masked off.
func (h FastHeader) Len() int {
	return int(h.FrameLength &^ FastHeaderMagic)
}

func (h FastHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.FrameLength)
	binary.LittleEndian.PutUint32(dst[4:8], h.Sequence)
}

func DecodeFastHeader(b []byte) (h FastHeader, ok bool) {
	if len(b) < FastHeaderSize {
		return FastHeader{}, false
	}
	h.FrameLength = binary.LittleEndian.Uint32(b[0:4])
	h.Sequence = binary.LittleEndian.Uint32(b[4:8])
	return h, true
}

// IsFastFrame reports whether the first 4 bytes of b carry the fast-header
// magic tag, letting a receiver classify a datagram before fully decoding
// either header shape.
func IsFastFrame(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	v := binary.LittleEndian.Uint32(b[0:4])
	return v&FastHeaderMagic != 0
}

// ParseFastFrame splits packet into its FastHeader and payload, reporting
// ok=false if packet is too short for the declared frame length.
func ParseFastFrame(packet []byte) (h FastHeader, payload []byte, ok bool) {
	h, ok = DecodeFastHeader(packet)
	if !ok {
		return FastHeader{}, nil, false
	}
	total := h.Len()
	if total < FastHeaderSize || total > len(packet) {
		return FastHeader{}, nil, false
	}
	return h, packet[FastHeaderSize:total], true
}
