// Package wire implements the RUDP datagram codec: the 24-byte full header
// used for reliable, checksummed delivery, the 8-byte fast header used for
// the low-latency unreliable path, and the NAK range payload. All integers
// are little-endian; layout and checksum placement are fixed by the wire
// format, so a capture from either side decodes identically regardless of
// which implementation wrote it.
package wire

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// MessageType tags a full-header frame's purpose.
type MessageType uint8

const (
	MsgData MessageType = iota
	MsgHeartbeat
	MsgNak
	MsgSessionStart
	MsgSessionEnd
	MsgAck
	// MsgHandshake is a client's first control packet, seq=0, telling the
	// peer its first Data frame will carry seq=1 so the receive window can
	// advance past the implicit gap at seq 0.
	MsgHandshake
	// MsgDisconnect is sent best-effort when a session or client tears
	// down; receipt has no required effect beyond not being treated as
	// Data (a stray Disconnect after close is simply dropped).
	MsgDisconnect
	MsgPing
	MsgPong
)

// FlagNoCRC, set in a full Header's Flags, makes the receiver skip checksum
// verification of a frame read from the data socket; control-socket frames
// are always verified, and fast-header frames carry no checksum at all.
const FlagNoCRC uint8 = 0x01

// HeaderSize is the encoded size of Header: 4 (session) + 8 (sequence) +
// 1 (msg_type) + 1 (flags) + 2 (payload_len) + 4 (timestamp) + 4 (checksum).
const HeaderSize = 24

// Header is the full reliable-path frame header.
type Header struct {
	SessionID  uint32
	Sequence   uint64
	MsgType    MessageType
	Flags      uint8
	PayloadLen uint16
	Timestamp  uint32 // milliseconds since epoch, truncated to 32 bits
	Checksum   uint32
}

// NewHeader builds a header stamped with the current time; Checksum is left
// zero until Seal computes it.
func NewHeader(sessionID uint32, sequence uint64, msgType MessageType, payloadLen uint16) Header {
	return Header{
		SessionID:  sessionID,
		Sequence:   sequence,
		MsgType:    msgType,
		PayloadLen: payloadLen,
		Timestamp:  uint32(time.Now().UnixMilli()),
	}
}

// Encode writes the header in its wire layout into dst, which must be at
// least HeaderSize bytes.
func (h Header) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.SessionID)
	binary.LittleEndian.PutUint64(dst[4:12], h.Sequence)
	dst[12] = byte(h.MsgType)
	dst[13] = h.Flags
	binary.LittleEndian.PutUint16(dst[14:16], h.PayloadLen)
	binary.LittleEndian.PutUint32(dst[16:20], h.Timestamp)
	binary.LittleEndian.PutUint32(dst[20:24], h.Checksum)
}

// DecodeHeader parses a Header from the front of b. It reports ok=false if
// b is shorter than HeaderSize.
func DecodeHeader(b []byte) (h Header, ok bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	h.SessionID = binary.LittleEndian.Uint32(b[0:4])
	h.Sequence = binary.LittleEndian.Uint64(b[4:12])
	h.MsgType = MessageType(b[12])
	h.Flags = b[13]
	h.PayloadLen = binary.LittleEndian.Uint16(b[14:16])
	h.Timestamp = binary.LittleEndian.Uint32(b[16:20])
	h.Checksum = binary.LittleEndian.Uint32(b[20:24])
	return h, true
}

// Seal computes and stores the CRC32 checksum over the header (with its
// checksum field held at zero) followed by payload.
func (h *Header) Seal(payload []byte) {
	h.Checksum = 0
	var buf [HeaderSize]byte
	h.Encode(buf[:])
	crc := crc32.ChecksumIEEE(buf[:])
	crc = crc32.Update(crc, crc32.IEEETable, payload)
	h.Checksum = crc
}

// VerifyChecksum reports whether h.Checksum matches the CRC32 of h (with
// checksum zeroed) concatenated with payload.
func (h Header) VerifyChecksum(payload []byte) bool {
	want := h.Checksum
	tmp := h
	tmp.Seal(payload)
	return tmp.Checksum == want
}

// ParseFrame splits packet into its header and the payload slice declared
// by PayloadLen, reporting ok=false if packet is too short for either.
func ParseFrame(packet []byte) (h Header, payload []byte, ok bool) {
	h, ok = DecodeHeader(packet)
	if !ok {
		return Header{}, nil, false
	}
	rest := packet[HeaderSize:]
	if len(rest) < int(h.PayloadLen) {
		return Header{}, nil, false
	}
	return h, rest[:h.PayloadLen], true
}

// maxPlausibleFrameLen bounds the length-delimited batch framing's leading
// u32: a plausible record length is at least one full header and under
// 2000 bytes, the heuristic used to tell a batch of full-header frames
// apart from a single bare frame whose first four bytes happen to be a
// small SessionID.
const maxPlausibleFrameLen = 2000

// LooksLengthDelimited reports whether the first 4 bytes of b plausibly
// open a length-delimited batch of full-header frames: a u32 frame length
// in [HeaderSize, maxPlausibleFrameLen) that actually fits within b. A fast
// frame's first four bytes carry the magic high bit, so they always exceed
// that bound and a fast frame is never reported as a batch; callers still
// test IsFastFrame first.
func LooksLengthDelimited(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	n := binary.LittleEndian.Uint32(b[0:4])
	return n >= HeaderSize && n < maxPlausibleFrameLen && int(n)+4 <= len(b)
}

// ParseLengthDelimitedBatch walks a datagram body shaped as a sequence of
// {length: u32 LE; bytes: [length]} records, each a complete full-header
// frame, invoking f with every decoded header and payload in order. It
// stops and reports ok=false the moment a record's declared length doesn't
// fit the remaining bytes or fails to decode as a full header, matching the
// "malformed headers silently drop" policy in §4.3 (records before the bad
// one have already been passed to f; the bad record and everything after
// it are dropped rather than resynced).
func ParseLengthDelimitedBatch(b []byte, f func(h Header, payload []byte)) (ok bool) {
	for len(b) > 0 {
		if len(b) < 4 {
			return false
		}
		n := binary.LittleEndian.Uint32(b[0:4])
		if int(n) < HeaderSize || 4+int(n) > len(b) {
			return false
		}
		frame := b[4 : 4+int(n)]
		h, payload, ok := ParseFrame(frame)
		if !ok {
			return false
		}
		f(h, payload)
		b = b[4+int(n):]
	}
	return true
}

// EncodeLengthDelimitedBatch packs pre-built full-header frames (each
// already HeaderSize+payload bytes) into the length-delimited batch wire
// format, one {length, bytes} record per frame.
func EncodeLengthDelimitedBatch(frames [][]byte) []byte {
	total := 0
	for _, f := range frames {
		total += 4 + len(f)
	}
	out := make([]byte, 0, total)
	var lenBuf [4]byte
	for _, f := range frames {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(f)))
		out = append(out, lenBuf[:]...)
		out = append(out, f...)
	}
	return out
}
