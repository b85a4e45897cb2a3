package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	h := NewHeader(7, 12345, MsgData, 10)
	payload := []byte("0123456789")
	h.Seal(payload)

	var buf [HeaderSize]byte
	h.Encode(buf[:])

	got, ok := DecodeHeader(buf[:])
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.True(t, got.VerifyChecksum(payload))
}

func TestHeader_VerifyChecksumFailsOnTamperedPayload(t *testing.T) {
	h := NewHeader(1, 1, MsgData, 5)
	payload := []byte("hello")
	h.Seal(payload)

	tampered := []byte("jello")
	assert.False(t, h.VerifyChecksum(tampered))
}

func TestParseFrame_RejectsShortPacket(t *testing.T) {
	_, _, ok := ParseFrame(make([]byte, HeaderSize-1))
	assert.False(t, ok)
}

func TestParseFrame_RejectsPayloadLenOverflow(t *testing.T) {
	h := NewHeader(1, 1, MsgData, 100)
	var buf [HeaderSize]byte
	h.Encode(buf[:])
	packet := append(buf[:], []byte("short")...)

	_, _, ok := ParseFrame(packet)
	assert.False(t, ok)
}

func TestFastHeader_EncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("ping")
	fh := NewFastHeader(42, len(payload))

	buf := make([]byte, FastHeaderSize+len(payload))
	fh.Encode(buf)
	copy(buf[FastHeaderSize:], payload)

	assert.True(t, IsFastFrame(buf))

	got, gotPayload, ok := ParseFastFrame(buf)
	require.True(t, ok)
	assert.Equal(t, fh, got)
	assert.Equal(t, payload, gotPayload)
}

func TestIsFastFrame_FalseForFullHeaderFrame(t *testing.T) {
	h := NewHeader(1, 1, MsgData, 0)
	var buf [HeaderSize]byte
	h.Encode(buf[:])
	assert.False(t, IsFastFrame(buf[:]))
}

func TestNakPayload_EncodeDecodeRoundTrip(t *testing.T) {
	ranges := []NakRange{{Start: 10, End: 12}, {Start: 50, End: 50}}
	payload := EncodeNakPayload(ranges)

	got, ok := DecodeNakPayload(payload)
	require.True(t, ok)
	assert.Equal(t, ranges, got)
	assert.Equal(t, uint64(3), ranges[0].Count())
}

func TestDecodeNakPayload_RejectsNonMultipleLength(t *testing.T) {
	_, ok := DecodeNakPayload(make([]byte, 20))
	assert.False(t, ok)
}

func buildFrame(seq uint64, payload []byte) []byte {
	h := NewHeader(1, seq, MsgData, uint16(len(payload)))
	h.Seal(payload)
	buf := make([]byte, HeaderSize+len(payload))
	h.Encode(buf)
	copy(buf[HeaderSize:], payload)
	return buf
}

func TestLengthDelimitedBatch_RoundTrip(t *testing.T) {
	frames := [][]byte{
		buildFrame(1, []byte("one")),
		buildFrame(2, []byte("two")),
		buildFrame(3, []byte("three")),
	}
	batch := EncodeLengthDelimitedBatch(frames)

	assert.False(t, IsFastFrame(batch))
	require.True(t, LooksLengthDelimited(batch))

	var got []uint64
	var payloads [][]byte
	ok := ParseLengthDelimitedBatch(batch, func(h Header, payload []byte) {
		got = append(got, h.Sequence)
		payloads = append(payloads, append([]byte(nil), payload...))
	})
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2, 3}, got)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, payloads)
}

func TestLengthDelimitedBatch_RejectsTruncatedRecord(t *testing.T) {
	frames := [][]byte{buildFrame(1, []byte("one"))}
	batch := EncodeLengthDelimitedBatch(frames)
	truncated := batch[:len(batch)-1]

	ok := ParseLengthDelimitedBatch(truncated, func(Header, []byte) {})
	assert.False(t, ok)
}

func TestLooksLengthDelimited_FalseForFastFrame(t *testing.T) {
	fh := NewFastHeader(7, 4)
	buf := make([]byte, FastHeaderSize+4)
	fh.Encode(buf)
	assert.False(t, LooksLengthDelimited(buf))
}

func TestLooksLengthDelimited_FalseForBareSingleFrame(t *testing.T) {
	// A single full-header frame's first 4 bytes are its SessionID, not a
	// frame-length prefix; a small SessionID must not be misread as a
	// plausible batch length when it is shorter than HeaderSize.
	frame := buildFrame(1, []byte("x"))
	assert.False(t, LooksLengthDelimited(frame))
}

func TestMessageType_WireNumbersAreStable(t *testing.T) {
	assert.Equal(t, MessageType(0), MsgData)
	assert.Equal(t, MessageType(1), MsgHeartbeat)
	assert.Equal(t, MessageType(2), MsgNak)
	assert.Equal(t, MessageType(3), MsgSessionStart)
	assert.Equal(t, MessageType(4), MsgSessionEnd)
	assert.Equal(t, MessageType(5), MsgAck)
	assert.Equal(t, MessageType(6), MsgHandshake)
	assert.Equal(t, MessageType(7), MsgDisconnect)
	assert.Equal(t, MessageType(8), MsgPing)
	assert.Equal(t, MessageType(9), MsgPong)
}
