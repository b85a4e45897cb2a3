package wire

import "encoding/binary"

// NakRangeSize is the encoded size of one NAK range record: two
// little-endian u64s, start and end sequence (inclusive).
const NakRangeSize = 16

// NakRange is one missing-sequence range carried in a NAK payload.
type NakRange struct {
	Start uint64
	End   uint64
}

// Count returns the number of sequences this range covers.
func (r NakRange) Count() uint64 { return r.End - r.Start + 1 }

// EncodeNakPayload packs ranges into a payload suitable for a MsgNak
// frame, 16 bytes per range.
func EncodeNakPayload(ranges []NakRange) []byte {
	out := make([]byte, len(ranges)*NakRangeSize)
	for i, r := range ranges {
		off := i * NakRangeSize
		binary.LittleEndian.PutUint64(out[off:off+8], r.Start)
		binary.LittleEndian.PutUint64(out[off+8:off+16], r.End)
	}
	return out
}

// DecodeNakPayload parses a NAK payload into its ranges. It reports
// ok=false if the payload length isn't a positive multiple of
// NakRangeSize; a zero-length payload is the single-NAK form and carries
// its sequence in the header instead.
func DecodeNakPayload(payload []byte) (ranges []NakRange, ok bool) {
	if len(payload) == 0 || len(payload)%NakRangeSize != 0 {
		return nil, false
	}
	count := len(payload) / NakRangeSize
	ranges = make([]NakRange, count)
	for i := 0; i < count; i++ {
		off := i * NakRangeSize
		ranges[i] = NakRange{
			Start: binary.LittleEndian.Uint64(payload[off : off+8]),
			End:   binary.LittleEndian.Uint64(payload[off+8 : off+16]),
		}
	}
	return ranges, true
}
