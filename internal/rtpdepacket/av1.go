package rtpdepacket

import "time"

// AV1Depacketizer follows the spirit of RFC 9000's RTP payload for AV1, with
// the vendor deviation described in §4.4: once depacketization is mid-OBU
// for a TILE_GROUP or FRAME, the Y flag is not reliably set on continuation
// packets, so every subsequent packet body is treated as raw continuation
// bytes until the RTP marker arrives.
type AV1Depacketizer struct {
	buffer         []byte // in-progress OBU fragment, header stripped
	midLargeOBU    bool
	frameBuf       []byte // completed size-prefixed OBUs for the current frame
	seqHeaderCache []byte // last SEQUENCE_HEADER OBU, full size-prefixed form
}

func NewAV1Depacketizer() *AV1Depacketizer { return &AV1Depacketizer{} }

// Aggregation header bit layout (MSB first): Z(1) Y(1) W(2) N(1) reserved(3).
const (
	av1FlagZ uint8 = 0x80
	av1FlagY uint8 = 0x40
	av1FlagN uint8 = 0x08
)

func (d *AV1Depacketizer) Push(payload []byte, marker bool, ts uint32, recv time.Time) (*AccessUnit, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	header := payload[0]
	zFlag := header&av1FlagZ != 0
	yFlag := header&av1FlagY != 0
	nFlag := header&av1FlagN != 0
	wField := (header >> 4) & 0x3

	if nFlag {
		d.buffer = d.buffer[:0]
		d.frameBuf = d.frameBuf[:0]
		d.midLargeOBU = false
		d.seqHeaderCache = nil
	}

	switch {
	case d.midLargeOBU:
		// Vendor workaround: ignore aggregation-header semantics entirely
		// while mid a fragmented large OBU; the remainder is raw bytes.
		d.buffer = append(d.buffer, payload[1:]...)
	case zFlag:
		d.buffer = append(d.buffer, payload[1:]...)
	default:
		d.parseOBUElements(payload[1:], wField, yFlag)
	}

	if marker {
		if len(d.buffer) > 0 {
			if obu := reconstructOBUWithSize(d.buffer); obu != nil {
				d.frameBuf = append(d.frameBuf, obu...)
			}
			d.buffer = d.buffer[:0]
		}
		d.midLargeOBU = false
		au := d.finishFrame(ts, recv)
		d.frameBuf = d.frameBuf[:0]
		return au, nil
	}
	return nil, nil
}

func (d *AV1Depacketizer) parseOBUElements(payload []byte, wField uint8, yFlag bool) {
	obuCount := int(wField)
	if obuCount == 0 {
		obuCount = 1
	}
	offset := 0
	for i := 0; i < obuCount; i++ {
		var size int
		if wField > 0 && i < obuCount-1 {
			n, read := readLEB128(payload[offset:])
			size = n
			offset += read
		} else {
			size = len(payload) - offset
		}
		if size < 0 || offset+size > len(payload) {
			break
		}
		obuData := payload[offset : offset+size]
		offset += size
		if len(obuData) == 0 {
			continue
		}
		obuType := (obuData[0] >> 3) & 0x0F
		isLast := i == obuCount-1
		isLargeOBU := obuType == 4 || obuType == 6 // TILE_GROUP or FRAME

		if isLast && (!yFlag || isLargeOBU) {
			d.buffer = append(d.buffer[:0], obuData...)
			if isLargeOBU {
				d.midLargeOBU = true
			}
		} else {
			if obu := reconstructOBUWithSize(obuData); obu != nil {
				d.frameBuf = append(d.frameBuf, obu...)
			}
		}
	}
}

func (d *AV1Depacketizer) finishFrame(ts uint32, recv time.Time) *AccessUnit {
	if len(d.frameBuf) == 0 {
		return nil
	}
	hasPicture := false
	hasSeqHeader := false
	walkOBUs(d.frameBuf, func(obuType byte, full []byte) {
		if obuType == 4 || obuType == 6 {
			hasPicture = true
		}
		if obuType == 1 {
			hasSeqHeader = true
			d.seqHeaderCache = append([]byte(nil), full...)
		}
	})
	// Header-only frames (no TILE_GROUP/FRAME) would crash some hardware
	// decoders; drop silently per spec.
	if !hasPicture {
		return nil
	}
	data := d.frameBuf
	if !hasSeqHeader && len(d.seqHeaderCache) > 0 {
		merged := make([]byte, 0, len(d.seqHeaderCache)+len(data))
		merged = append(merged, d.seqHeaderCache...)
		merged = append(merged, data...)
		data = merged
	}
	return &AccessUnit{Data: append([]byte(nil), data...), RTPTimestamp: ts, ReceiveInstant: recv}
}

// Reset clears fragment state after a downstream decode failure but keeps
// the cached SEQUENCE_HEADER.
func (d *AV1Depacketizer) Reset() {
	d.buffer = d.buffer[:0]
	d.frameBuf = d.frameBuf[:0]
	d.midLargeOBU = false
}

// reconstructOBUWithSize re-adds the obu_size field the RTP layout strips,
// setting the has-size-field bit and writing a LEB128 payload length ahead
// of the OBU's payload bytes.
func reconstructOBUWithSize(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	header := data[0]
	hasExt := header&0x04 != 0
	hdrLen := 1
	if hasExt {
		hdrLen = 2
	}
	if len(data) < hdrLen {
		return nil
	}
	payload := data[hdrLen:]
	newHeader := header | 0x02 // obu_has_size_field

	out := make([]byte, 0, hdrLen+5+len(payload))
	out = append(out, newHeader)
	if hasExt {
		out = append(out, data[1])
	}
	out = append(out, encodeLEB128(len(payload))...)
	out = append(out, payload...)
	return out
}

// walkOBUs iterates the size-prefixed OBU stream in data, invoking fn with
// each OBU's type and full (header+size+payload) bytes.
func walkOBUs(data []byte, fn func(obuType byte, full []byte)) {
	offset := 0
	for offset < len(data) {
		header := data[offset]
		obuType := (header >> 3) & 0x0F
		hasExt := header&0x04 != 0
		hasSize := header&0x02 != 0
		hdrLen := 1
		if hasExt {
			hdrLen = 2
		}
		if offset+hdrLen > len(data) {
			return
		}
		pos := offset + hdrLen
		var payloadLen int
		if hasSize {
			n, read := readLEB128(data[pos:])
			payloadLen = n
			pos += read
		} else {
			payloadLen = len(data) - pos
		}
		end := pos + payloadLen
		if end > len(data) || end <= offset {
			return
		}
		fn(obuType, data[offset:end])
		offset = end
	}
}

func readLEB128(data []byte) (value int, bytesRead int) {
	shift := 0
	for i := 0; i < len(data) && i < 8; i++ {
		b := data[i]
		value |= int(b&0x7F) << shift
		bytesRead++
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return value, bytesRead
}

func encodeLEB128(value int) []byte {
	var out []byte
	v := uint(value)
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}
