// Package rtpdepacket reassembles RTP payloads into Access Units for
// H.264, H.265, and AV1, caching parameter sets and re-injecting them ahead
// of every keyframe.
package rtpdepacket

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Codec selects which depacketization algorithm a Depacketizer runs. The
// active mode is selected by the peer session from the negotiated payload
// type.
type Codec int

const (
	CodecH264 Codec = iota
	CodecH265
	CodecAV1
)

// AccessUnit is one decodable picture's worth of coded bytes in the
// container the decoder expects: start-code-prefixed NAL sequence for
// H.264/H.265, size-prefixed OBU sequence for AV1.
type AccessUnit struct {
	Data           []byte
	RTPTimestamp   uint32
	ReceiveInstant time.Time
	IsKeyframe     bool
}

// Depacketizer reassembles RTP payloads for one codec and stream.
type Depacketizer interface {
	// Push feeds one RTP packet's payload. It returns a completed
	// AccessUnit only when marker is set.
	Push(payload []byte, marker bool, rtpTimestamp uint32, receiveInstant time.Time) (*AccessUnit, error)
	// Reset clears in-flight fragment state after a downstream decode
	// failure, but preserves the parameter-set cache.
	Reset()
}

// New constructs the Depacketizer for codec.
func New(codec Codec) Depacketizer {
	switch codec {
	case CodecH265:
		return NewH265Depacketizer()
	case CodecAV1:
		return NewAV1Depacketizer()
	default:
		return NewH264Depacketizer()
	}
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// --- H.264 (RFC 6184) ---

type H264Depacketizer struct {
	sps, pps []byte
	fuBuf    bytes.Buffer
	au       bytes.Buffer
	sawIDR   bool
}

func NewH264Depacketizer() *H264Depacketizer { return &H264Depacketizer{} }

func (d *H264Depacketizer) Push(payload []byte, marker bool, ts uint32, recv time.Time) (*AccessUnit, error) {
	if len(payload) > 0 {
		nalType := payload[0] & 0x1F
		switch {
		case nalType >= 1 && nalType <= 23:
			d.emitSingle(payload)
		case nalType == 24: // STAP-A
			d.emitSTAPA(payload[1:])
		case nalType == 28: // FU-A
			d.handleFUA(payload)
		}
	}
	if marker {
		return d.flush(ts, recv), nil
	}
	return nil, nil
}

func (d *H264Depacketizer) emitSingle(nal []byte) {
	t := nal[0] & 0x1F
	switch t {
	case 7:
		d.sps = append([]byte(nil), nal...)
	case 8:
		d.pps = append([]byte(nil), nal...)
	case 5:
		d.sawIDR = true
	}
	d.writeStartCoded(nal)
}

func (d *H264Depacketizer) emitSTAPA(data []byte) {
	offset := 0
	for offset+2 <= len(data) {
		size := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+size > len(data) {
			break
		}
		nal := data[offset : offset+size]
		offset += size
		d.emitSingle(nal)
	}
}

func (d *H264Depacketizer) handleFUA(payload []byte) {
	if len(payload) < 2 {
		return
	}
	indicator := payload[0]
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	innerType := fuHeader & 0x1F

	if start {
		d.fuBuf.Reset()
		d.fuBuf.WriteByte((indicator & 0xE0) | innerType)
	}
	if len(payload) > 2 {
		d.fuBuf.Write(payload[2:])
	}
	if end {
		nal := append([]byte(nil), d.fuBuf.Bytes()...)
		d.fuBuf.Reset()
		if innerType == 5 {
			d.sawIDR = true
			if d.sps != nil {
				d.writeStartCoded(d.sps)
			}
			if d.pps != nil {
				d.writeStartCoded(d.pps)
			}
		}
		d.writeStartCoded(nal)
	}
}

func (d *H264Depacketizer) writeStartCoded(nal []byte) {
	d.au.Write(startCode)
	d.au.Write(nal)
}

func (d *H264Depacketizer) flush(ts uint32, recv time.Time) *AccessUnit {
	if d.au.Len() == 0 {
		return nil
	}
	data := append([]byte(nil), d.au.Bytes()...)
	au := &AccessUnit{Data: data, RTPTimestamp: ts, ReceiveInstant: recv, IsKeyframe: d.sawIDR}
	d.au.Reset()
	d.sawIDR = false
	return au
}

func (d *H264Depacketizer) Reset() {
	d.fuBuf.Reset()
	d.au.Reset()
	d.sawIDR = false
}

// --- H.265 / HEVC (RFC 7798) ---

type H265Depacketizer struct {
	vps, sps, pps []byte
	fuBuf         bytes.Buffer
	au            bytes.Buffer
	sawIDR        bool
}

func NewH265Depacketizer() *H265Depacketizer { return &H265Depacketizer{} }

func (d *H265Depacketizer) Push(payload []byte, marker bool, ts uint32, recv time.Time) (*AccessUnit, error) {
	if len(payload) >= 2 {
		nalType := (payload[0] >> 1) & 0x3F
		switch nalType {
		case 48: // AP
			d.emitAP(payload)
		case 49: // FU
			d.handleFU(payload)
		default:
			d.emitSingle(payload)
		}
	}
	if marker {
		return d.flush(ts, recv), nil
	}
	return nil, nil
}

func (d *H265Depacketizer) emitSingle(nal []byte) {
	t := (nal[0] >> 1) & 0x3F
	switch t {
	case 32:
		d.vps = append([]byte(nil), nal...)
	case 33:
		d.sps = append([]byte(nil), nal...)
	case 34:
		d.pps = append([]byte(nil), nal...)
	case 19, 20:
		d.sawIDR = true
	}
	d.writeStartCoded(nal)
}

func (d *H265Depacketizer) emitAP(payload []byte) {
	offset := 2 // skip the 2-byte AP NAL header
	for offset+2 <= len(payload) {
		size := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
		offset += 2
		if offset+size > len(payload) || size < 2 {
			break
		}
		d.emitSingle(payload[offset : offset+size])
		offset += size
	}
}

func (d *H265Depacketizer) handleFU(payload []byte) {
	if len(payload) < 3 {
		return
	}
	fuHeader := payload[2]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	innerType := fuHeader & 0x3F

	if start {
		d.fuBuf.Reset()
		// Reinstate layer_id (low bit of byte 0) and temporal_id (byte 1)
		// from the FU's own NAL header.
		b0 := (payload[0] & 0x81) | (innerType << 1)
		d.fuBuf.WriteByte(b0)
		d.fuBuf.WriteByte(payload[1])
	}
	if len(payload) > 3 {
		d.fuBuf.Write(payload[3:])
	}
	if end {
		nal := append([]byte(nil), d.fuBuf.Bytes()...)
		d.fuBuf.Reset()
		if innerType == 19 || innerType == 20 {
			d.sawIDR = true
			if d.vps != nil {
				d.writeStartCoded(d.vps)
			}
			if d.sps != nil {
				d.writeStartCoded(d.sps)
			}
			if d.pps != nil {
				d.writeStartCoded(d.pps)
			}
		}
		d.writeStartCoded(nal)
	}
}

func (d *H265Depacketizer) writeStartCoded(nal []byte) {
	d.au.Write(startCode)
	d.au.Write(nal)
}

func (d *H265Depacketizer) flush(ts uint32, recv time.Time) *AccessUnit {
	if d.au.Len() == 0 {
		return nil
	}
	data := append([]byte(nil), d.au.Bytes()...)
	au := &AccessUnit{Data: data, RTPTimestamp: ts, ReceiveInstant: recv, IsKeyframe: d.sawIDR}
	d.au.Reset()
	d.sawIDR = false
	return au
}

func (d *H265Depacketizer) Reset() {
	d.fuBuf.Reset()
	d.au.Reset()
	d.sawIDR = false
}
