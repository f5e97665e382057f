// Package inputwire encodes InputEvent values into the fixed-layout binary
// datagrams the host's input protocol expects, and decodes the handshake
// that establishes the protocol version for a session.
package inputwire

import (
	"encoding/binary"
)

// EventType is the 4-byte little-endian leading word of every datagram.
type EventType uint32

const (
	EventHeartbeat       EventType = 2
	EventKeyDown         EventType = 3
	EventKeyUp           EventType = 4
	EventMouseAbs        EventType = 5
	EventMouseRel        EventType = 7
	EventMouseButtonDown EventType = 8
	EventMouseButtonUp   EventType = 9
	EventMouseWheel      EventType = 10
	EventGamepad         EventType = 12
)

// Canonical XInput-style button bitmap masks (§4.8).
const (
	ButtonDPadUp     uint16 = 0x0001
	ButtonDPadDown   uint16 = 0x0002
	ButtonDPadLeft   uint16 = 0x0004
	ButtonDPadRight  uint16 = 0x0008
	ButtonStart      uint16 = 0x0010
	ButtonBack       uint16 = 0x0020
	ButtonLeftStick  uint16 = 0x0040
	ButtonRightStick uint16 = 0x0080
	ButtonLeftBumper uint16 = 0x0100
	ButtonRightBumper uint16 = 0x0200
	ButtonHome       uint16 = 0x0400
	ButtonA          uint16 = 0x1000
	ButtonB          uint16 = 0x2000
	ButtonX          uint16 = 0x4000
	ButtonY          uint16 = 0x8000
)

// singleEventEnvelope is prepended to every datagram once the negotiated
// protocol version is > 2.
const singleEventEnvelope byte = 0x22

// Event is the tagged union of everything the input plane can emit. Exactly
// one of the typed fields is meaningful, selected by Type.
type Event struct {
	Type EventType

	// KeyDown / KeyUp
	Keycode   uint16
	Modifiers uint16
	Scancode  uint16

	// MouseMove (rel)
	DX int16
	DY int16

	// MouseButtonDown / MouseButtonUp
	Button uint8

	// MouseWheel
	WheelDelta int16

	// Gamepad
	ControllerIndex uint16
	ButtonFlags     uint16
	LeftTrigger     uint8
	RightTrigger    uint8
	LeftStickX      int16
	LeftStickY      int16
	RightStickX     int16
	RightStickY     int16
	GamepadFlags    uint16

	// TimestampUs is captured at the moment of physical occurrence, not at
	// encode time.
	TimestampUs uint64
}

// Encoder turns Events into wire datagrams for a negotiated protocol
// version.
type Encoder struct {
	ProtocolVersion uint8
}

// NewEncoder constructs an Encoder for the version announced during the
// input handshake (§4.3.6).
func NewEncoder(protocolVersion uint8) *Encoder {
	return &Encoder{ProtocolVersion: protocolVersion}
}

// Encode produces one self-contained datagram for ev. Each encoded event is
// exactly one datagram; v3+ prepends the single-event envelope marker.
func (e *Encoder) Encode(ev Event) []byte {
	var body []byte
	switch ev.Type {
	case EventKeyDown, EventKeyUp:
		body = encodeKey(ev)
	case EventMouseRel:
		body = encodeMouseMove(ev)
	case EventMouseButtonDown, EventMouseButtonUp:
		body = encodeMouseButton(ev)
	case EventMouseWheel:
		body = encodeMouseWheel(ev)
	case EventHeartbeat:
		body = encodeHeartbeat()
	case EventGamepad:
		body = encodeGamepad(ev)
	default:
		body = encodeHeartbeat()
	}

	if e.ProtocolVersion > 2 {
		out := make([]byte, 0, len(body)+1)
		out = append(out, singleEventEnvelope)
		out = append(out, body...)
		return out
	}
	return body
}

func encodeKey(ev Event) []byte {
	buf := make([]byte, 18)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ev.Type))
	binary.BigEndian.PutUint16(buf[4:6], ev.Keycode)
	binary.BigEndian.PutUint16(buf[6:8], ev.Modifiers)
	binary.BigEndian.PutUint16(buf[8:10], ev.Scancode)
	binary.BigEndian.PutUint64(buf[10:18], ev.TimestampUs)
	return buf
}

func encodeMouseMove(ev Event) []byte {
	buf := make([]byte, 22)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(EventMouseRel))
	binary.BigEndian.PutUint16(buf[4:6], uint16(ev.DX))
	binary.BigEndian.PutUint16(buf[6:8], uint16(ev.DY))
	// buf[8:14] reserved, left zero.
	binary.BigEndian.PutUint64(buf[14:22], ev.TimestampUs)
	return buf
}

func encodeMouseButton(ev Event) []byte {
	buf := make([]byte, 18)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ev.Type))
	buf[4] = ev.Button
	// buf[5] pad, buf[6:10] reserved, left zero.
	binary.BigEndian.PutUint64(buf[10:18], ev.TimestampUs)
	return buf
}

func encodeMouseWheel(ev Event) []byte {
	buf := make([]byte, 22)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(EventMouseWheel))
	// buf[4:6] horiz, always 0.
	binary.BigEndian.PutUint16(buf[6:8], uint16(ev.WheelDelta))
	// buf[8:14] reserved, left zero.
	binary.BigEndian.PutUint64(buf[14:22], ev.TimestampUs)
	return buf
}

func encodeHeartbeat() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(EventHeartbeat))
	return buf
}

// encodeGamepad lays out the 38-byte, all-little-endian Gamepad packet.
func encodeGamepad(ev Event) []byte {
	buf := make([]byte, 38)
	binary.LittleEndian.PutUint32(buf[0x00:0x04], uint32(EventGamepad))
	// buf[0x04:0x06] pad
	binary.LittleEndian.PutUint16(buf[0x06:0x08], ev.ControllerIndex)
	binary.LittleEndian.PutUint16(buf[0x08:0x0A], ev.GamepadFlags)
	// buf[0x0A:0x0C] pad
	binary.LittleEndian.PutUint16(buf[0x0C:0x0E], ev.ButtonFlags)
	triggers := uint16(ev.LeftTrigger) | (uint16(ev.RightTrigger) << 8)
	binary.LittleEndian.PutUint16(buf[0x0E:0x10], triggers)
	binary.LittleEndian.PutUint16(buf[0x10:0x12], uint16(ev.LeftStickX))
	binary.LittleEndian.PutUint16(buf[0x12:0x14], uint16(ev.LeftStickY))
	binary.LittleEndian.PutUint16(buf[0x14:0x16], uint16(ev.RightStickX))
	binary.LittleEndian.PutUint16(buf[0x16:0x18], uint16(ev.RightStickY))
	// buf[0x18:0x1E] pad x3
	binary.LittleEndian.PutUint64(buf[0x1E:0x26], ev.TimestampUs)
	return buf
}

// HandshakeFormat distinguishes the two handshake message shapes the host
// may send.
type HandshakeFormat int

const (
	HandshakeUnknown HandshakeFormat = iota
	HandshakeLegacy                  // [0x0e, major, minor, flags]
	HandshakeNew                     // [0x02, 0x0e, ver_lo, ver_hi]
)

// Handshake is the decoded result of the first message on input_channel_v1.
type Handshake struct {
	Format  HandshakeFormat
	Major   uint8
	Minor   uint8
	Version uint8
	Raw     []byte
}

// DecodeHandshake recognizes the legacy and new 4-byte handshake shapes.
// The caller must echo Raw back verbatim regardless of which shape matched.
func DecodeHandshake(data []byte) (Handshake, bool) {
	if len(data) != 4 {
		return Handshake{}, false
	}
	raw := append([]byte(nil), data...)
	switch {
	case data[0] == 0x0e:
		return Handshake{
			Format: HandshakeLegacy,
			Major:  data[1],
			Minor:  data[2],
			Version: data[1],
			Raw:    raw,
		}, true
	case data[0] == 0x02 && data[1] == 0x0e:
		return Handshake{
			Format:  HandshakeNew,
			Version: data[2],
			Raw:     raw,
		}, true
	default:
		return Handshake{}, false
	}
}

// EncodeHandshakeResponse builds the legacy 4-byte handshake response shape,
// for components that originate (rather than echo) a handshake.
func EncodeHandshakeResponse(major, minor, flags uint8) []byte {
	return []byte{0x0e, major, minor, flags}
}
