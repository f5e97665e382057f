package inputwire

import (
	"bytes"
	"testing"
)

func TestEncodeGamepad_Scenario4(t *testing.T) {
	enc := NewEncoder(2)
	ev := Event{
		Type:            EventGamepad,
		ControllerIndex: 0,
		ButtonFlags:     ButtonA | ButtonStart,
		LeftTrigger:     255,
		RightTrigger:    0,
		LeftStickX:      16383,
		LeftStickY:      -16384,
		RightStickX:     0,
		RightStickY:     0,
		GamepadFlags:    1,
		TimestampUs:     123456789,
	}
	out := enc.Encode(ev)
	if len(out) != 38 {
		t.Fatalf("expected 38 bytes, got %d", len(out))
	}
	if !bytes.Equal(out[0:4], []byte{0x0C, 0x00, 0x00, 0x00}) {
		t.Fatalf("expected leading 0C 00 00 00, got % x", out[0:4])
	}
	if !bytes.Equal(out[0x0E:0x10], []byte{0xFF, 0x00}) {
		t.Fatalf("expected triggers word FF 00, got % x", out[0x0E:0x10])
	}
	if ev.ButtonFlags != 0x1010 {
		t.Fatalf("expected button bitmap 0x1010, got %#04x", ev.ButtonFlags)
	}
}

func TestEncodeKeyDown(t *testing.T) {
	enc := NewEncoder(2)
	out := enc.Encode(Event{Type: EventKeyDown, Keycode: 65, Modifiers: 1, Scancode: 4, TimestampUs: 42})
	if len(out) != 18 {
		t.Fatalf("expected 18 bytes, got %d", len(out))
	}
}

func TestProtocolVersionEnvelope(t *testing.T) {
	v2 := NewEncoder(2).Encode(Event{Type: EventHeartbeat})
	if len(v2) != 4 {
		t.Fatalf("v2 heartbeat should be bare 4 bytes, got %d", len(v2))
	}
	v3 := NewEncoder(3).Encode(Event{Type: EventHeartbeat})
	if len(v3) != 5 || v3[0] != 0x22 {
		t.Fatalf("v3 heartbeat should be envelope-prefixed, got % x", v3)
	}
	if !bytes.Equal(v3[1:], v2) {
		t.Fatalf("v3 body should equal v2's bare encoding")
	}
}

func TestDecodeHandshake(t *testing.T) {
	legacy := []byte{0x0e, 1, 2, 0}
	hs, ok := DecodeHandshake(legacy)
	if !ok || hs.Format != HandshakeLegacy || hs.Major != 1 || hs.Minor != 2 {
		t.Fatalf("legacy handshake decode mismatch: %+v", hs)
	}
	if !bytes.Equal(hs.Raw, legacy) {
		t.Fatalf("handshake must preserve raw bytes for verbatim echo")
	}

	newFmt := []byte{0x02, 0x0e, 3, 0}
	hs2, ok := DecodeHandshake(newFmt)
	if !ok || hs2.Format != HandshakeNew || hs2.Version != 3 {
		t.Fatalf("new handshake decode mismatch: %+v", hs2)
	}

	if _, ok := DecodeHandshake([]byte{1, 2, 3}); ok {
		t.Fatalf("expected malformed handshake to be rejected")
	}
}

func TestEncodeHandshakeResponse(t *testing.T) {
	out := EncodeHandshakeResponse(3, 0, 0)
	if !bytes.Equal(out, []byte{0x0e, 3, 0, 0}) {
		t.Fatalf("unexpected handshake response: % x", out)
	}
}
