// Package inputcapture turns raw HID deltas into the coalesced, timestamped
// InputEvent stream the wire encoder consumes: a hot-path mouse coalescer,
// a keyboard state ledger, and a radial-deadzone gamepad reader.
package inputcapture

import (
	"math"
	"sync/atomic"
)

// CoalesceIntervalUs is the accumulation window for mouse deltas (§4.8):
// ~500 effective events/sec on the wire.
const CoalesceIntervalUs int64 = 2000

// MouseMove is a coalesced delta ready to hand to the wire encoder.
type MouseMove struct {
	DX, DY      int32
	TimestampUs int64
}

// MouseCoalescer accumulates raw mouse deltas on the capture thread and
// releases a coalesced MouseMove once CoalesceIntervalUs has elapsed since
// the last send. The accumulators and the local cursor shadow are atomic so
// a periodic flush from the render thread at frame boundaries is safe
// alongside the capture thread's own reads.
type MouseCoalescer struct {
	dx, dy     int32 // atomic
	lastSendUs int64 // atomic, monotonic microseconds
	cursorX    int32 // atomic, clamped shadow position
	cursorY    int32 // atomic
	width      int32
	height     int32
	now        func() int64
}

// NewMouseCoalescer constructs a coalescer whose shadow cursor is clamped to
// (width, height). now must return monotonic microseconds.
func NewMouseCoalescer(now func() int64, width, height int32) *MouseCoalescer {
	return &MouseCoalescer{width: width, height: height, now: now}
}

// Accumulate folds one captured delta into the pending move, updates the
// local cursor shadow unconditionally, and returns a coalesced event if the
// interval has elapsed.
func (c *MouseCoalescer) Accumulate(dx, dy int32) (MouseMove, bool) {
	c.updateShadow(dx, dy)
	atomic.AddInt32(&c.dx, dx)
	atomic.AddInt32(&c.dy, dy)

	nowUs := c.now()
	last := atomic.LoadInt64(&c.lastSendUs)
	if nowUs-last < CoalesceIntervalUs {
		return MouseMove{}, false
	}
	return c.swap(nowUs), true
}

// Flush forces an immediate send regardless of elapsed time. Callers must
// flush before emitting any mouse-button transition so the click lands at
// the correct on-screen position (§4.8 ordering guarantee).
func (c *MouseCoalescer) Flush() (MouseMove, bool) {
	sumDX := atomic.LoadInt32(&c.dx)
	sumDY := atomic.LoadInt32(&c.dy)
	if sumDX == 0 && sumDY == 0 {
		return MouseMove{}, false
	}
	return c.swap(c.now()), true
}

func (c *MouseCoalescer) swap(nowUs int64) MouseMove {
	sumDX := atomic.SwapInt32(&c.dx, 0)
	sumDY := atomic.SwapInt32(&c.dy, 0)
	atomic.StoreInt64(&c.lastSendUs, nowUs)
	return MouseMove{DX: sumDX, DY: sumDY, TimestampUs: nowUs}
}

func (c *MouseCoalescer) updateShadow(dx, dy int32) {
	for {
		oldX := atomic.LoadInt32(&c.cursorX)
		newX := clamp32(oldX+dx, 0, c.width)
		if atomic.CompareAndSwapInt32(&c.cursorX, oldX, newX) {
			break
		}
	}
	for {
		oldY := atomic.LoadInt32(&c.cursorY)
		newY := clamp32(oldY+dy, 0, c.height)
		if atomic.CompareAndSwapInt32(&c.cursorY, oldY, newY) {
			break
		}
	}
}

// CursorShadow returns the current clamped local cursor position.
func (c *MouseCoalescer) CursorShadow() (x, y int32) {
	return atomic.LoadInt32(&c.cursorX), atomic.LoadInt32(&c.cursorY)
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// KeyboardLedger tracks currently-held keycodes. Owned by the UI thread
// only; no synchronization is needed.
type KeyboardLedger struct {
	held map[uint16]bool
}

// NewKeyboardLedger constructs an empty ledger.
func NewKeyboardLedger() *KeyboardLedger {
	return &KeyboardLedger{held: make(map[uint16]bool)}
}

// KeyDown reports whether a KeyDown should be emitted: suppressed
// (auto-repeat dedup) if the key is already held.
func (l *KeyboardLedger) KeyDown(keycode uint16) bool {
	if l.held[keycode] {
		return false
	}
	l.held[keycode] = true
	return true
}

// KeyUp always reports true (safe to emit even for a key not tracked as
// held) and clears the key from the ledger.
func (l *KeyboardLedger) KeyUp(keycode uint16) bool {
	delete(l.held, keycode)
	return true
}

// FocusLost returns every currently-held keycode (for which the caller must
// emit a KeyUp) and clears the ledger, preventing stuck keys.
func (l *KeyboardLedger) FocusLost() []uint16 {
	out := make([]uint16, 0, len(l.held))
	for k := range l.held {
		out = append(out, k)
	}
	l.held = make(map[uint16]bool)
	return out
}

// StickDeadzone is the radial deadzone applied to each analog stick.
const StickDeadzone = 0.15

// ApplyRadialDeadzone treats (x, y) as a 2D vector. Magnitudes below
// StickDeadzone collapse to zero; magnitudes at or above it are rescaled so
// the deadzone boundary maps to 0 and 1.0 maps to 1.0, preserving angle.
func ApplyRadialDeadzone(x, y float64) (float64, float64) {
	magnitude := math.Sqrt(x*x + y*y)
	if magnitude < StickDeadzone {
		return 0, 0
	}
	scale := (magnitude - StickDeadzone) / (1.0 - StickDeadzone) / magnitude
	return x * scale, y * scale
}

// TriggerReading is the layered source for one analog trigger: the gamepad
// library's own analog value, a raw axis read, or a digital button.
type TriggerReading struct {
	Analog *float64 // 0.0-1.0, preferred when present
	Axis   *float64 // 0.0-1.0, fallback
	Digital bool     // fully-pressed digital button, final fallback
}

// ResolveTrigger converts a TriggerReading to the wire's 0-255 byte,
// preferring the analog value, then the axis, then digital->255.
func ResolveTrigger(r TriggerReading) uint8 {
	switch {
	case r.Analog != nil:
		return to255(*r.Analog)
	case r.Axis != nil:
		return to255(*r.Axis)
	case r.Digital:
		return 255
	default:
		return 0
	}
}

func to255(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math.Round(v * 255))
}

// ToSigned16 converts a [-1.0, 1.0] axis value to a signed 16-bit wire
// value after deadzone processing has already been applied.
func ToSigned16(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}

// SessionClock captures the (unix, monotonic) origin pair before streaming
// begins, giving every subsequent event both absolute server-clock
// alignment and drift-free relative ordering.
type SessionClock struct {
	originUnixUs int64
	originMonoUs int64
}

// NewSessionClock establishes a new origin. A session reset calls this
// again with fresh values.
func NewSessionClock(unixEpochUs, monotonicUs int64) SessionClock {
	return SessionClock{originUnixUs: unixEpochUs, originMonoUs: monotonicUs}
}

// TimestampUs converts a monotonic reading into the wire's absolute
// timestamp_us field.
func (c SessionClock) TimestampUs(monotonicNowUs int64) uint64 {
	return uint64(c.originUnixUs + (monotonicNowUs - c.originMonoUs))
}
