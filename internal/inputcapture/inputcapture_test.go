package inputcapture

import "testing"

// fakeClock lets tests drive monotonic time deterministically.
type fakeClock struct{ us int64 }

func (c *fakeClock) now() int64  { return c.us }
func (c *fakeClock) advance(d int64) { c.us += d }

// P2: the coalescer never emits more than one move per CoalesceIntervalUs.
func TestMouseCoalescer_CoalescingBound(t *testing.T) {
	clk := &fakeClock{}
	mc := NewMouseCoalescer(clk.now, 1920, 1080)

	emitted := 0
	for i := 0; i < 50; i++ {
		clk.advance(100) // 100us per raw delta, far below the 2000us window
		if _, ok := mc.Accumulate(1, 1); ok {
			emitted++
		}
	}
	// 50 * 100us = 5000us elapsed; at most floor(5000/2000)+1 = 3 emissions.
	if emitted > 3 {
		t.Fatalf("expected at most 3 coalesced emissions over 5000us, got %d", emitted)
	}
}

// Scenario 3: a burst of deltas under load still yields one summed move
// per window, not one per raw event.
func TestMouseCoalescer_Scenario3_BurstSummed(t *testing.T) {
	clk := &fakeClock{}
	mc := NewMouseCoalescer(clk.now, 1920, 1080)

	var lastMove MouseMove
	gotOne := false
	for i := 0; i < 10; i++ {
		clk.advance(150)
		if mv, ok := mc.Accumulate(2, -1); ok {
			lastMove = mv
			gotOne = true
		}
	}
	if !gotOne {
		t.Fatal("expected at least one coalesced move over the burst")
	}
	if lastMove.DX == 0 && lastMove.DY == 0 {
		t.Fatal("expected nonzero summed delta")
	}
}

func TestMouseCoalescer_FlushForcesImmediateSend(t *testing.T) {
	clk := &fakeClock{}
	mc := NewMouseCoalescer(clk.now, 1920, 1080)
	mc.Accumulate(5, 5)
	mv, ok := mc.Flush()
	if !ok {
		t.Fatal("expected flush to emit a pending move")
	}
	if mv.DX != 5 || mv.DY != 5 {
		t.Fatalf("expected flushed delta (5,5), got (%d,%d)", mv.DX, mv.DY)
	}
	if _, ok := mc.Flush(); ok {
		t.Fatal("expected second flush with no pending delta to emit nothing")
	}
}

func TestMouseCoalescer_CursorShadowClamped(t *testing.T) {
	clk := &fakeClock{}
	mc := NewMouseCoalescer(clk.now, 100, 100)
	mc.Accumulate(-50, -50)
	x, y := mc.CursorShadow()
	if x != 0 || y != 0 {
		t.Fatalf("expected clamp to (0,0), got (%d,%d)", x, y)
	}
	mc.Accumulate(500, 500)
	x, y = mc.CursorShadow()
	if x != 100 || y != 100 {
		t.Fatalf("expected clamp to (100,100), got (%d,%d)", x, y)
	}
}

// P6: every KeyDown accepted by the ledger is balanced by exactly one
// KeyUp, whether from the key itself or a focus-loss sweep.
func TestKeyboardLedger_AutoRepeatDedup(t *testing.T) {
	l := NewKeyboardLedger()
	if !l.KeyDown(65) {
		t.Fatal("expected first KeyDown to emit")
	}
	if l.KeyDown(65) {
		t.Fatal("expected repeat KeyDown to be suppressed")
	}
	if !l.KeyUp(65) {
		t.Fatal("expected KeyUp to emit")
	}
	if !l.KeyDown(65) {
		t.Fatal("expected KeyDown to emit again after KeyUp")
	}
}

func TestKeyboardLedger_FocusLostEmitsHeldKeys(t *testing.T) {
	l := NewKeyboardLedger()
	l.KeyDown(1)
	l.KeyDown(2)
	l.KeyDown(3)
	held := l.FocusLost()
	if len(held) != 3 {
		t.Fatalf("expected 3 held keys released, got %d", len(held))
	}
	if len(l.FocusLost()) != 0 {
		t.Fatal("expected ledger cleared after focus loss")
	}
	if !l.KeyDown(1) {
		t.Fatal("expected key 1 to be emittable again after focus loss cleared it")
	}
}

// P7: deadzone round-trip — applying the deadzone to a vector at exactly
// the boundary yields zero, and a full-deflection vector maps to magnitude 1.
func TestApplyRadialDeadzone(t *testing.T) {
	x, y := ApplyRadialDeadzone(StickDeadzone, 0)
	if x != 0 || y != 0 {
		t.Fatalf("expected exact boundary to collapse to zero, got (%v,%v)", x, y)
	}
	x, y = ApplyRadialDeadzone(1.0, 0)
	if x < 0.999 || x > 1.0001 || y != 0 {
		t.Fatalf("expected full deflection to map to magnitude ~1, got (%v,%v)", x, y)
	}
	x, y = ApplyRadialDeadzone(0.05, 0)
	if x != 0 || y != 0 {
		t.Fatal("expected sub-deadzone input to collapse to zero")
	}
}

func TestResolveTrigger_PrefersAnalogThenAxisThenDigital(t *testing.T) {
	analog := 0.5
	axis := 0.9
	if got := ResolveTrigger(TriggerReading{Analog: &analog, Axis: &axis, Digital: true}); got != 128 {
		t.Fatalf("expected analog to win, got %d", got)
	}
	if got := ResolveTrigger(TriggerReading{Axis: &axis, Digital: true}); got != 230 {
		t.Fatalf("expected axis fallback, got %d", got)
	}
	if got := ResolveTrigger(TriggerReading{Digital: true}); got != 255 {
		t.Fatalf("expected digital fallback to 255, got %d", got)
	}
	if got := ResolveTrigger(TriggerReading{}); got != 0 {
		t.Fatalf("expected zero when nothing present, got %d", got)
	}
}

// P1: timestamps derived from the session clock are monotonically
// non-decreasing as the underlying monotonic clock advances.
func TestSessionClock_Monotonic(t *testing.T) {
	clk := NewSessionClock(1_700_000_000_000_000, 10_000)
	a := clk.TimestampUs(10_000)
	b := clk.TimestampUs(15_000)
	if b <= a {
		t.Fatalf("expected b > a, got a=%d b=%d", a, b)
	}
	if b-a != 5000 {
		t.Fatalf("expected delta of 5000us to be preserved, got %d", b-a)
	}
}
