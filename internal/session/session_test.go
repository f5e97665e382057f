package session

import (
	"testing"
	"time"
)

func TestFSM_HappyPath(t *testing.T) {
	f := NewFSM()
	path := []NegotiationState{
		Signaling, OfferReceived, AnswerSent, IceChecking,
		DtlsHandshaking, Connected, InputHandshake, Streaming, Draining,
	}
	for _, next := range path {
		if err := f.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if f.State() != Draining {
		t.Fatalf("expected Draining, got %s", f.State())
	}
}

func TestFSM_RejectsIllegalTransition(t *testing.T) {
	f := NewFSM()
	if err := f.Transition(Connected); err == nil {
		t.Fatal("expected error skipping straight from Idle to Connected")
	}
}

func TestFSM_FailFromAnyNonTerminalState(t *testing.T) {
	f := NewFSM()
	if err := f.Transition(Signaling); err != nil {
		t.Fatal(err)
	}
	if err := f.Fail(FailIce); err != nil {
		t.Fatalf("expected fail to succeed: %v", err)
	}
	if f.State() != Failed {
		t.Fatalf("expected Failed, got %s", f.State())
	}
	if f.Reason() != FailIce {
		t.Fatalf("expected reason FailIce, got %s", f.Reason())
	}
}

func TestFSM_CannotFailFromDraining(t *testing.T) {
	f := NewFSM()
	for _, next := range []NegotiationState{Signaling, OfferReceived, AnswerSent, IceChecking, DtlsHandshaking, Connected, InputHandshake, Streaming, Draining} {
		if err := f.Transition(next); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Fail(FailDecode); err == nil {
		t.Fatal("expected error failing from Draining")
	}
}

func TestFSM_NotifiesObserver(t *testing.T) {
	f := NewFSM()
	var gotFrom, gotTo NegotiationState
	calls := 0
	f.OnTransition(func(from, to NegotiationState) {
		calls++
		gotFrom, gotTo = from, to
	})
	if err := f.Transition(Signaling); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || gotFrom != Idle || gotTo != Signaling {
		t.Fatalf("unexpected observer call: calls=%d from=%s to=%s", calls, gotFrom, gotTo)
	}
}

func TestStats_SnapshotDerivesRates(t *testing.T) {
	start := time.Unix(0, 0)
	s := NewStats(start)
	s.RecordFrameReceived(1000)
	s.RecordFrameDecoded(4.5)
	s.RecordFrameRendered()
	s.RecordRTT(20 * time.Millisecond)
	s.RecordInputEvent(2000)
	s.RecordInputEvent(4000)

	snap := s.Snapshot(start.Add(2 * time.Second))
	if snap.FramesReceived != 1 || snap.BytesReceived != 1000 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.MeanInputAgeUs != 3000 {
		t.Fatalf("expected mean age 3000us, got %v", snap.MeanInputAgeUs)
	}
	if snap.InputEventRateHz != 1.0 {
		t.Fatalf("expected 1 event/s over 2s window, got %v", snap.InputEventRateHz)
	}
	if snap.LastRTT != 20*time.Millisecond {
		t.Fatalf("unexpected RTT: %v", snap.LastRTT)
	}
}
