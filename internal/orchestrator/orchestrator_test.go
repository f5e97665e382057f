package orchestrator

import (
	"io"
	"log/slog"
	"testing"

	"github.com/zalo/streamcore/internal/decoder"
	"github.com/zalo/streamcore/internal/inputwire"
	"github.com/zalo/streamcore/internal/peer"
	"github.com/zalo/streamcore/internal/rtpdepacket"
	"github.com/zalo/streamcore/internal/session"
	"github.com/zalo/streamcore/internal/signaling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsMouseClass(t *testing.T) {
	mouseTypes := []inputwire.EventType{
		inputwire.EventMouseAbs, inputwire.EventMouseRel,
		inputwire.EventMouseButtonDown, inputwire.EventMouseButtonUp,
		inputwire.EventMouseWheel,
	}
	for _, et := range mouseTypes {
		if !isMouseClass(et) {
			t.Fatalf("expected %v to be mouse-class", et)
		}
	}

	nonMouseTypes := []inputwire.EventType{
		inputwire.EventKeyDown, inputwire.EventKeyUp,
		inputwire.EventGamepad, inputwire.EventHeartbeat,
	}
	for _, et := range nonMouseTypes {
		if isMouseClass(et) {
			t.Fatalf("expected %v to not be mouse-class", et)
		}
	}
}

func TestResolveCodec(t *testing.T) {
	cases := map[string]rtpdepacket.Codec{
		"h264":    rtpdepacket.CodecH264,
		"h265":    rtpdepacket.CodecH265,
		"av1":     rtpdepacket.CodecAV1,
		"unknown": rtpdepacket.CodecH264,
		"":        rtpdepacket.CodecH264,
	}
	for pref, want := range cases {
		if got := resolveCodec(pref); got != want {
			t.Fatalf("resolveCodec(%q) = %v, want %v", pref, got, want)
		}
	}
}

func TestSubmitInputEvent_DropsWhenQueueFull(t *testing.T) {
	o := &Orchestrator{
		log:         testLogger(),
		inputEvents: make(chan inputwire.Event, 1),
	}
	o.SubmitInputEvent(inputwire.Event{Type: inputwire.EventKeyDown})
	o.SubmitInputEvent(inputwire.Event{Type: inputwire.EventKeyUp}) // queue full, dropped

	if len(o.inputEvents) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(o.inputEvents))
	}
}

func TestEncodeAndQueue_RoutesByChannelTier(t *testing.T) {
	o := &Orchestrator{
		log:      testLogger(),
		encoder:  inputwire.NewEncoder(1),
		dispatch: make(chan dispatchItem, 2),
	}

	o.encodeAndQueue(inputwire.Event{Type: inputwire.EventMouseRel})
	o.encodeAndQueue(inputwire.Event{Type: inputwire.EventKeyDown})

	first := <-o.dispatch
	second := <-o.dispatch
	if !first.isMouseClass {
		t.Fatal("expected mouse event to be tagged mouse-class")
	}
	if second.isMouseClass {
		t.Fatal("expected key event to not be tagged mouse-class")
	}
}

func TestEncodeAndQueue_NoEncoderIsNoop(t *testing.T) {
	o := &Orchestrator{
		log:      testLogger(),
		dispatch: make(chan dispatchItem, 1),
	}
	o.encodeAndQueue(inputwire.Event{Type: inputwire.EventKeyDown})
	if len(o.dispatch) != 0 {
		t.Fatal("expected no dispatch item queued before handshake completes")
	}
}

func TestSynthesizeHostCandidate(t *testing.T) {
	got := synthesizeHostCandidate("10.0.0.1", 47998)
	want := "candidate:1 1 udp 2130706431 10.0.0.1 47998 typ host"
	if got != want {
		t.Fatalf("synthesizeHostCandidate() = %q, want %q", got, want)
	}
}

func TestCandidateJSON(t *testing.T) {
	got := candidateJSON(signaling.Candidate{Candidate: "candidate:1 1 udp", SDPMid: "0", SDPMLineIndex: 0})
	if got == "" {
		t.Fatal("expected non-empty JSON")
	}
}

// handleDecodeStat must tolerate being driven before a peer session exists
// (e.g. a decode stat racing session teardown).
func TestHandleDecodeStat_NoPeerSessionIsNoop(t *testing.T) {
	o := &Orchestrator{log: testLogger()}
	o.handleDecodeStat(decoder.DecodeStat{NeedsKeyframe: true})
}

func advanceToIceChecking(t *testing.T, fsm *session.FSM) {
	t.Helper()
	for _, s := range []session.NegotiationState{
		session.Signaling, session.OfferReceived, session.AnswerSent, session.IceChecking,
	} {
		if err := fsm.Transition(s); err != nil {
			t.Fatalf("advancing to %v: %v", s, err)
		}
	}
}

// A full pion "Connected" peer-connection callback collapses ICE-connected
// and DTLS-complete into one event; handlePeerEvent must expand it into the
// FSM's two intermediate states (§3/§7).
func TestHandlePeerEvent_ConnectedDrivesFSM(t *testing.T) {
	fsm := session.NewFSM()
	advanceToIceChecking(t, fsm)
	o := &Orchestrator{log: testLogger(), fsm: fsm}

	if err := o.handlePeerEvent(peer.Event{State: peer.StateConnected}); err != nil {
		t.Fatalf("handlePeerEvent: %v", err)
	}
	if fsm.State() != session.Connected {
		t.Fatalf("expected state Connected, got %v", fsm.State())
	}
}

// A failed/closed peer connection must fail the FSM rather than leave the
// StateFailed event undrained (§7: "peer-connection state -> Failed -> emit
// Dtls and teardown").
func TestHandlePeerEvent_FailedFailsFSM(t *testing.T) {
	fsm := session.NewFSM()
	advanceToIceChecking(t, fsm)
	o := &Orchestrator{log: testLogger(), fsm: fsm}

	if err := o.handlePeerEvent(peer.Event{State: peer.StateFailed}); err != nil {
		t.Fatalf("handlePeerEvent: %v", err)
	}
	if fsm.State() != session.Failed {
		t.Fatalf("expected state Failed, got %v", fsm.State())
	}
	if fsm.Reason() != session.FailIce {
		t.Fatalf("expected reason FailIce, got %v", fsm.Reason())
	}
}
