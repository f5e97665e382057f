// Package session holds the data the orchestrator threads through a single
// streaming session: the immutable allocator handle, the negotiation state
// machine, and the rolling stream statistics.
package session

import (
	"fmt"
	"sync"
	"time"
)

// Handle is the immutable result of the out-of-scope session-allocation
// REST API (§3), passed in at construction and never mutated. SessionID is
// carried on the original allocator's response but dropped by the distilled
// spec; it is required to build the `x-nv-sessionid.<sid>` WebSocket
// subprotocol (§6), so it is restored here.
type Handle struct {
	SessionID       string
	ServerHost      string
	SignalingURL    string
	ICEServers      []string
	MediaHint       *MediaHint
	CodecRequest    string
	Width, Height   int
	TargetFPS       float64
	MaxBitrateKbps  int
	AccountFlag     string
	BearerToken     string
}

// MediaHint is the optional media-endpoint hint carried on a SessionHandle.
type MediaHint struct {
	IP   string
	Port int
}

// NegotiationState is the FSM C10 drives and observes (§3).
type NegotiationState int

const (
	Idle NegotiationState = iota
	Signaling
	OfferReceived
	AnswerSent
	IceChecking
	DtlsHandshaking
	Connected
	InputHandshake
	Streaming
	Draining
	Failed
)

func (s NegotiationState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Signaling:
		return "Signaling"
	case OfferReceived:
		return "OfferReceived"
	case AnswerSent:
		return "AnswerSent"
	case IceChecking:
		return "IceChecking"
	case DtlsHandshaking:
		return "DtlsHandshaking"
	case Connected:
		return "Connected"
	case InputHandshake:
		return "InputHandshake"
	case Streaming:
		return "Streaming"
	case Draining:
		return "Draining"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// validTransitions enumerates the FSM's allowed edges; Failed is reachable
// from any non-terminal state, so it is checked separately.
var validTransitions = map[NegotiationState][]NegotiationState{
	Idle:            {Signaling},
	Signaling:       {OfferReceived},
	OfferReceived:   {AnswerSent},
	AnswerSent:      {IceChecking},
	IceChecking:     {DtlsHandshaking},
	DtlsHandshaking: {Connected},
	Connected:       {InputHandshake},
	InputHandshake:  {Streaming},
	Streaming:       {Draining},
}

// FailReason is the taxonomy of terminal failures (§6/SPEC_FULL §?).
type FailReason string

const (
	FailSignalingLost FailReason = "SignalingLost"
	FailNegotiation    FailReason = "Negotiation"
	FailIce            FailReason = "Ice"
	FailDecode         FailReason = "Decode"
	FailPresent        FailReason = "Present"
)

// FSM tracks the current negotiation state and notifies a single observer
// of every transition.
type FSM struct {
	mu       sync.Mutex
	state    NegotiationState
	reason   FailReason
	onChange func(from, to NegotiationState)
}

// NewFSM starts in Idle.
func NewFSM() *FSM {
	return &FSM{state: Idle}
}

// OnTransition registers the observer invoked on every successful
// transition.
func (f *FSM) OnTransition(fn func(from, to NegotiationState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// State returns the current state.
func (f *FSM) State() NegotiationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition moves the FSM to `to`, returning an error if the edge is not
// permitted. Transitioning to Failed is always permitted except from
// Draining or Failed itself.
func (f *FSM) Transition(to NegotiationState) error {
	f.mu.Lock()
	from := f.state
	if to == Failed {
		if from == Draining || from == Failed {
			f.mu.Unlock()
			return fmt.Errorf("session: cannot fail from terminal state %s", from)
		}
		f.state = Failed
		cb := f.onChange
		f.mu.Unlock()
		if cb != nil {
			cb(from, to)
		}
		return nil
	}

	allowed := false
	for _, next := range validTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		f.mu.Unlock()
		return fmt.Errorf("session: illegal transition %s -> %s", from, to)
	}
	f.state = to
	cb := f.onChange
	f.mu.Unlock()
	if cb != nil {
		cb(from, to)
	}
	return nil
}

// Fail forces the FSM into Failed with a reason, recorded for diagnostics.
func (f *FSM) Fail(reason FailReason) error {
	f.mu.Lock()
	f.reason = reason
	f.mu.Unlock()
	return f.Transition(Failed)
}

// FailReason returns the reason recorded by the most recent Fail call, if
// any.
func (f *FSM) Reason() FailReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Stats is the rolling counters and derived rates tracked for the lifetime
// of a session (§3).
type Stats struct {
	mu sync.Mutex

	FramesReceived uint64
	FramesDecoded  uint64
	FramesRendered uint64
	FramesDropped  uint64
	BytesReceived  uint64

	lastDecodeTimeMs float64
	lastRTT          time.Duration

	inputEvents     uint64
	inputAgeSumUs   uint64
	windowStart     time.Time
}

// NewStats starts the rolling window now.
func NewStats(now time.Time) *Stats {
	return &Stats{windowStart: now}
}

func (s *Stats) RecordFrameReceived(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesReceived++
	s.BytesReceived += uint64(bytes)
}

func (s *Stats) RecordFrameDecoded(decodeTimeMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesDecoded++
	s.lastDecodeTimeMs = decodeTimeMs
}

func (s *Stats) RecordFrameRendered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesRendered++
}

func (s *Stats) RecordFrameDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesDropped++
}

func (s *Stats) RecordRTT(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRTT = rtt
}

func (s *Stats) RecordInputEvent(creationAgeUs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputEvents++
	s.inputAgeSumUs += creationAgeUs
}

// Snapshot is a point-in-time copy safe to read without the lock.
type Snapshot struct {
	FramesReceived, FramesDecoded, FramesRendered, FramesDropped uint64
	BytesReceived                                                uint64
	LastDecodeTimeMs                                             float64
	LastRTT                                                      time.Duration
	MeanInputAgeUs                                               float64
	InputEventRateHz                                             float64
}

// Snapshot computes the derived rates over the elapsed window.
func (s *Stats) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := now.Sub(s.windowStart).Seconds()
	var meanAge, rate float64
	if s.inputEvents > 0 {
		meanAge = float64(s.inputAgeSumUs) / float64(s.inputEvents)
	}
	if elapsed > 0 {
		rate = float64(s.inputEvents) / elapsed
	}

	return Snapshot{
		FramesReceived:    s.FramesReceived,
		FramesDecoded:     s.FramesDecoded,
		FramesRendered:    s.FramesRendered,
		FramesDropped:     s.FramesDropped,
		BytesReceived:     s.BytesReceived,
		LastDecodeTimeMs:  s.lastDecodeTimeMs,
		LastRTT:           s.lastRTT,
		MeanInputAgeUs:    meanAge,
		InputEventRateHz:  rate,
	}
}
