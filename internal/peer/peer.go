// Package peer wraps a single WebRTC peer connection to the game host:
// dynamic codec registration, ICE-lite-aware DTLS role, the two input data
// channels, PLI-triggered keyframe recovery, and periodic ICE-pair stats.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/zalo/streamcore/internal/inputwire"
	"github.com/zalo/streamcore/internal/sdpx"
)

// State is the peer session's own lifecycle, distinct from (but driven by)
// the underlying ICE/peer-connection state machine.
type State int

const (
	StateBuilding State = iota
	StateAnswering
	StateIceGathering
	StateChecking
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "Building"
	case StateAnswering:
		return "Answering"
	case StateIceGathering:
		return "IceGathering"
	case StateChecking:
		return "Checking"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Event is emitted to the orchestrator on every state transition.
type Event struct {
	State State
	Err   error
}

// RTPPacket is forwarded to the depacketizer for every received frame of
// media.
type RTPPacket struct {
	Kind      string // "video" or "audio"
	Payload   []byte
	Timestamp uint32
	Marker    bool
}

// PairStats is the 1 Hz RTCP remote-inbound video stats poll result.
type PairStats struct {
	RoundTrip    time.Duration
	FractionLost float64
}

// iceGatherTimeout bounds how long the offer→answer path waits for ICE
// gathering before proceeding with whatever was gathered (§4.3.3).
const iceGatherTimeout = 5 * time.Second

// Session wraps one pion PeerConnection plus the input-handshake state
// machine and data channel topology this protocol requires.
type Session struct {
	log *slog.Logger
	pc  *webrtc.PeerConnection

	mu          sync.Mutex
	videoSSRC   webrtc.SSRC
	haveVideoSSRC bool

	inputReliable     *webrtc.DataChannel
	inputUnreliable   *webrtc.DataChannel
	handshakeDone     bool
	protocolVersion   uint8

	events  chan Event
	rtp     chan RTPPacket
	input   chan []byte // raw bytes off input_channel_v1, post-handshake
	onVersion func(uint8)
}

// NewSession builds a peer connection whose codec set matches §4.3.1 and
// whose answering DTLS role is corrected for an ICE-lite offer per §4.3.2.
func NewSession(log *slog.Logger, iceServers []string, offerSDP string) (*Session, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine); err != nil {
		return nil, fmt.Errorf("peer: register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if sdpx.IsICELite(offerSDP) {
		settingEngine.SetAnsweringDTLSRole(webrtc.DTLSRoleClient)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("peer: new peer connection: %w", err)
	}

	s := &Session{
		log:    log,
		pc:     pc,
		events: make(chan Event, 16),
		rtp:    make(chan RTPPacket, 256),
		input:  make(chan []byte, 256),
	}
	s.wireCallbacks()
	return s, nil
}

// registerCodecs registers H.264, H.265, and AV1 with placeholder payload
// types; pion negotiates the actual payload type from the offer's own
// declarations at SetRemoteDescription time, so these need only match
// codec capability (mime type, clock rate, fmtp), not a specific number.
func registerCodecs(m *webrtc.MediaEngine) error {
	videoCodecs := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  "video/H265",
				ClockRate: 90000,
			},
			PayloadType: 116,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeAV1,
				ClockRate: 90000,
			},
			PayloadType: 45,
		},
	}
	for _, c := range videoCodecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)
}

func (s *Session) wireCallbacks() {
	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Info("peer connection state change", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.emit(Event{State: StateConnected})
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.emit(Event{State: StateFailed, Err: fmt.Errorf("peer connection state %s", state)})
		}
	})
	s.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Info("ice connection state change", "state", state.String())
		if state == webrtc.ICEConnectionStateChecking {
			s.emit(Event{State: StateChecking})
		}
	})
	s.pc.OnTrack(s.handleTrack)
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warn("peer event channel full, dropping event")
	}
}

// Events returns the session's lifecycle event stream.
func (s *Session) Events() <-chan Event { return s.events }

// RTPPackets returns the forwarded media RTP stream.
func (s *Session) RTPPackets() <-chan RTPPacket { return s.rtp }

// InputMessages returns raw bytes received on input_channel_v1 after the
// handshake has completed.
func (s *Session) InputMessages() <-chan []byte { return s.input }

func (s *Session) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := "audio"
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = "video"
	}
	first := true
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if kind == "video" && first {
			first = false
			s.mu.Lock()
			s.videoSSRC = track.SSRC()
			s.haveVideoSSRC = true
			s.mu.Unlock()
			s.requestKeyframeLocked(track.SSRC())
		}
		select {
		case s.rtp <- RTPPacket{Kind: kind, Payload: pkt.Payload, Timestamp: pkt.Timestamp, Marker: pkt.Marker}:
		default:
			s.log.Warn("rtp forwarding channel full, dropping packet", "kind", kind)
		}
	}
}

// RequestKeyframe sends a PLI for the current video SSRC, per C5's
// persistent-non-output escalation or an explicit C10 request.
func (s *Session) RequestKeyframe() {
	s.mu.Lock()
	ssrc := s.videoSSRC
	have := s.haveVideoSSRC
	s.mu.Unlock()
	if !have {
		return
	}
	s.requestKeyframeLocked(ssrc)
}

func (s *Session) requestKeyframeLocked(ssrc webrtc.SSRC) {
	if err := s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}); err != nil {
		s.log.Warn("failed to send PLI", "err", err)
	}
}

// SetupDataChannels creates the two input channels before negotiation
// completes, per §4.3.5.
func (s *Session) SetupDataChannels() error {
	reliable, err := s.pc.CreateDataChannel("input_channel_v1", &webrtc.DataChannelInit{
		Ordered:        boolPtr(true),
		MaxRetransmits: uint16Ptr(0),
	})
	if err != nil {
		return fmt.Errorf("peer: create input_channel_v1: %w", err)
	}
	maxLifetime := uint16(8)
	unreliable, err := s.pc.CreateDataChannel("input_channel_partially_reliable", &webrtc.DataChannelInit{
		Ordered:           boolPtr(false),
		MaxPacketLifeTime: &maxLifetime,
	})
	if err != nil {
		return fmt.Errorf("peer: create input_channel_partially_reliable: %w", err)
	}

	s.inputReliable = reliable
	s.inputUnreliable = unreliable

	reliable.OnMessage(s.handleReliableMessage)
	return nil
}

// OnProtocolVersion registers the callback invoked once the input
// handshake resolves a protocol version, per §4.3.6.
func (s *Session) OnProtocolVersion(fn func(version uint8)) {
	s.onVersion = fn
}

func (s *Session) handleReliableMessage(msg webrtc.DataChannelMessage) {
	s.mu.Lock()
	done := s.handshakeDone
	s.mu.Unlock()

	if !done {
		hs, ok := inputwire.DecodeHandshake(msg.Data)
		if !ok {
			s.log.Warn("malformed input handshake, dropping")
			return
		}
		if err := s.inputReliable.Send(hs.Raw); err != nil {
			s.log.Warn("failed to echo input handshake", "err", err)
			return
		}
		s.mu.Lock()
		s.handshakeDone = true
		s.protocolVersion = hs.Version
		s.mu.Unlock()
		if s.onVersion != nil {
			s.onVersion(hs.Version)
		}
		return
	}

	select {
	case s.input <- msg.Data:
	default:
		s.log.Warn("input message channel full, dropping")
	}
}

// SendUnreliable sends an encoded mouse-move datagram on the partially
// reliable channel.
func (s *Session) SendUnreliable(data []byte) error {
	if s.inputUnreliable == nil || s.inputUnreliable.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return s.inputUnreliable.Send(data)
}

// SendReliable sends an encoded keyboard/gamepad/heartbeat datagram on the
// reliable ordered channel.
func (s *Session) SendReliable(data []byte) error {
	if s.inputReliable == nil || s.inputReliable.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return s.inputReliable.Send(data)
}

// HandleOffer sets the remote description, creates the local answer, and
// waits for ICE gathering to complete or iceGatherTimeout to elapse.
func (s *Session) HandleOffer(ctx context.Context, offerSDP string) (string, error) {
	s.emit(Event{State: StateAnswering})
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		s.emit(Event{State: StateFailed, Err: err})
		return "", fmt.Errorf("peer: set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.emit(Event{State: StateFailed, Err: err})
		return "", fmt.Errorf("peer: create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.emit(Event{State: StateFailed, Err: err})
		return "", fmt.Errorf("peer: set local description: %w", err)
	}

	s.emit(Event{State: StateIceGathering})
	gatherCtx, cancel := context.WithTimeout(ctx, iceGatherTimeout)
	defer cancel()
	select {
	case <-webrtc.GatheringCompletePromise(s.pc):
	case <-gatherCtx.Done():
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("peer: no local description after gathering")
	}
	return local.SDP, nil
}

// AddICECandidate adds a trickled remote candidate.
func (s *Session) AddICECandidate(candidateJSON string) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &candidate); err != nil {
		return fmt.Errorf("peer: unmarshal candidate: %w", err)
	}
	return s.pc.AddICECandidate(candidate)
}

// PollPairStats extracts the remote-inbound video RTCP stream stats with the
// most packets received, for the 1 Hz stats loop C10 drives.
func (s *Session) PollPairStats() (PairStats, bool) {
	return extractRemoteInboundVideoStats(s.pc.GetStats())
}

func extractRemoteInboundVideoStats(report webrtc.StatsReport) (PairStats, bool) {
	var bestPackets uint32
	var out PairStats
	found := false
	for _, st := range report {
		ri, ok := st.(webrtc.RemoteInboundRTPStreamStats)
		if !ok || ri.Kind != "video" {
			continue
		}
		if !found || ri.PacketsReceived >= bestPackets {
			bestPackets = ri.PacketsReceived
			out = PairStats{
				RoundTrip:    time.Duration(ri.RoundTripTime * float64(time.Second)),
				FractionLost: ri.FractionLost,
			}
			found = true
		}
	}
	return out, found
}

// Close tears down the peer connection.
func (s *Session) Close() error {
	return s.pc.Close()
}

func boolPtr(b bool) *bool     { return &b }
func uint16Ptr(n uint16) *uint16 { return &n }
