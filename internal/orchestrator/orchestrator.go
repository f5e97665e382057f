// Package orchestrator drives the top-level negotiation sequence and owns
// the channel topology connecting signaling, the peer connection, the media
// pipeline, and the input plane. It is the only component that holds
// references to every other one (§4.10).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/zalo/streamcore/internal/audio"
	"github.com/zalo/streamcore/internal/decoder"
	"github.com/zalo/streamcore/internal/frame"
	"github.com/zalo/streamcore/internal/inputwire"
	"github.com/zalo/streamcore/internal/peer"
	"github.com/zalo/streamcore/internal/render"
	"github.com/zalo/streamcore/internal/rtpdepacket"
	"github.com/zalo/streamcore/internal/sdpx"
	"github.com/zalo/streamcore/internal/session"
	"github.com/zalo/streamcore/internal/signaling"
)

// inputQueueCapacity is the orchestrator's input event queue; overflow is
// acceptable for mouse-class events (§4.10).
const inputQueueCapacity = 1024

// rawInputStopTimeout bounds how long the orchestrator waits for the raw
// input capture thread to observe a stop signal before forcing a reset.
const rawInputStopTimeout = 500 * time.Millisecond

// Config is the only configuration surface the embedding application needs
// to provide.
type Config struct {
	CodecPreference     string // "h264", "h265", or "av1"
	TargetFPS           float64
	Width, Height       int
	ShowStatsHUD        bool
	IntelRuntimePresent bool
	AudioOutputRate     int
}

// dispatchItem is one queued outbound input datagram.
type dispatchItem struct {
	bytes         []byte
	isMouseClass  bool
	creationAgeUs uint64
}

// Orchestrator owns the session lifecycle end to end.
type Orchestrator struct {
	log    *slog.Logger
	cfg    Config
	handle session.Handle

	fsm   *session.FSM
	stats *session.Stats

	signalClient *signaling.Client
	peerSession  *peer.Session
	depacket     rtpdepacket.Depacketizer
	decodeWorker *decoder.Worker
	audioPipe    *audio.Pipeline
	presenter    *render.Presenter
	shared       *frame.SharedFrame

	inputEvents chan inputwire.Event
	dispatch    chan dispatchItem
	encoder     *inputwire.Encoder

	audioCancel  context.CancelFunc
	renderCancel context.CancelFunc
	stopInput    context.CancelFunc
}

// RegisterInputStopFunc wires the raw-input capture thread's stop signal
// (§5: "stop_raw_input sets an atomic flag...") into the orchestrator's
// drain path.
func (o *Orchestrator) RegisterInputStopFunc(fn context.CancelFunc) {
	o.stopInput = fn
}

// New constructs an orchestrator bound to one SessionHandle.
func New(log *slog.Logger, cfg Config, handle session.Handle) *Orchestrator {
	return &Orchestrator{
		log:         log,
		cfg:         cfg,
		handle:      handle,
		fsm:         session.NewFSM(),
		stats:       session.NewStats(time.Now()),
		signalClient: signaling.New(log, handle.SignalingURL),
		shared:      &frame.SharedFrame{},
		inputEvents: make(chan inputwire.Event, inputQueueCapacity),
		dispatch:    make(chan dispatchItem, inputQueueCapacity),
	}
}

// State returns the current negotiation state.
func (o *Orchestrator) State() session.NegotiationState { return o.fsm.State() }

// Stats returns a snapshot of the rolling stream statistics.
func (o *Orchestrator) Stats() session.Snapshot { return o.stats.Snapshot(time.Now()) }

// SubmitInputEvent is how C8 (or a test) hands a captured input event to the
// orchestrator for encoding and channel-tiered dispatch.
func (o *Orchestrator) SubmitInputEvent(ev inputwire.Event) {
	select {
	case o.inputEvents <- ev:
	default:
		o.log.Warn("input event queue full, dropping event")
	}
}

// isMouseClass reports whether ev belongs to the mouse event class, which is
// routed exclusively to the partially-reliable channel (§9 Open Question:
// no fallback to the reliable channel).
func isMouseClass(t inputwire.EventType) bool {
	switch t {
	case inputwire.EventMouseAbs, inputwire.EventMouseRel,
		inputwire.EventMouseButtonDown, inputwire.EventMouseButtonUp,
		inputwire.EventMouseWheel:
		return true
	default:
		return false
	}
}

// Run drives the negotiation sequence and then the steady-state streaming
// loop until ctx is canceled or a terminal failure occurs.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.fsm.Transition(session.Signaling); err != nil {
		return err
	}
	dialParams := signaling.DialParams{
		SessionID:   o.handle.SessionID,
		BearerToken: o.handle.BearerToken,
	}
	if err := o.signalClient.Connect(ctx, dialParams); err != nil {
		o.fsm.Fail(session.FailSignalingLost)
		return fmt.Errorf("orchestrator: connect signaling: %w", err)
	}
	defer o.signalClient.Close()

	statsTicker := time.NewTicker(time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.drain()
			return ctx.Err()

		case ev, ok := <-o.signalClient.Events():
			if !ok {
				return nil
			}
			if err := o.handleSignalingEvent(ctx, ev); err != nil {
				o.log.Error("orchestrator: signaling event handling failed", "err", err)
				o.fsm.Fail(session.FailNegotiation)
				o.drain()
				return err
			}

		case pev, ok := <-o.peerEventsChannel():
			if !ok {
				continue
			}
			if err := o.handlePeerEvent(pev); err != nil {
				o.log.Error("orchestrator: peer event handling failed", "err", err)
				o.drain()
				return err
			}

		case rtp, ok := <-o.rtpChannel():
			if !ok {
				continue
			}
			o.handleRTP(rtp)

		case stat, ok := <-o.decodeStatsChannel():
			if !ok {
				continue
			}
			o.handleDecodeStat(stat)

		case item, ok := <-o.dispatch:
			if !ok {
				continue
			}
			o.sendDispatchItem(item)

		case ev, ok := <-o.inputEvents:
			if !ok {
				continue
			}
			o.encodeAndQueue(ev)

		case <-statsTicker.C:
			o.pollStats()
		}
	}
}

// handleSignalingEvent implements the §4.10 pseudocode's on-OfferReceived
// and on-RemoteCandidate branches.
func (o *Orchestrator) handleSignalingEvent(ctx context.Context, ev signaling.Event) error {
	switch ev.Kind {
	case signaling.Connected:
		o.log.Info("signaling connected")
		return nil

	case signaling.OfferReceived:
		if err := o.fsm.Transition(session.OfferReceived); err != nil {
			return err
		}
		transformed := sdpx.FixServerIP(ev.SDP, o.handle.ServerHost)
		transformed, err := sdpx.PreferCodec(transformed, o.cfg.CodecPreference)
		if err != nil {
			return fmt.Errorf("prefer codec: %w", err)
		}

		ps, err := peer.NewSession(o.log, o.handle.ICEServers, transformed)
		if err != nil {
			return fmt.Errorf("new peer session: %w", err)
		}
		o.peerSession = ps
		if err := ps.SetupDataChannels(); err != nil {
			return fmt.Errorf("setup data channels: %w", err)
		}
		ps.OnProtocolVersion(func(version uint8) {
			o.encoder = inputwire.NewEncoder(version)
			if err := o.fsm.Transition(session.InputHandshake); err != nil {
				o.log.Warn("fsm: input handshake transition", "err", err)
			}
			if err := o.fsm.Transition(session.Streaming); err != nil {
				o.log.Warn("fsm: streaming transition", "err", err)
			}
		})

		if err := o.wireMediaPipeline(); err != nil {
			return fmt.Errorf("wire media pipeline: %w", err)
		}

		answerSDP, err := ps.HandleOffer(ctx, transformed)
		if err != nil {
			return fmt.Errorf("handle offer: %w", err)
		}
		if sdpx.IsICELite(transformed) {
			answerSDP = sdpx.FixDTLSSetupForICELite(answerSDP)
		}

		if err := o.fsm.Transition(session.AnswerSent); err != nil {
			return err
		}
		sideband := sdpx.SynthesizeSideband(answerSDP, o.handle.Width, o.handle.Height, int(o.cfg.TargetFPS), o.handle.MaxBitrateKbps)
		if err := o.signalClient.SendAnswer(answerSDP, sideband.String()); err != nil {
			return fmt.Errorf("send answer: %w", err)
		}

		if o.handle.MediaHint != nil {
			cand := signaling.Candidate{
				Candidate: synthesizeHostCandidate(o.handle.MediaHint.IP, o.handle.MediaHint.Port),
			}
			if err := ps.AddICECandidate(candidateJSON(cand)); err != nil {
				o.log.Warn("failed to add media-hint candidate", "err", err)
			}
		}
		return o.fsm.Transition(session.IceChecking)

	case signaling.RemoteCandidate:
		if o.peerSession == nil {
			return nil
		}
		return o.peerSession.AddICECandidate(candidateJSON(ev.Candidate))

	case signaling.Disconnected:
		return o.fsm.Fail(session.FailSignalingLost)

	case signaling.Error:
		return o.fsm.Fail(session.FailSignalingLost)
	}
	return nil
}

// wireMediaPipeline builds the depacketizer, decode worker, audio pipeline,
// and presenter for the negotiated codec preference. Backend selection
// failures are non-fatal here; the decoder falls back through its own
// candidate chain and only the final software failure is fatal.
func (o *Orchestrator) wireMediaPipeline() error {
	codec := resolveCodec(o.cfg.CodecPreference)
	o.depacket = rtpdepacket.New(codec)

	backend, err := decoder.SelectBackend(runtime.GOOS, codec, decoder.DefaultProbe, o.cfg.IntelRuntimePresent)
	if err != nil {
		return fmt.Errorf("select decode backend: %w", err)
	}
	worker, err := decoder.NewWorker(o.log, codec, backend.Element, o.shared, func() {
		if o.peerSession != nil {
			o.peerSession.RequestKeyframe()
		}
	})
	if err != nil {
		return fmt.Errorf("new decode worker: %w", err)
	}
	o.decodeWorker = worker
	go func() {
		if err := worker.Run(); err != nil {
			o.log.Error("decode worker stopped", "err", err)
		}
	}()

	outputRate := o.cfg.AudioOutputRate
	if outputRate == 0 {
		outputRate = audio.SampleRate
	}
	audioPipe, err := audio.NewPipeline(o.log, outputRate, nil)
	if err != nil {
		return fmt.Errorf("new audio pipeline: %w", err)
	}
	o.audioPipe = audioPipe
	audioCtx, cancel := context.WithCancel(context.Background())
	o.audioCancel = cancel
	if err := o.audioPipe.Start(audioCtx); err != nil {
		o.log.Warn("audio pipeline failed to start", "err", err)
	}

	o.presenter = render.NewPresenter(o.log, "streamcore", o.cfg.Width, o.cfg.Height)
	o.presenter.SetStatsHUD(o.cfg.ShowStatsHUD)

	renderCtx, renderCancel := context.WithCancel(context.Background())
	o.renderCancel = renderCancel
	go o.runRenderLoop(renderCtx)

	return nil
}

// runRenderLoop pulls the most recent decoded frame on its own cadence
// (present-time, not decoder-time): the SharedFrame mailbox is lossy by
// design, so a frame the decoder produces between ticks and overwrites
// before the next tick is correctly dropped rather than queued (§5).
func (o *Orchestrator) runRenderLoop(ctx context.Context) {
	fps := o.cfg.TargetFPS
	if fps < 1 {
		fps = 1
	}
	interval := time.Duration(float64(time.Second) / fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeen uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, gen, ok := o.shared.ConsumeIfNewer(lastSeen)
			if !ok {
				continue
			}
			lastSeen = gen
			status, err := o.presenter.Present(f, o.statsHUDText())
			if err != nil {
				o.log.Warn("present failed", "err", err)
				continue
			}
			o.stats.RecordFrameRendered()
			if status != render.SwapchainOK {
				decision := o.presenter.RecoverFromStatus(status, o.cfg.Width, o.cfg.Height)
				if decision == render.DecisionForceReconfigure {
					o.presenter.Reconfigure(o.cfg.Width, o.cfg.Height)
				}
			}
		}
	}
}

func (o *Orchestrator) statsHUDText() string {
	if !o.cfg.ShowStatsHUD {
		return ""
	}
	snap := o.stats.Snapshot(time.Now())
	return fmt.Sprintf("decoded=%d rendered=%d dropped=%d rtt=%s",
		snap.FramesDecoded, snap.FramesRendered, snap.FramesDropped, snap.LastRTT)
}

func resolveCodec(preference string) rtpdepacket.Codec {
	switch preference {
	case "h265":
		return rtpdepacket.CodecH265
	case "av1":
		return rtpdepacket.CodecAV1
	default:
		return rtpdepacket.CodecH264
	}
}

func (o *Orchestrator) peerEventsChannel() <-chan peer.Event {
	if o.peerSession == nil {
		return nil
	}
	return o.peerSession.Events()
}

// handlePeerEvent drives the negotiation FSM from the underlying
// peer-connection's own lifecycle (§3/§7): ICE-connected plus DTLS-complete
// collapses to a single pion "Connected" callback, so it is expanded into
// the two intermediate FSM states here; a failed or closed peer connection
// fails the session with FailIce rather than leaving it unobserved.
func (o *Orchestrator) handlePeerEvent(ev peer.Event) error {
	switch ev.State {
	case peer.StateConnected:
		if err := o.fsm.Transition(session.DtlsHandshaking); err != nil {
			return err
		}
		return o.fsm.Transition(session.Connected)

	case peer.StateFailed:
		return o.fsm.Fail(session.FailIce)
	}
	return nil
}

func (o *Orchestrator) decodeStatsChannel() <-chan decoder.DecodeStat {
	if o.decodeWorker == nil {
		return nil
	}
	return o.decodeWorker.Stats()
}

func (o *Orchestrator) handleRTP(pkt peer.RTPPacket) {
	if pkt.Kind == "audio" {
		if o.audioPipe != nil {
			if err := o.audioPipe.PushOpusPacket(pkt.Payload, uint64(pkt.Timestamp)); err != nil {
				o.log.Warn("audio push failed", "err", err)
			}
		}
		return
	}
	if o.depacket == nil {
		return
	}
	au, err := o.depacket.Push(pkt.Payload, pkt.Marker, pkt.Timestamp, time.Now())
	if err != nil {
		o.log.Warn("depacketize error", "err", err)
		return
	}
	if au == nil {
		return
	}
	o.stats.RecordFrameReceived(len(au.Data))
	if o.decodeWorker != nil {
		o.decodeWorker.DecodeAsync(au)
	}
}

// handleDecodeStat routes a decode worker's escalation decision (§8
// scenario 6: PLI at the 10th consecutive non-output, then every 20th
// thereafter, decided by shouldRequestKeyframe in internal/decoder) to the
// peer session's keyframe request, per the C5->C10->C3 routing rule in §9.
func (o *Orchestrator) handleDecodeStat(stat decoder.DecodeStat) {
	if stat.NeedsKeyframe && o.peerSession != nil {
		o.peerSession.RequestKeyframe()
	}
}

// encodeAndQueue implements the channel-selection policy (§4.9/§9): mouse
// events go on the partially-reliable channel, everything else on the
// reliable channel.
func (o *Orchestrator) encodeAndQueue(ev inputwire.Event) {
	if o.encoder == nil {
		return
	}
	data := o.encoder.Encode(ev)
	item := dispatchItem{
		bytes:         data,
		isMouseClass:  isMouseClass(ev.Type),
		creationAgeUs: nowMicros() - ev.TimestampUs,
	}
	select {
	case o.dispatch <- item:
	default:
		if !item.isMouseClass {
			o.log.Warn("input dispatch queue full, dropping non-mouse event")
		}
	}
}

func (o *Orchestrator) sendDispatchItem(item dispatchItem) {
	if o.peerSession == nil {
		return
	}
	o.stats.RecordInputEvent(item.creationAgeUs)
	var err error
	if item.isMouseClass {
		err = o.peerSession.SendUnreliable(item.bytes)
	} else {
		err = o.peerSession.SendReliable(item.bytes)
	}
	if err != nil {
		o.log.Warn("input send failed", "mouseClass", item.isMouseClass, "err", err)
	}
}

func (o *Orchestrator) pollStats() {
	if o.peerSession == nil {
		return
	}
	if pair, ok := o.peerSession.PollPairStats(); ok {
		o.stats.RecordRTT(pair.RoundTrip)
	}
}

// drain implements the stop/error path: stop accepting raw input, clear
// sinks, close the peer connection and signaling client.
func (o *Orchestrator) drain() {
	o.fsm.Transition(session.Draining)
	if o.stopInput != nil {
		o.stopInput()
	}
	deadline := time.NewTimer(rawInputStopTimeout)
	defer deadline.Stop()
	<-deadline.C

	if o.decodeWorker != nil {
		o.decodeWorker.Stop()
	}
	if o.renderCancel != nil {
		o.renderCancel()
	}
	if o.audioCancel != nil {
		o.audioCancel()
	}
	if o.audioPipe != nil {
		o.audioPipe.Stop()
	}
	if o.presenter != nil {
		o.presenter.Close()
	}
	if o.peerSession != nil {
		o.peerSession.Close()
	}
	o.signalClient.Close()
}

func nowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

func synthesizeHostCandidate(ip string, port int) string {
	return fmt.Sprintf("candidate:1 1 udp 2130706431 %s %d typ host", ip, port)
}

func candidateJSON(c signaling.Candidate) string {
	return fmt.Sprintf(`{"candidate":%q,"sdpMid":%q,"sdpMLineIndex":%d}`, c.Candidate, c.SDPMid, c.SDPMLineIndex)
}
