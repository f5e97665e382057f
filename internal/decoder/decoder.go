// Package decoder runs the dedicated video decode worker: backend
// selection, per-packet decode, zero-copy handoff where available, and the
// keyframe-request escalation on decoder stall.
package decoder

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/zalo/streamcore/internal/frame"
	"github.com/zalo/streamcore/internal/rtpdepacket"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() { gst.Init(nil) })
}

// DecodeStat is emitted after every decode attempt.
type DecodeStat struct {
	DecodeTimeMs  float64
	FrameProduced bool
	NeedsKeyframe bool
}

// nonOutputKeyframeThreshold is the first consecutive-non-output count that
// triggers a keyframe request; Every subsequent multiple of
// nonOutputRepeatEvery triggers another, until recovery.
const (
	nonOutputKeyframeThreshold = 10
	nonOutputRepeatEvery       = 20
)

// backendCandidate is one decode element to try, in priority order; the
// first whose GStreamer factory is actually registered on this host wins.
type backendCandidate struct {
	name    string // human-readable, for logging
	element string // GStreamer element factory name
}

// backendCandidates returns the ordered fallback chain for a codec on a
// platform, per the construction-time backend selection rule.
func backendCandidates(platform string, codec rtpdepacket.Codec) []backendCandidate {
	elem := func(suffix string) string {
		switch codec {
		case rtpdepacket.CodecH264:
			return suffix + "h264dec"
		case rtpdepacket.CodecH265:
			return suffix + "h265dec"
		default:
			return suffix + "av1dec"
		}
	}
	swElem := func() string {
		switch codec {
		case rtpdepacket.CodecH264:
			return "avdec_h264"
		case rtpdepacket.CodecH265:
			return "avdec_h265"
		default:
			return "dav1ddec"
		}
	}

	switch platform {
	case "darwin":
		return []backendCandidate{
			{"vtdec-hardware", "vtdec_hw"},
			{"software", swElem()},
		}
	case "windows":
		return []backendCandidate{
			{"nvidia-cuvid", "nv" + elem("")},
			{"intel-qsv", "qsv" + elem("")},
			{"d3d11-hwaccel", "d3d11" + elem("")},
			{"dxva2", "dxva" + elem("")},
			{"software", swElem()},
		}
	default: // linux and anything else
		return []backendCandidate{
			{"nvidia-cuvid", "nv" + elem("")},
			{"vaapi", "vaapi" + elem("")},
			{"intel-qsv", "qsv" + elem("")},
			{"software", swElem()},
		}
	}
}

// ProbeFunc reports whether a named GStreamer element factory is available
// on this host. Overridable in tests.
type ProbeFunc func(element string) bool

func defaultProbe(element string) bool {
	initGStreamer()
	return gst.Find(element) != nil
}

// DefaultProbe probes the host's real GStreamer registry; callers outside
// tests pass this to SelectBackend.
var DefaultProbe ProbeFunc = defaultProbe

// SelectBackend returns the first candidate in the platform's fallback
// chain whose element factory is actually present, intel QSV additionally
// gated by the caller's runtime-presence check (cached; the spec calls out
// that Intel is only viable "if the runtime libraries are actually present
// on disk").
func SelectBackend(platform string, codec rtpdepacket.Codec, probe ProbeFunc, intelRuntimePresent bool) (backendCandidate, error) {
	for _, c := range backendCandidates(platform, codec) {
		if c.name == "intel-qsv" && !intelRuntimePresent {
			continue
		}
		if probe(c.element) {
			return c, nil
		}
	}
	return backendCandidate{}, fmt.Errorf("decoder: no backend available for codec %v on %s", codec, platform)
}

// KeyframeRequester asks the peer connection to request a new keyframe
// (PLI) from the host.
type KeyframeRequester func()

// Worker owns the dedicated decode thread: command intake, backend
// pipeline, and the SharedFrame handoff to the renderer.
type Worker struct {
	log    *slog.Logger
	codec  rtpdepacket.Codec
	shared *frame.SharedFrame
	stats  chan DecodeStat

	requestKeyframe KeyframeRequester
	nonOutputCount  int

	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink

	cmds    chan command
	running atomic.Bool
	stopOnce sync.Once
}

type command struct {
	au   *rtpdepacket.AccessUnit
	stop bool
}

// NewWorker constructs (but does not start) a decode worker for the given
// backend element.
func NewWorker(log *slog.Logger, codec rtpdepacket.Codec, backendElement string, shared *frame.SharedFrame, requestKeyframe KeyframeRequester) (*Worker, error) {
	initGStreamer()
	// The caps filter accepts either of the two layouts SharedFrame
	// understands (§4.5): NV12 passes through untouched when that's the
	// backend's native output; anything else is scaled by videoconvert into
	// planar I420 (YUV420P) rather than forced into NV12.
	desc := fmt.Sprintf(
		"appsrc name=vidsrc format=time is-live=true ! %s ! videoconvert ! video/x-raw,format=(string){NV12,I420} ! appsink name=vidsink",
		backendElement,
	)
	pipe, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("decoder: parse pipeline: %w", err)
	}
	srcElem, err := pipe.GetElementByName("vidsrc")
	if err != nil {
		pipe.SetState(gst.StateNull)
		return nil, fmt.Errorf("decoder: missing appsrc: %w", err)
	}
	sinkElem, err := pipe.GetElementByName("vidsink")
	if err != nil {
		pipe.SetState(gst.StateNull)
		return nil, fmt.Errorf("decoder: missing appsink: %w", err)
	}

	w := &Worker{
		log:             log,
		codec:           codec,
		shared:          shared,
		stats:           make(chan DecodeStat, 32),
		requestKeyframe: requestKeyframe,
		pipeline:        pipe,
		appsrc:          app.SrcFromElement(srcElem),
		appsink:         app.SinkFromElement(sinkElem),
		cmds:            make(chan command, 64),
	}
	return w, nil
}

// Stats returns the decode-stat stream.
func (w *Worker) Stats() <-chan DecodeStat { return w.stats }

// Run drives the worker loop on the calling goroutine; callers should start
// it on its own dedicated goroutine.
func (w *Worker) Run() error {
	w.appsink.SetProperty("emit-signals", true)
	w.appsink.SetProperty("sync", false)
	w.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: w.onNewSample,
	})
	if err := w.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("decoder: set playing: %w", err)
	}
	w.running.Store(true)

	for cmd := range w.cmds {
		if cmd.stop {
			break
		}
		w.decodeOne(cmd.au)
	}
	w.Stop()
	return nil
}

// DecodeAsync enqueues one Access Unit for decode.
func (w *Worker) DecodeAsync(au *rtpdepacket.AccessUnit) {
	select {
	case w.cmds <- command{au: au}:
	default:
		w.log.Warn("decoder command queue full, dropping access unit")
	}
}

// Stop requests the worker to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.running.Store(false)
		if w.pipeline != nil {
			w.pipeline.SetState(gst.StateNull)
		}
	})
}

// RequestStop enqueues a Stop command through the normal channel, letting
// in-flight decodes drain first.
func (w *Worker) RequestStop() {
	select {
	case w.cmds <- command{stop: true}:
	default:
	}
}

// decodeOne ships one Access Unit into the pipeline. Per-frame decode time
// is attributed in onNewSample when the corresponding output actually
// emerges, since "need more data" pushes produce no immediate output.
func (w *Worker) decodeOne(au *rtpdepacket.AccessUnit) {
	buf := gst.NewBufferFromBytes(au.Data)
	if ret := w.appsrc.PushBuffer(buf); ret != gst.FlowOK {
		w.log.Warn("decoder push returned non-OK flow", "flow", ret)
	}
}

func (w *Worker) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !w.running.Load() {
		return gst.FlowEOS
	}
	start := time.Now()
	sample := sink.PullSample()
	if sample == nil {
		w.recordNonOutput(start)
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		w.recordNonOutput(start)
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		w.recordNonOutput(start)
		return gst.FlowOK
	}
	defer buffer.Unmap()

	df := w.toDecodedFrame(sample, mapInfo.Bytes())
	if df == nil {
		w.recordNonOutput(start)
		return gst.FlowOK
	}

	w.shared.Store(df)
	w.nonOutputCount = 0
	w.emitStat(DecodeStat{DecodeTimeMs: time.Since(start).Seconds() * 1000, FrameProduced: true})
	return gst.FlowOK
}

func (w *Worker) recordNonOutput(start time.Time) {
	w.nonOutputCount++
	needsKeyframe := shouldRequestKeyframe(w.nonOutputCount)
	if needsKeyframe && w.requestKeyframe != nil {
		w.requestKeyframe()
	}
	w.emitStat(DecodeStat{DecodeTimeMs: time.Since(start).Seconds() * 1000, FrameProduced: false, NeedsKeyframe: needsKeyframe})
}

// shouldRequestKeyframe implements the 10-then-every-20 escalation: the
// first keyframe request fires at the 10th consecutive non-output, then
// again every 20 further consecutive non-outputs until recovery.
func shouldRequestKeyframe(consecutiveNonOutputs int) bool {
	if consecutiveNonOutputs == nonOutputKeyframeThreshold {
		return true
	}
	if consecutiveNonOutputs > nonOutputKeyframeThreshold &&
		(consecutiveNonOutputs-nonOutputKeyframeThreshold)%nonOutputRepeatEvery == 0 {
		return true
	}
	return false
}

func (w *Worker) emitStat(s DecodeStat) {
	select {
	case w.stats <- s:
	default:
	}
}

// toDecodedFrame extracts pixel data out of the negotiated caps, which name
// either NV12 or I420 (§4.5): NV12 is emitted directly when that's the
// backend's native output, otherwise the planar I420 (YUV420P) layout
// videoconvert scaled into is emitted instead. A zero-copy GPU handle is
// attempted first via the platform hook; on platforms (or builds) with no
// such path, the host-memory fallback below always runs.
func (w *Worker) toDecodedFrame(sample *gst.Sample, raw []byte) *frame.DecodedFrame {
	caps := sample.GetCaps()
	if caps == nil {
		return nil
	}
	capsStr := caps.String()
	width, height, ok := parseVideoDimensions(capsStr)
	if !ok || width == 0 || height == 0 {
		return nil
	}
	format, _ := parseVideoFormat(capsStr)
	layout := frame.YUV420P
	if format == "NV12" {
		layout = frame.NV12
	}

	if gpu, ok := tryZeroCopyImport(sample); ok {
		return &frame.DecodedFrame{
			Width: width, Height: height,
			Layout: layout,
			Range:  frame.RangeLimited,
			GPU:    gpu,
		}
	}

	if layout == frame.NV12 {
		yLen := width * height
		uvLen := width * height / 2
		if len(raw) < yLen+uvLen {
			return nil
		}
		return &frame.DecodedFrame{
			Width: width, Height: height,
			Layout:   frame.NV12,
			Range:    frame.RangeLimited,
			Y:        append([]byte(nil), raw[:yLen]...),
			YStride:  width,
			UV:       append([]byte(nil), raw[yLen:yLen+uvLen]...),
			UVStride: width,
		}
	}

	yLen := width * height
	cW, cH := (width+1)/2, (height+1)/2
	cLen := cW * cH
	if len(raw) < yLen+2*cLen {
		return nil
	}
	return &frame.DecodedFrame{
		Width: width, Height: height,
		Layout:  frame.YUV420P,
		Range:   frame.RangeLimited,
		Y:       append([]byte(nil), raw[:yLen]...),
		YStride: width,
		U:       append([]byte(nil), raw[yLen:yLen+cLen]...),
		UStride: cW,
		V:       append([]byte(nil), raw[yLen+cLen:yLen+2*cLen]...),
		VStride: cW,
	}
}
