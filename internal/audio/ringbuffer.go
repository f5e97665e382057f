// Package audio implements the Opus decode, ring-buffered playback, and
// resampling pipeline that runs independently of the video path.
package audio

import "sync/atomic"

// SampleRate is the fixed decode-side output rate (48 kHz stereo PCM16).
const SampleRate = 48000

// Channels is the number of interleaved channels produced by the decoder.
const Channels = 2

// RingCapacityMs is the ring buffer's target capacity in milliseconds.
const RingCapacityMs = 150

// RingBuffer is a single-producer single-consumer lock-free ring of
// interleaved int16 samples. The decode thread writes, the device callback
// thread reads; overruns drop the newest samples, underruns yield silence.
type RingBuffer struct {
	buf        []int16
	writeIdx   atomic.Uint64
	readIdx    atomic.Uint64
}

// NewRingBuffer allocates a ring sized for RingCapacityMs at SampleRate.
func NewRingBuffer() *RingBuffer {
	capacitySamples := SampleRate * RingCapacityMs / 1000 * Channels
	return &RingBuffer{buf: make([]int16, capacitySamples)}
}

// Write appends interleaved samples, dropping the newest (the incoming
// tail) if the ring would overrun — the decoder is not allowed to block the
// device callback.
func (r *RingBuffer) Write(samples []int16) (written int) {
	cap := len(r.buf)
	w := r.writeIdx.Load()
	rd := r.readIdx.Load()
	free := uint64(cap) - (w - rd)
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(w+i)%uint64(cap)] = samples[i]
	}
	r.writeIdx.Store(w + n)
	return int(n)
}

// Read fills dst with available samples, zero-filling (silence) any
// shortfall on underrun.
func (r *RingBuffer) Read(dst []int16) (read int) {
	cap := len(r.buf)
	rd := r.readIdx.Load()
	w := r.writeIdx.Load()
	avail := w - rd
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buf[(rd+i)%uint64(cap)]
	}
	for i := n; i < uint64(len(dst)); i++ {
		dst[i] = 0
	}
	r.readIdx.Store(rd + n)
	return int(n)
}

// Available reports how many samples are queued for reading.
func (r *RingBuffer) Available() int {
	return int(r.writeIdx.Load() - r.readIdx.Load())
}
