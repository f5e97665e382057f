package audio

// LinearResampler converts interleaved stereo PCM16 from SampleRate to an
// arbitrary device output rate using linear interpolation, carrying its
// fractional playback phase across calls so successive buffers splice
// without a click at the boundary.
type LinearResampler struct {
	inRate, outRate int
	phase           float64 // fractional position into the input stream, in input samples
	prevL, prevR    int16   // last input frame, for interpolating across buffer boundaries
	primed          bool
}

// NewLinearResampler constructs a resampler from inRate to outRate.
func NewLinearResampler(inRate, outRate int) *LinearResampler {
	return &LinearResampler{inRate: inRate, outRate: outRate}
}

// SetOutputRate updates the target rate, e.g. after a device change. The
// phase is preserved so playback does not skip.
func (r *LinearResampler) SetOutputRate(outRate int) {
	r.outRate = outRate
}

// Resample converts interleaved stereo input to interleaved stereo output
// at r.outRate, returning the produced samples.
func (r *LinearResampler) Resample(in []int16) []int16 {
	if r.outRate == r.inRate {
		return append([]int16(nil), in...)
	}
	frames := len(in) / Channels
	if frames == 0 {
		return nil
	}
	ratio := float64(r.inRate) / float64(r.outRate)
	var out []int16

	frameAt := func(i int) (int16, int16) {
		if i < 0 {
			return r.prevL, r.prevR
		}
		return in[i*Channels], in[i*Channels+1]
	}

	for {
		idx := int(r.phase)
		if idx >= frames-1 {
			break
		}
		frac := r.phase - float64(idx)
		l0, r0 := frameAt(idx)
		l1, r1 := frameAt(idx + 1)
		l := lerp(l0, l1, frac)
		rr := lerp(r0, r1, frac)
		out = append(out, l, rr)
		r.phase += ratio
	}
	r.phase -= float64(frames - 1)
	if r.phase < 0 {
		r.phase = 0
	}
	r.prevL, r.prevR = in[(frames-1)*Channels], in[(frames-1)*Channels+1]
	r.primed = true
	return out
}

func lerp(a, b int16, frac float64) int16 {
	return int16(float64(a) + (float64(b)-float64(a))*frac)
}
