package audio

import "testing"

func TestLinearResampler_PassthroughWhenRatesEqual(t *testing.T) {
	r := NewLinearResampler(48000, 48000)
	in := []int16{1, 2, 3, 4}
	out := r.Resample(in)
	if len(out) != len(in) {
		t.Fatalf("expected passthrough length %d, got %d", len(in), len(out))
	}
}

func TestLinearResampler_DownsampleProducesFewerFrames(t *testing.T) {
	r := NewLinearResampler(48000, 24000)
	in := make([]int16, 48000/100*Channels) // 10ms at 48kHz
	for i := range in {
		in[i] = int16(i % 100)
	}
	out := r.Resample(in)
	gotFrames := len(out) / Channels
	wantFrames := len(in) / Channels / 2
	if gotFrames < wantFrames-2 || gotFrames > wantFrames+2 {
		t.Fatalf("expected roughly %d frames downsampled, got %d", wantFrames, gotFrames)
	}
}

func TestLinearResampler_PhasePreservedAcrossCalls(t *testing.T) {
	r := NewLinearResampler(48000, 44100)
	in := make([]int16, 480*Channels)
	var total int
	for i := 0; i < 10; i++ {
		out := r.Resample(in)
		total += len(out) / Channels
	}
	// 10 buffers of 10ms at 48kHz resampled to 44.1kHz should total close to
	// 100ms worth of 44.1kHz frames (4410), not drift wildly from rounding.
	if total < 4000 || total > 4800 {
		t.Fatalf("expected phase-preserved total near 4410 frames, got %d", total)
	}
}
