// Package frame defines the decoded-picture representation handed from the
// video decoder worker to the presenter, and the single-slot mailbox that
// connects them.
package frame

import "sync"

// PixelLayout is the planar/packed arrangement of a Decoded Frame.
type PixelLayout int

const (
	YUV420P PixelLayout = iota
	NV12
)

// ColorRange distinguishes limited (studio) from full-range YCbCr.
type ColorRange int

const (
	RangeLimited ColorRange = iota
	RangeFull
)

// GPUPlatform tags which zero-copy texture representation a GPUHandle
// carries, if any.
type GPUPlatform int

const (
	GPUPlatformNone GPUPlatform = iota
	GPUPlatformMacOS
	GPUPlatformWindows
)

// GPUHandle is the platform-tagged zero-copy texture reference. Only one of
// the platform-specific fields is meaningful, selected by Platform.
type GPUHandle struct {
	Platform GPUPlatform

	// macOS: opaque reference to a CVPixelBuffer, reference-counted for the
	// duration of rendering. Released when the frame is dropped.
	CVPixelBuffer any

	// Windows: a shared NT handle to a D3D11 texture array slice, plus the
	// index of the plane within it.
	D3D11SharedHandle uintptr
	D3D11ArrayIndex   int
}

// DecodedFrame is one decoded picture. On platforms with a zero-copy path,
// GPU is set and the plane byte slices are empty; otherwise the pixel bytes
// are owned here.
type DecodedFrame struct {
	Width, Height int
	Layout        PixelLayout
	Range         ColorRange

	Y, U, V             []byte
	YStride             int
	UStride, VStride    int
	UV                  []byte // NV12 interleaved plane
	UVStride            int

	GPU *GPUHandle
}

// SharedFrame is the single-slot, lossy, strictly-monotonic mailbox handed
// off between the decoder thread (writer) and the render thread (reader).
// An overwritten frame is simply dropped; readers never see an older frame
// replace a newer one because Generation only increases.
type SharedFrame struct {
	mu         sync.Mutex
	frame      *DecodedFrame
	generation uint64
}

// Store overwrites the held frame unconditionally and bumps the generation.
func (s *SharedFrame) Store(f *DecodedFrame) {
	s.mu.Lock()
	s.frame = f
	s.generation++
	s.mu.Unlock()
}

// Load returns the most recently stored frame and its generation.
func (s *SharedFrame) Load() (*DecodedFrame, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.generation
}

// ConsumeIfNewer returns the held frame only if its generation is greater
// than lastSeen, so a render loop polling faster than the decoder produces
// never re-renders or regresses to a stale frame.
func (s *SharedFrame) ConsumeIfNewer(lastSeen uint64) (*DecodedFrame, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation <= lastSeen || s.frame == nil {
		return nil, s.generation, false
	}
	return s.frame, s.generation, true
}
