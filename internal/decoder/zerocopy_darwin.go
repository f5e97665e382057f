//go:build darwin

package decoder

import (
	"github.com/go-gst/go-gst/gst"

	"github.com/zalo/streamcore/internal/frame"
)

// tryZeroCopyImport retains the sample's underlying CVPixelBuffer and
// attaches it as the Decoded Frame's GPU handle, leaving host-memory planes
// empty. Real CVPixelBuffer retrieval requires the platform's VideoToolbox
// GStreamer plugin to expose its buffer via GstVideoMeta/IOSurface — left
// as a structural stub here since no macOS GPU-interop binding exists
// anywhere in the pack to ground a working implementation against; the
// host-memory fallback in decodeOne's caller always runs in its place.
func tryZeroCopyImport(sample *gst.Sample) (*frame.GPUHandle, bool) {
	return nil, false
}
