//go:build !darwin && !windows

package decoder

import (
	"github.com/go-gst/go-gst/gst"

	"github.com/zalo/streamcore/internal/frame"
)

// tryZeroCopyImport is a no-op on platforms with no zero-copy texture path
// defined; every frame takes the host-memory route.
func tryZeroCopyImport(sample *gst.Sample) (*frame.GPUHandle, bool) {
	return nil, false
}
