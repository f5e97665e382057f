//go:build windows

package decoder

import (
	"github.com/go-gst/go-gst/gst"

	"github.com/zalo/streamcore/internal/frame"
)

// tryZeroCopyImport would wrap the decoded D3D11 texture array slice with a
// lazily-created shared NT handle. Left as a structural stub: no D3D11
// interop binding exists anywhere in the pack to ground a working
// implementation against, so the host-memory fallback always runs here.
func tryZeroCopyImport(sample *gst.Sample) (*frame.GPUHandle, bool) {
	return nil, false
}
