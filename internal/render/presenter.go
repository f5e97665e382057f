// Package render owns the window, presentation surface, and the fallback
// CPU-upload path for frames with no zero-copy GPU handle.
package render

import (
	"image"
	"image/color"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/zalo/streamcore/internal/frame"
)

// outdatedReconfigureThreshold is the consecutive-outdated-at-matching-size
// count that forces a swapchain reconfiguration (§4.7.5).
const outdatedReconfigureThreshold = 10

// SwapchainStatus mirrors the three outcomes a present call can report.
type SwapchainStatus int

const (
	SwapchainOK SwapchainStatus = iota
	SwapchainOutdated
	SwapchainLost
)

// PresentDecision is what the presenter should do in response to one
// Outdated/Lost status, given the current and configured window sizes.
type PresentDecision int

const (
	DecisionRetryOnce PresentDecision = iota
	DecisionYieldFrame
	DecisionForceReconfigure
)

// SwapchainRecovery tracks consecutive Outdated events at a matching window
// size, implementing the 10-consecutive-frame escalation so a transient
// fullscreen-transition resize report doesn't pin the compositor to a
// stale refresh rate.
type SwapchainRecovery struct {
	consecutiveOutdated int
}

// Decide resolves one swapchain error into a decision.
func (s *SwapchainRecovery) Decide(status SwapchainStatus, currentW, currentH, configuredW, configuredH int) PresentDecision {
	if status == SwapchainOK {
		s.consecutiveOutdated = 0
		return DecisionRetryOnce // no-op path, caller ignores when status is OK
	}
	if currentW != configuredW || currentH != configuredH {
		s.consecutiveOutdated = 0
		return DecisionRetryOnce
	}
	s.consecutiveOutdated++
	if s.consecutiveOutdated >= outdatedReconfigureThreshold {
		s.consecutiveOutdated = 0
		return DecisionForceReconfigure
	}
	return DecisionYieldFrame
}

// VideoMode is one candidate fullscreen mode.
type VideoMode struct {
	Width, Height int
	RefreshHz     float64
}

// SelectFullscreenMode picks, among modes matching the target resolution,
// the one whose refresh rate is closest to (and at least) targetFPS. If no
// mode meets or exceeds targetFPS, the highest available refresh rate at
// that resolution is used.
func SelectFullscreenMode(modes []VideoMode, width, height int, targetFPS float64) (VideoMode, bool) {
	var best VideoMode
	found := false
	var fallback VideoMode
	fallbackFound := false

	for _, m := range modes {
		if m.Width != width || m.Height != height {
			continue
		}
		if m.RefreshHz >= targetFPS {
			if !found || m.RefreshHz < best.RefreshHz {
				best = m
				found = true
			}
		}
		if !fallbackFound || m.RefreshHz > fallback.RefreshHz {
			fallback = m
			fallbackFound = true
		}
	}
	if found {
		return best, true
	}
	return fallback, fallbackFound
}

// Presenter owns the fallback CPU-upload presentation path: a window and
// the Mats it reuses across frames. The zero-copy GPU paths are handled
// upstream of this type (platform compositor/texture code outside the
// pack's reach); this path is always exercised when a Decoded Frame carries
// no GPU handle.
type Presenter struct {
	log    *slog.Logger
	window *gocv.Window

	recovery     SwapchainRecovery
	configuredW  int
	configuredH  int
	showStatsHUD bool
}

// NewPresenter opens a window sized to (width, height).
func NewPresenter(log *slog.Logger, title string, width, height int) *Presenter {
	return &Presenter{
		log:         log,
		window:      gocv.NewWindow(title),
		configuredW: width,
		configuredH: height,
	}
}

// SetStatsHUD toggles the immediate-mode stats overlay.
func (p *Presenter) SetStatsHUD(enabled bool) { p.showStatsHUD = enabled }

// Present uploads a Decoded Frame's fallback host-memory planes (used only
// when f.GPU is nil) and draws the current frame. Returns the simulated
// swapchain status for this present call; gocv has no real swapchain, so
// SwapchainOK is always returned here — real backends plug their present
// result into RecoverFromStatus.
func (p *Presenter) Present(f *frame.DecodedFrame, stats string) (SwapchainStatus, error) {
	if f == nil {
		return SwapchainOK, nil
	}
	if f.GPU != nil {
		// Zero-copy path: handled by the platform compositor before reaching
		// here, nothing left for the CPU fallback to upload.
		return SwapchainOK, nil
	}

	rgb, err := yuvToRGBMat(f)
	if err != nil {
		return SwapchainOK, err
	}
	defer rgb.Close()

	if p.showStatsHUD && stats != "" {
		gocv.PutText(&rgb, stats, image.Pt(10, 24), gocv.FontHersheyPlain, 1.2,
			color.RGBA{R: 0, G: 255, B: 0, A: 255}, 2)
	}

	p.window.IMShow(rgb)
	p.window.WaitKey(1)
	return SwapchainOK, nil
}

// RecoverFromStatus applies the swapchain-error recovery policy for a
// present result reported by a real GPU backend.
func (p *Presenter) RecoverFromStatus(status SwapchainStatus, currentW, currentH int) PresentDecision {
	return p.recovery.Decide(status, currentW, currentH, p.configuredW, p.configuredH)
}

// Reconfigure updates the presenter's configured size, e.g. after a forced
// reconfiguration or an explicit resize.
func (p *Presenter) Reconfigure(width, height int) {
	p.configuredW, p.configuredH = width, height
}

// Close releases the window.
func (p *Presenter) Close() {
	p.window.Close()
}

// yuvToRGBMat converts a planar/packed Decoded Frame into a BGR gocv.Mat
// (gocv's native channel order) using the limited-range BT.709 matrix, the
// conversion required whenever no GPU handle is present.
func yuvToRGBMat(f *frame.DecodedFrame) (gocv.Mat, error) {
	out := make([]byte, f.Width*f.Height*3)
	switch f.Layout {
	case frame.NV12:
		convertNV12(f, out, BT709Limited)
	default:
		convertYUV420P(f, out, BT709Limited)
	}
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, out)
}

func convertNV12(f *frame.DecodedFrame, out []byte, m ColorMatrix) {
	for row := 0; row < f.Height; row++ {
		uvRow := row / 2
		for col := 0; col < f.Width; col++ {
			y := float64(f.Y[row*f.YStride+col]) / 255.0
			uvCol := (col / 2) * 2
			u := float64(f.UV[uvRow*f.UVStride+uvCol]) / 255.0
			v := float64(f.UV[uvRow*f.UVStride+uvCol+1]) / 255.0
			r, g, b := m.ConvertPixel(y, u, v)
			idx := (row*f.Width + col) * 3
			out[idx] = byte(b * 255)
			out[idx+1] = byte(g * 255)
			out[idx+2] = byte(r * 255)
		}
	}
}

func convertYUV420P(f *frame.DecodedFrame, out []byte, m ColorMatrix) {
	for row := 0; row < f.Height; row++ {
		uvRow := row / 2
		for col := 0; col < f.Width; col++ {
			y := float64(f.Y[row*f.YStride+col]) / 255.0
			uvCol := col / 2
			u := float64(f.U[uvRow*f.UStride+uvCol]) / 255.0
			v := float64(f.V[uvRow*f.VStride+uvCol]) / 255.0
			r, g, b := m.ConvertPixel(y, u, v)
			idx := (row*f.Width + col) * 3
			out[idx] = byte(b * 255)
			out[idx+1] = byte(g * 255)
			out[idx+2] = byte(r * 255)
		}
	}
}
