package decoder

import (
	"regexp"
	"strconv"
)

var widthRe = regexp.MustCompile(`width=\(int\)(\d+)`)
var heightRe = regexp.MustCompile(`height=\(int\)(\d+)`)
var formatRe = regexp.MustCompile(`format=\(string\)(\w+)`)

// parseVideoDimensions pulls width/height out of a GStreamer caps string,
// e.g. "video/x-raw, format=(string)NV12, width=(int)1920, height=(int)1080".
func parseVideoDimensions(capsStr string) (width, height int, ok bool) {
	wm := widthRe.FindStringSubmatch(capsStr)
	hm := heightRe.FindStringSubmatch(capsStr)
	if wm == nil || hm == nil {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(wm[1])
	h, err2 := strconv.Atoi(hm[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w, h, true
}

// parseVideoFormat pulls the negotiated pixel format out of a GStreamer caps
// string; the caps filter allows both NV12 and I420 (§4.5), so whichever one
// the backend actually negotiated determines how toDecodedFrame lays out the
// raw buffer.
func parseVideoFormat(capsStr string) (format string, ok bool) {
	fm := formatRe.FindStringSubmatch(capsStr)
	if fm == nil {
		return "", false
	}
	return fm[1], true
}
