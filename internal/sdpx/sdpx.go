// Package sdpx transforms offer/answer SDP text the way the vendor's web
// client does: plain line-based string surgery rather than a full SDP
// parse/marshal round-trip, so the untouched parts of the document
// (including trickle-ICE `a=candidate` lines added later) are preserved
// byte-for-byte.
package sdpx

import (
	"fmt"
	"strings"
)

// FixServerIP replaces the placeholder connection address the host embeds
// in its offer with the real server IP. It never touches `a=candidate`
// lines — those arrive later over trickle ICE.
func FixServerIP(sdp string, serverIP string) string {
	return strings.ReplaceAll(sdp, "c=IN IP4 0.0.0.0", "c=IN IP4 "+serverIP)
}

// IsICELite reports whether the SDP declares the remote peer as ICE-lite,
// which forces the local DTLS role to active.
func IsICELite(sdp string) bool {
	for _, line := range splitLines(sdp) {
		if strings.TrimSpace(line) == "a=ice-lite" {
			return true
		}
	}
	return false
}

// FixDTLSSetupForICELite rewrites every `a=setup:passive` line to
// `a=setup:active`, which is mandatory for correctness against an ICE-lite
// peer: it will never initiate the DTLS handshake.
func FixDTLSSetupForICELite(answerSDP string) string {
	return strings.ReplaceAll(answerSDP, "a=setup:passive", "a=setup:active")
}

func normalizeCodecName(name string) string {
	if strings.EqualFold(name, "HEVC") {
		return "H265"
	}
	return strings.ToUpper(name)
}

// PreferCodec filters the video `m=` section down to a single preferred
// codec's payload types, dropping `a=rtpmap`/`a=fmtp`/`a=rtcp-fb` lines for
// every other payload type. If the preferred codec is absent from the
// offer, the SDP is returned unchanged. The input's line-ending style
// (CRLF vs LF) is preserved.
func PreferCodec(sdp string, codec string) (string, error) {
	crlf := strings.Contains(sdp, "\r\n")
	lines := splitLines(sdp)
	wantCodec := normalizeCodecName(codec)

	codecPayloads := map[string][]string{}
	inVideo := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "m=") {
			inVideo = strings.HasPrefix(trimmed, "m=video")
			continue
		}
		if !inVideo {
			continue
		}
		if strings.HasPrefix(trimmed, "a=rtpmap:") {
			pt, codecName, ok := parseRtpmap(trimmed)
			if !ok {
				continue
			}
			name := normalizeCodecName(codecName)
			codecPayloads[name] = append(codecPayloads[name], pt)
		}
	}

	payloadTypes, ok := codecPayloads[wantCodec]
	if !ok || len(payloadTypes) == 0 {
		// Preferred codec absent: leave the SDP unchanged, as specified.
		return sdp, nil
	}
	wanted := map[string]bool{}
	for _, pt := range payloadTypes {
		wanted[pt] = true
	}

	var out []string
	inVideo = false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "m=") {
			inVideo = strings.HasPrefix(trimmed, "m=video")
			if inVideo {
				out = append(out, rewriteMLine(trimmed, payloadTypes))
				continue
			}
			out = append(out, trimmed)
			continue
		}
		if inVideo {
			if pt, isAttr := attributePayloadType(trimmed); isAttr {
				if !wanted[pt] {
					continue
				}
			}
		}
		out = append(out, trimmed)
	}

	sep := "\n"
	if crlf {
		sep = "\r\n"
	}
	result := strings.Join(out, sep)
	if strings.HasSuffix(sdp, sep) && !strings.HasSuffix(result, sep) {
		result += sep
	}
	return result, nil
}

// rewriteMLine keeps the `m=video <port> <proto>` header (first three
// whitespace-separated tokens) and replaces the payload-type list with the
// preferred codec's types, in their original relative order.
func rewriteMLine(line string, payloadTypes []string) string {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return line
	}
	header := fields[0:3]
	return strings.Join(header, " ") + " " + strings.Join(payloadTypes, " ")
}

func parseRtpmap(line string) (pt string, codec string, ok bool) {
	rest := strings.TrimPrefix(line, "a=rtpmap:")
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return "", "", false
	}
	pt = fields[0]
	codecFields := strings.SplitN(fields[1], "/", 2)
	return pt, codecFields[0], true
}

// attributePayloadType extracts the leading payload-type token from an
// a=rtpmap/a=fmtp/a=rtcp-fb line, if line is one of those.
func attributePayloadType(line string) (string, bool) {
	for _, prefix := range []string{"a=rtpmap:", "a=fmtp:", "a=rtcp-fb:"} {
		if strings.HasPrefix(line, prefix) {
			rest := strings.TrimPrefix(line, prefix)
			fields := strings.SplitN(rest, " ", 2)
			return fields[0], true
		}
	}
	return "", false
}

// ExtractVideoCodec returns the first codec name advertised in the video
// `m=` section's rtpmap lines.
func ExtractVideoCodec(sdp string) (string, bool) {
	inVideo := false
	for _, line := range splitLines(sdp) {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "m=") {
			inVideo = strings.HasPrefix(trimmed, "m=video")
			continue
		}
		if inVideo && strings.HasPrefix(trimmed, "a=rtpmap:") {
			_, codec, ok := parseRtpmap(trimmed)
			if ok {
				return codec, true
			}
		}
	}
	return "", false
}

// AnswerCredentials are the fields extracted from the local answer to build
// the sideband descriptor.
type AnswerCredentials struct {
	IceUfrag    string
	IcePwd      string
	Fingerprint string
}

// ExtractAnswerCredentials pulls ice-ufrag, ice-pwd, and the fingerprint out
// of the answer SDP produced by the WebRTC stack.
func ExtractAnswerCredentials(answerSDP string) AnswerCredentials {
	var creds AnswerCredentials
	for _, line := range splitLines(answerSDP) {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(trimmed, "a=ice-ufrag:"):
			creds.IceUfrag = strings.TrimPrefix(trimmed, "a=ice-ufrag:")
		case strings.HasPrefix(trimmed, "a=ice-pwd:"):
			creds.IcePwd = strings.TrimPrefix(trimmed, "a=ice-pwd:")
		case strings.HasPrefix(trimmed, "a=fingerprint:"):
			creds.Fingerprint = strings.TrimPrefix(trimmed, "a=fingerprint:")
		}
	}
	return creds
}

// QoSTier describes the per-fps-bracket encoder/QoS knobs synthesized into
// the sideband descriptor.
type QoSTier struct {
	DynamicFrameControl bool
	MinFPSTarget        int
	EncoderPreset        string
	StripEncoding        bool
}

// QoSTierFor selects the QoS knobs for a target frame rate, per §4.2.
func QoSTierFor(targetFPS int) QoSTier {
	tier := QoSTier{EncoderPreset: "balanced"}
	if targetFPS >= 120 {
		tier.DynamicFrameControl = true
		tier.MinFPSTarget = 100
		tier.EncoderPreset = "low-latency"
	} else {
		tier.DynamicFrameControl = false
		tier.MinFPSTarget = 60
	}
	if targetFPS >= 240 {
		tier.StripEncoding = true
	}
	return tier
}

// SidebandDescriptor is the vendor-specific, free-form SDP-shaped document
// sent alongside the real answer.
type SidebandDescriptor struct {
	Credentials    AnswerCredentials
	Width, Height  int
	MaxFPS         int
	InitialBitrate int
	PeakBitrate    int
	MinBitrate     int
	QoS            QoSTier
}

// SynthesizeSideband builds the sideband descriptor from the real answer's
// credentials and the session's negotiated stream parameters.
func SynthesizeSideband(answerSDP string, width, height, maxFPS, initialBitrateKbps int) SidebandDescriptor {
	creds := ExtractAnswerCredentials(answerSDP)
	return SidebandDescriptor{
		Credentials:    creds,
		Width:          width,
		Height:         height,
		MaxFPS:         maxFPS,
		InitialBitrate: initialBitrateKbps,
		PeakBitrate:    initialBitrateKbps * 2,
		MinBitrate:     initialBitrateKbps / 4,
		QoS:            QoSTierFor(maxFPS),
	}
}

// String renders the descriptor in the free-form key:value shape the
// signaling dialect expects embedded in `peer_msg.msg`'s `nvstSdp` field.
func (s SidebandDescriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", s.Credentials.IceUfrag)
	fmt.Fprintf(&b, "a=ice-pwd:%s\r\n", s.Credentials.IcePwd)
	fmt.Fprintf(&b, "a=fingerprint:%s\r\n", s.Credentials.Fingerprint)
	fmt.Fprintf(&b, "a=x-nv-viewport:%dx%d\r\n", s.Width, s.Height)
	fmt.Fprintf(&b, "a=x-nv-maxfps:%d\r\n", s.MaxFPS)
	fmt.Fprintf(&b, "a=x-nv-bitrate:init=%d;peak=%d;min=%d\r\n", s.InitialBitrate, s.PeakBitrate, s.MinBitrate)
	fmt.Fprintf(&b, "a=x-nv-dfc:%v;min=%d;preset=%s\r\n", s.QoS.DynamicFrameControl, s.QoS.MinFPSTarget, s.QoS.EncoderPreset)
	if s.QoS.StripEncoding {
		b.WriteString("a=x-nv-strip-encoding:1\r\n")
	}
	return b.String()
}

func splitLines(s string) []string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(normalized, "\n")
}
