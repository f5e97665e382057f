package sdpx

import (
	"strings"
	"testing"
)

const sampleOfferCRLF = "v=0\r\n" +
	"o=- 0 0 IN IP4 0.0.0.0\r\n" +
	"s=-\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"t=0 0\r\n" +
	"a=ice-lite\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97 98\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 packetization-mode=1\r\n" +
	"a=rtcp-fb:96 nack\r\n" +
	"a=rtpmap:97 HEVC/90000\r\n" +
	"a=rtpmap:98 AV1/90000\r\n" +
	"a=candidate:1 1 UDP 1 1.2.3.4 5 typ host\r\n"

func TestFixServerIP_LeavesCandidatesAlone(t *testing.T) {
	out := FixServerIP(sampleOfferCRLF, "10.0.0.5")
	if !strings.Contains(out, "c=IN IP4 10.0.0.5") {
		t.Fatal("expected server IP substitution")
	}
	if !strings.Contains(out, "a=candidate:1 1 UDP 1 1.2.3.4 5 typ host") {
		t.Fatal("must not touch a=candidate lines")
	}
}

func TestIsICELite(t *testing.T) {
	if !IsICELite(sampleOfferCRLF) {
		t.Fatal("expected ice-lite detection")
	}
	if IsICELite("v=0\r\nm=video 9 UDP 96\r\n") {
		t.Fatal("expected no ice-lite detection")
	}
}

func TestFixDTLSSetupForICELite_Scenario5(t *testing.T) {
	// The offer carried both a=ice-lite and a=setup:actpass; the WebRTC
	// stack's raw answer defaults to passive in each media section, which
	// must be corrected to active against an ICE-lite remote.
	answer := "v=0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=setup:passive\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=setup:passive\r\n"
	fixed := FixDTLSSetupForICELite(answer)
	if strings.Count(fixed, "a=setup:active") != 2 {
		t.Fatalf("expected exactly 2 a=setup:active lines, got:\n%s", fixed)
	}
	if strings.Contains(fixed, "a=setup:passive") {
		t.Fatal("expected zero a=setup:passive lines remaining")
	}
}

func TestPreferCodec_FiltersAndPreservesLineEnding(t *testing.T) {
	out, err := PreferCodec(sampleOfferCRLF, "HEVC")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "\r\n") {
		t.Fatal("expected CRLF line ending preserved")
	}
	if !strings.Contains(out, "m=video 9 UDP/TLS/RTP/SAVPF 97") {
		t.Fatalf("expected m=video rewritten to PT 97 only, got:\n%s", out)
	}
	if strings.Contains(out, "a=rtpmap:96") || strings.Contains(out, "a=rtpmap:98") {
		t.Fatalf("expected non-preferred rtpmap lines dropped, got:\n%s", out)
	}
	if !strings.Contains(out, "a=rtpmap:97 HEVC/90000") {
		t.Fatal("expected preferred codec's rtpmap retained")
	}
}

func TestPreferCodec_AbsentCodecLeavesUnchanged(t *testing.T) {
	out, err := PreferCodec(sampleOfferCRLF, "VP9")
	if err != nil {
		t.Fatal(err)
	}
	if out != sampleOfferCRLF {
		t.Fatal("expected SDP unchanged when preferred codec is absent")
	}
}

// P8: transform(transform(sdp, C), C) == transform(sdp, C) byte-for-byte.
func TestPreferCodec_Idempotent(t *testing.T) {
	once, err := PreferCodec(sampleOfferCRLF, "H264")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := PreferCodec(once, "H264")
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Fatalf("expected idempotence:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestQoSTierFor(t *testing.T) {
	low := QoSTierFor(60)
	if low.DynamicFrameControl || low.MinFPSTarget != 60 {
		t.Fatalf("unexpected low-tier QoS: %+v", low)
	}
	high := QoSTierFor(120)
	if !high.DynamicFrameControl || high.MinFPSTarget != 100 {
		t.Fatalf("unexpected 120fps QoS: %+v", high)
	}
	if high.StripEncoding {
		t.Fatal("strip encoding should not activate below 240fps")
	}
	ultra := QoSTierFor(240)
	if !ultra.StripEncoding {
		t.Fatal("expected strip encoding at 240fps")
	}
}

func TestExtractAnswerCredentials(t *testing.T) {
	answer := "v=0\r\na=ice-ufrag:abcd\r\na=ice-pwd:secret\r\na=fingerprint:sha-256 AA:BB\r\n"
	creds := ExtractAnswerCredentials(answer)
	if creds.IceUfrag != "abcd" || creds.IcePwd != "secret" || creds.Fingerprint != "sha-256 AA:BB" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}
