package decoder

import (
	"testing"

	"github.com/zalo/streamcore/internal/rtpdepacket"
)

func TestSelectBackend_FirstAvailableWins(t *testing.T) {
	available := map[string]bool{"vaapih264dec": true, "avdec_h264": true}
	probe := func(e string) bool { return available[e] }

	got, err := SelectBackend("linux", rtpdepacket.CodecH264, probe, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.name != "vaapi" {
		t.Fatalf("expected vaapi to win over cuvid/software, got %s", got.name)
	}
}

func TestSelectBackend_FallsBackToSoftware(t *testing.T) {
	probe := func(e string) bool { return e == "avdec_h264" }
	got, err := SelectBackend("linux", rtpdepacket.CodecH264, probe, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.name != "software" {
		t.Fatalf("expected software fallback, got %s", got.name)
	}
}

func TestSelectBackend_SkipsIntelWhenRuntimeAbsent(t *testing.T) {
	probe := func(e string) bool { return true } // everything "available"
	got, err := SelectBackend("linux", rtpdepacket.CodecH264, probe, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.name == "intel-qsv" {
		t.Fatal("expected intel-qsv skipped when runtime is absent")
	}
}

func TestSelectBackend_NoneAvailable(t *testing.T) {
	probe := func(e string) bool { return false }
	if _, err := SelectBackend("linux", rtpdepacket.CodecH264, probe, true); err == nil {
		t.Fatal("expected error when no backend is available")
	}
}

func TestShouldRequestKeyframe_EscalationSchedule(t *testing.T) {
	cases := map[int]bool{
		9: false, 10: true, 11: false,
		29: false, 30: true, 31: false,
		49: false, 50: true,
	}
	for count, want := range cases {
		if got := shouldRequestKeyframe(count); got != want {
			t.Errorf("shouldRequestKeyframe(%d) = %v, want %v", count, got, want)
		}
	}
}

func TestParseVideoDimensions(t *testing.T) {
	caps := "video/x-raw, format=(string)NV12, width=(int)1920, height=(int)1080, framerate=(fraction)60/1"
	w, h, ok := parseVideoDimensions(caps)
	if !ok || w != 1920 || h != 1080 {
		t.Fatalf("expected 1920x1080, got %dx%d ok=%v", w, h, ok)
	}
	if _, _, ok := parseVideoDimensions("audio/x-raw"); ok {
		t.Fatal("expected no match for non-video caps")
	}
}

func TestParseVideoFormat(t *testing.T) {
	cases := map[string]string{
		"video/x-raw, format=(string)NV12, width=(int)1920, height=(int)1080": "NV12",
		"video/x-raw, format=(string)I420, width=(int)1920, height=(int)1080": "I420",
	}
	for caps, want := range cases {
		got, ok := parseVideoFormat(caps)
		if !ok || got != want {
			t.Fatalf("parseVideoFormat(%q) = %q, %v, want %q", caps, got, ok, want)
		}
	}
	if _, ok := parseVideoFormat("video/x-raw, width=(int)1920"); ok {
		t.Fatal("expected no match when format is absent")
	}
}
