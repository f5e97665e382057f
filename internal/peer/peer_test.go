package peer

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateBuilding:     "Building",
		StateAnswering:    "Answering",
		StateIceGathering: "IceGathering",
		StateChecking:     "Checking",
		StateConnected:    "Connected",
		StateFailed:       "Failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestRegisterCodecs_NoError(t *testing.T) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		t.Fatalf("registerCodecs: %v", err)
	}
}

func TestExtractRemoteInboundVideoStats_PicksMostPackets(t *testing.T) {
	report := webrtc.StatsReport{
		"a": webrtc.RemoteInboundRTPStreamStats{
			Kind:            "video",
			PacketsReceived: 100,
			RoundTripTime:   0.05,
			FractionLost:    0.1,
		},
		"b": webrtc.RemoteInboundRTPStreamStats{
			Kind:            "video",
			PacketsReceived: 500,
			RoundTripTime:   0.02,
			FractionLost:    0.0,
		},
		"c": webrtc.RemoteInboundRTPStreamStats{
			Kind:            "audio",
			PacketsReceived: 9000,
		},
	}
	stats, ok := extractRemoteInboundVideoStats(report)
	if !ok {
		t.Fatal("expected a match")
	}
	if stats.RoundTrip.Milliseconds() != 20 {
		t.Fatalf("expected 20ms RTT from the higher-packet stream, got %v", stats.RoundTrip)
	}
	if stats.FractionLost != 0.0 {
		t.Fatalf("expected fraction lost 0.0, got %v", stats.FractionLost)
	}
}

func TestExtractRemoteInboundVideoStats_NoVideoStream(t *testing.T) {
	report := webrtc.StatsReport{
		"a": webrtc.RemoteInboundRTPStreamStats{Kind: "audio", PacketsReceived: 10},
	}
	if _, ok := extractRemoteInboundVideoStats(report); ok {
		t.Fatal("expected no match when no video stream present")
	}
}
