package signaling

import (
	"encoding/json"
	"testing"
)

func TestHandlePeerMsg_Offer(t *testing.T) {
	c := &Client{events: make(chan Event, 4)}
	msg, _ := json.Marshal(innerOffer{Type: "offer", SDP: "v=0..."})
	c.handlePeerMsg(string(msg))

	select {
	case e := <-c.events:
		if e.Kind != OfferReceived || e.SDP != "v=0..." {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("expected an event")
	}
}

func TestHandlePeerMsg_Candidate(t *testing.T) {
	c := &Client{events: make(chan Event, 4)}
	msg, _ := json.Marshal(innerCandidate{Candidate: "candidate:1 1 UDP ...", SDPMid: "0", SDPMLineIndex: 0})
	c.handlePeerMsg(string(msg))

	select {
	case e := <-c.events:
		if e.Kind != RemoteCandidate || e.Candidate.Candidate == "" {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("expected an event")
	}
}

func TestEnvelope_AckRoundTrip(t *testing.T) {
	ack := 7
	e := envelope{AckID: &ack}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.AckID == nil || *decoded.AckID != 7 {
		t.Fatalf("expected ackid 7, got %+v", decoded.AckID)
	}
}

func TestTakeAck_Increments(t *testing.T) {
	c := &Client{}
	first := c.takeAck()
	second := c.takeAck()
	if second != first+1 {
		t.Fatalf("expected monotonically increasing ack ids, got %d then %d", first, second)
	}
}

func TestRandomPeerInfo_IsValidJSONObject(t *testing.T) {
	data := randomPeerInfo()
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("expected valid JSON object: %v", err)
	}
	if m["userAgent"] == "" || m["name"] == "" || m["browserId"] == "" {
		t.Fatalf("expected non-empty userAgent/name/browserId, got %+v", m)
	}
}

func TestIsOwnPeerInfoEcho(t *testing.T) {
	own, _ := json.Marshal(inboundPeerInfo{ID: localPeerID})
	if !isOwnPeerInfoEcho(own) {
		t.Fatal("expected own peer id to be detected as an echo")
	}

	other, _ := json.Marshal(inboundPeerInfo{ID: 1})
	if isOwnPeerInfoEcho(other) {
		t.Fatal("expected a different peer id to not be treated as an echo")
	}

	if isOwnPeerInfoEcho(nil) {
		t.Fatal("expected absent peer_info to not be treated as an echo")
	}
}

func TestShouldAck_SkipsOwnPeerInfoEcho(t *testing.T) {
	ack := 3
	peerInfo, _ := json.Marshal(inboundPeerInfo{ID: localPeerID})
	e := envelope{AckID: &ack, PeerInfo: peerInfo}
	if shouldAck(e) {
		t.Fatal("expected no ack for our own echoed peer_info")
	}
}

func TestShouldAck_AcksFramesWithoutPeerInfo(t *testing.T) {
	ack := 4
	e := envelope{AckID: &ack}
	if !shouldAck(e) {
		t.Fatal("expected an ack for a frame with no peer_info")
	}
}

func TestShouldAck_AcksThirdPartyPeerInfo(t *testing.T) {
	ack := 5
	peerInfo, _ := json.Marshal(inboundPeerInfo{ID: 1})
	e := envelope{AckID: &ack, PeerInfo: peerInfo}
	if !shouldAck(e) {
		t.Fatal("expected an ack for peer_info belonging to a different peer")
	}
}

func TestInnerAnswer_CarriesSideband(t *testing.T) {
	data, err := json.Marshal(innerAnswer{Type: "answer", SDP: "v=0...", NvstSdp: "a=x-nv-viewport:1920x1080\r\n"})
	if err != nil {
		t.Fatal(err)
	}
	var decoded innerAnswer
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.NvstSdp == "" || decoded.SDP != "v=0..." {
		t.Fatalf("unexpected round-trip: %+v", decoded)
	}
}
