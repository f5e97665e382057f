// Package streamcore implements the streaming core of a native cloud-gaming
// client: WebRTC negotiation with a game host, RTP depacketization and
// hardware decode of the video stream, GPU presentation, and a low-latency
// input plane sent back over data channels.
package streamcore

import "fmt"

// FailureReason is the terminal error taxonomy reported to the embedding
// application. Once the negotiation state machine reports Failed it is never
// reused.
type FailureReason string

const (
	ReasonSignalingLost     FailureReason = "SignalingLost"
	ReasonNegotiation       FailureReason = "Negotiation"
	ReasonDtls              FailureReason = "Dtls"
	ReasonIceFailed         FailureReason = "IceFailed"
	ReasonDecoderUnavailable FailureReason = "DecoderUnavailable"
	ReasonNetworkDropped    FailureReason = "NetworkDropped"
	ReasonCancelled         FailureReason = "Cancelled"
)

// Fault is the uniform error envelope every component reports through, so
// the orchestrator never needs to type-switch on a component-specific error.
type Fault struct {
	Reason FailureReason
	Err    error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault wraps err under reason.
func NewFault(reason FailureReason, err error) *Fault {
	return &Fault{Reason: reason, Err: err}
}

// SessionHandle is supplied by the out-of-scope session-allocation REST API.
// It is immutable for the life of the session.
type SessionHandle struct {
	ServerHost    string
	SignalingURL  string
	ICEServers    []string
	MediaHint     *MediaHint
	CodecRequest  string
	Width         int
	Height        int
	TargetFPS     int
	MaxBitrateKbps int
	AccountFlag   string
	BearerToken   string
}

// MediaHint optionally carries a known server-side media endpoint, used to
// synthesize an ICE candidate without waiting on trickle ICE.
type MediaHint struct {
	IP   string
	Port int
}

// Config is the only configuration surface the core exposes; sourcing it
// from flags, environment, or a config file is the embedding application's
// responsibility.
type Config struct {
	ICEServers        []string
	CodecPreference   string // "h264", "h265", "av1"
	Width             int
	Height            int
	TargetFPS         int
	MaxBitrateKbps    int
	ProtocolVersionFloor uint8
}

// DefaultConfig returns sensible defaults for a 1080p60 session.
func DefaultConfig() Config {
	return Config{
		ICEServers:           []string{"stun:stun.l.google.com:19302"},
		CodecPreference:      "h264",
		Width:                1920,
		Height:               1080,
		TargetFPS:            60,
		MaxBitrateKbps:       20000,
		ProtocolVersionFloor: 2,
	}
}
