// Package signaling implements the vendor WebSocket dialect used to
// exchange SDP offers/answers and trickled ICE candidates with a game host.
package signaling

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// localPeerID is this client's peer id in the vendor protocol; the host is
// always peer 1.
const localPeerID = 2

const heartbeatInterval = 5 * time.Second

// EventKind distinguishes the C1 event stream's cases.
type EventKind int

const (
	Connected EventKind = iota
	OfferReceived
	RemoteCandidate
	Disconnected
	Error
)

// Candidate is a trickled remote ICE candidate.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// Event is emitted to the orchestrator for every signaling-relevant change.
type Event struct {
	Kind      EventKind
	SDP       string
	Candidate Candidate
	Reason    string
	Err       error
}

// envelope is the top-level shape of every frame exchanged on the wire; only
// the fields relevant to a given message are populated.
type envelope struct {
	AckID    *int            `json:"ackid,omitempty"`
	Ack      *int            `json:"ack,omitempty"`
	PeerInfo json.RawMessage `json:"peer_info,omitempty"`
	HB       *int            `json:"hb,omitempty"`
	PeerMsg  *peerMsg        `json:"peer_msg,omitempty"`
}

type peerMsg struct {
	From int    `json:"from"`
	To   int    `json:"to"`
	Msg  string `json:"msg"`
}

// innerOffer and innerCandidate are the two shapes peer_msg.msg unmarshals
// to, distinguished by presence of "type".
type innerOffer struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type innerCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// innerAnswer is the outbound answer shape; NvstSdp carries the vendor
// sideband QoS descriptor (§4.2/§6) alongside the real SDP answer.
type innerAnswer struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	NvstSdp string `json:"nvstSdp,omitempty"`
}

// DialParams carries the pieces of a SessionHandle relevant to opening the
// signaling WebSocket (§6): the session id (folded into the subprotocol),
// the bearer token for the upgrade request, and the vendor web-client
// origin the host expects to see.
type DialParams struct {
	SessionID   string
	BearerToken string
	AuthScheme  string // defaults to "Bearer" when empty
	Origin      string
}

// Client is one signaling WebSocket connection to a game host.
type Client struct {
	log *slog.Logger
	url string

	conn   *websocket.Conn
	events chan Event

	mu       sync.Mutex
	nextAck  int
	closed   bool
}

// New creates a disconnected signaling client.
func New(log *slog.Logger, url string) *Client {
	return &Client{
		log:    log,
		url:    url,
		events: make(chan Event, 32),
	}
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan Event { return c.events }

// Connect dials the signaling URL with the `x-nv-sessionid.<sid>` WebSocket
// subprotocol and an Authorization upgrade header, sends the initial
// peer_info frame, and starts the read loop and heartbeat ticker. The host
// is allocated ephemerally with a self-signed certificate, so TLS
// verification is intentionally skipped.
func (c *Client) Connect(ctx context.Context, params DialParams) error {
	scheme := params.AuthScheme
	if scheme == "" {
		scheme = "Bearer"
	}
	header := http.Header{}
	if params.BearerToken != "" {
		header.Set("Authorization", fmt.Sprintf("%s %s", scheme, params.BearerToken))
	}
	if params.Origin != "" {
		header.Set("Origin", params.Origin)
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // ephemeral self-signed host cert
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{fmt.Sprintf("x-nv-sessionid.%s", params.SessionID)},
	}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("signaling: dial: %w", err)
	}
	c.conn = conn

	if err := c.sendPeerInfo(); err != nil {
		conn.Close()
		return fmt.Errorf("signaling: send peer_info: %w", err)
	}

	go c.readLoop()
	go c.heartbeatLoop(ctx)

	c.emit(Event{Kind: Connected})
	return nil
}

func (c *Client) sendPeerInfo() error {
	info := randomPeerInfo()
	return c.writeEnvelope(envelope{
		AckID:    intPtr(c.takeAck()),
		PeerInfo: info,
	})
}

// randomPeerInfo builds a minimal browser-shaped descriptor; the host
// validates shape, not content, per §4.1. browserId is a fresh UUID per
// connection, mirroring the per-tab identifier a real browser client would
// generate.
func randomPeerInfo() json.RawMessage {
	names := []string{"chrome", "edge", "firefox"}
	ua := fmt.Sprintf("Mozilla/5.0 (streamcore) %s", names[rand.Intn(len(names))])
	data, _ := json.Marshal(map[string]string{
		"userAgent": ua,
		"name":      fmt.Sprintf("player-%d", rand.Intn(100000)),
		"browserId": uuid.NewString(),
	})
	return data
}

func (c *Client) takeAck() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ack := c.nextAck
	c.nextAck++
	return ack
}

func (c *Client) writeEnvelope(e envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("signaling: connection closed")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeEnvelope(envelope{HB: intPtr(1)}); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.emit(Event{Kind: Error, Err: err})
				return
			}
			c.emit(Event{Kind: Disconnected, Reason: err.Error()})
			return
		}
		c.handleFrame(data)
	}
}

// inboundPeerInfo is the shape of an echoed peer_info frame; only the id
// field (compared against our own localPeerID) matters to handleFrame.
type inboundPeerInfo struct {
	ID int `json:"id"`
}

func (c *Client) handleFrame(data []byte) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		c.log.Warn("signaling: malformed frame", "err", err)
		return
	}

	if shouldAck(e) {
		if err := c.writeEnvelope(envelope{Ack: e.AckID}); err != nil {
			c.log.Warn("signaling: failed to ack frame", "err", err)
		}
	}
	if e.HB != nil {
		if err := c.writeEnvelope(envelope{HB: intPtr(1)}); err != nil {
			c.log.Warn("signaling: failed to echo heartbeat", "err", err)
		}
	}
	if e.PeerMsg != nil {
		c.handlePeerMsg(e.PeerMsg.Msg)
	}
}

// shouldAck reports whether an inbound frame should be acked. Per §4.1, a
// frame carrying our own peer_info echoed back by the host is not acked.
func shouldAck(e envelope) bool {
	if e.AckID == nil {
		return false
	}
	return !isOwnPeerInfoEcho(e.PeerInfo)
}

// isOwnPeerInfoEcho reports whether an inbound peer_info frame is the host
// echoing our own peer_info back to us, per §4.1: those frames skip the ack.
func isOwnPeerInfoEcho(peerInfo json.RawMessage) bool {
	if len(peerInfo) == 0 {
		return false
	}
	var info inboundPeerInfo
	if err := json.Unmarshal(peerInfo, &info); err != nil {
		return false
	}
	return info.ID == localPeerID
}

func (c *Client) handlePeerMsg(msg string) {
	var offer innerOffer
	if err := json.Unmarshal([]byte(msg), &offer); err == nil && offer.Type == "offer" {
		c.emit(Event{Kind: OfferReceived, SDP: offer.SDP})
		return
	}

	var cand innerCandidate
	if err := json.Unmarshal([]byte(msg), &cand); err == nil && cand.Candidate != "" {
		c.emit(Event{Kind: RemoteCandidate, Candidate: Candidate(cand)})
		return
	}

	c.log.Warn("signaling: unrecognized peer_msg shape", "msg", msg)
}

// SendAnswer wraps an SDP answer, plus its vendor sideband QoS descriptor
// (§4.2), in the peer_msg envelope and sends it.
func (c *Client) SendAnswer(sdp string, sideband string) error {
	inner, err := json.Marshal(innerAnswer{Type: "answer", SDP: sdp, NvstSdp: sideband})
	if err != nil {
		return err
	}
	return c.sendPeerMsg(string(inner))
}

// SendCandidate wraps a local ICE candidate in the peer_msg envelope and
// sends it.
func (c *Client) SendCandidate(cand Candidate) error {
	inner, err := json.Marshal(innerCandidate(cand))
	if err != nil {
		return err
	}
	return c.sendPeerMsg(string(inner))
}

func (c *Client) sendPeerMsg(msg string) error {
	return c.writeEnvelope(envelope{
		AckID: intPtr(c.takeAck()),
		PeerMsg: &peerMsg{
			From: localPeerID,
			To:   1,
			Msg:  msg,
		},
	})
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Warn("signaling: event channel full, dropping event")
	}
}

// Close closes the underlying WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func intPtr(n int) *int { return &n }
