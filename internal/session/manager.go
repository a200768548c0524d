// Package session implements the Peer Session Manager described in spec
// §4.C: one WebRTC peer connection and one ordered reliable "ledger" data
// channel per remote peer, with offer/answer/ICE forwarded through the
// signaling client and channel messages dispatched by their JSON `type`
// discriminator to whichever layer (catalog sync, file-transfer) owns it.
//
// It is grounded on the teacher's internal/node/webrtc.go and
// internal/transport/webrtc/* connection-handling idiom (one PeerConnection
// and one DataChannel per remote peer, OnOpen/OnMessage/OnClose wiring,
// ICE candidates forwarded through a router), generalized from the
// teacher's tracker-addressed signaling to this spec's room/token
// WebSocket signaling client.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/scrapyard/internal/signaling"
	"github.com/sirupsen/logrus"
)

var errChannelNotReady = errors.New("scrapyard: data channel not ready")

// Manager creates and tears down one Peer per remote peer id, mediates
// offer/answer/ICE through a signaling.Client, and dispatches inbound
// ledger-channel messages to handlers registered by type.
type Manager struct {
	log        *logrus.Entry
	nodeID     string
	iceServers []string
	sig        *signaling.Client

	mu        sync.Mutex
	order     []string
	peers     map[string]*Peer
	handlers  map[string][]func(peerID string, raw json.RawMessage)
	onReady   []func(peerID string)
	onLeave   []func(peerID string)
}

// New constructs a Manager that mediates connections for the local replica
// identified by nodeID, using iceServers for every peer connection.
func New(log *logrus.Logger, nodeID string, iceServers []string, sig *signaling.Client) *Manager {
	return &Manager{
		log:        log.WithField("component", "session"),
		nodeID:     nodeID,
		iceServers: iceServers,
		sig:        sig,
		peers:      make(map[string]*Peer),
		handlers:   make(map[string][]func(string, json.RawMessage)),
	}
}

// Start subscribes to every signaling event the manager needs to mediate
// peer connections. It must be called once, before the signaling client
// connects.
func (m *Manager) Start() {
	m.sig.On("peers", m.handlePeers)
	m.sig.On("peer-join", m.handlePeerJoin)
	m.sig.On("peer-leave", m.handlePeerLeave)
	m.sig.On("offer", m.handleOffer)
	m.sig.On("answer", m.handleAnswer)
	m.sig.On("ice", m.handleICE)
}

// OnMessage registers handler for every inbound ledger-channel message
// whose `type` field equals msgType. The returned function removes it.
// Unknown types (no registered handler) are ignored, per spec §4.C.
func (m *Manager) OnMessage(msgType string, handler func(peerID string, raw json.RawMessage)) func() {
	m.mu.Lock()
	m.handlers[msgType] = append(m.handlers[msgType], handler)
	idx := len(m.handlers[msgType]) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		hs := m.handlers[msgType]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// OnPeerReady registers handler to be invoked once a peer's ledger channel
// opens.
func (m *Manager) OnPeerReady(handler func(peerID string)) {
	m.mu.Lock()
	m.onReady = append(m.onReady, handler)
	m.mu.Unlock()
}

// OnPeerLeave registers handler to be invoked once a peer is torn down.
func (m *Manager) OnPeerLeave(handler func(peerID string)) {
	m.mu.Lock()
	m.onLeave = append(m.onLeave, handler)
	m.mu.Unlock()
}

// Peer returns the session for peerID, or nil if unknown.
func (m *Manager) Peer(peerID string) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[peerID]
}

// Send writes v as a JSON message to one peer's ledger channel.
func (m *Manager) Send(peerID string, v any) error {
	p := m.Peer(peerID)
	if p == nil {
		return fmt.Errorf("%w: peer %q", errChannelNotReady, peerID)
	}
	return p.send(v)
}

// Broadcast sends v to every ready peer, in the order peers were first
// learned about. Per-peer failures are logged and otherwise swallowed, per
// spec §4.C's broadcast semantics.
func (m *Manager) Broadcast(v any) {
	for _, p := range m.readyPeersInOrder() {
		if err := p.send(v); err != nil {
			m.log.WithError(err).WithField("peer", p.ID).Warn("broadcast send failed")
		}
	}
}

func (m *Manager) readyPeersInOrder() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Peer, 0, len(m.order))
	for _, id := range m.order {
		if p := m.peers[id]; p != nil && p.Ready() {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) handlePeers(msg signaling.Message) {
	for _, id := range msg.PeerIDs {
		m.ensurePeer(id, true)
	}
}

func (m *Manager) handlePeerJoin(msg signaling.Message) {
	m.ensurePeer(msg.PeerID, true)
}

func (m *Manager) handlePeerLeave(msg signaling.Message) {
	m.teardown(msg.PeerID)
}

func (m *Manager) handleOffer(msg signaling.Message) {
	p := m.ensurePeer(msg.From, false)
	if err := p.setRemoteOffer(msg.SDP, m.sig); err != nil {
		m.log.WithError(err).WithField("peer", msg.From).Warn("failed to handle offer")
	}
}

func (m *Manager) handleAnswer(msg signaling.Message) {
	p := m.Peer(msg.From)
	if p == nil {
		return
	}
	if err := p.setRemoteAnswer(msg.SDP); err != nil {
		m.log.WithError(err).WithField("peer", msg.From).Warn("failed to handle answer")
	}
}

func (m *Manager) handleICE(msg signaling.Message) {
	p := m.Peer(msg.From)
	if p == nil {
		return
	}
	if err := p.addICECandidate(msg.Candidate); err != nil {
		m.log.WithError(err).WithField("peer", msg.From).Warn("failed to add ICE candidate")
	}
}

// ensurePeer returns the existing Peer for id, or creates and wires one as
// initiator (we offer, we create the data channel) or responder (we wait
// for the remote-opened channel and an incoming offer).
func (m *Manager) ensurePeer(id string, initiator bool) *Peer {
	m.mu.Lock()
	if p, ok := m.peers[id]; ok {
		m.mu.Unlock()
		return p
	}
	p := &Peer{ID: id, Initiator: initiator}
	m.peers[id] = p
	m.order = append(m.order, id)
	m.mu.Unlock()

	if err := m.wire(p); err != nil {
		m.log.WithError(err).WithField("peer", id).Error("failed to create peer connection")
		return p
	}

	if initiator {
		if err := p.offer(m.sig); err != nil {
			m.log.WithError(err).WithField("peer", id).Warn("failed to send offer")
		}
	}

	return p
}

func (m *Manager) wire(p *Peer) error {
	iceServers := make([]webrtc.ICEServer, 0, len(m.iceServers))
	for _, url := range m.iceServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	p.mu.Lock()
	p.pc = pc
	p.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = m.sig.Send(signaling.Message{Type: "ice", To: p.ID, Candidate: c.ToJSON()})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			m.teardown(p.ID)
		}
	})

	if p.Initiator {
		dc, err := pc.CreateDataChannel(ledgerChannelLabel, &webrtc.DataChannelInit{Ordered: boolPtr(true)})
		if err != nil {
			return fmt.Errorf("failed to create data channel: %w", err)
		}
		m.setupDataChannel(p, dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			m.setupDataChannel(p, dc)
		})
	}

	return nil
}

func (m *Manager) setupDataChannel(p *Peer, dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.setReady(true)
		m.log.WithField("peer", p.ID).Info("ledger channel open")
		m.emitReady(p.ID)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.dispatch(p.ID, msg.Data)
	})

	dc.OnClose(func() {
		m.teardown(p.ID)
	})
}

func (m *Manager) dispatch(peerID string, raw []byte) {
	var env typeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.log.WithError(err).WithField("peer", peerID).Warn("dropping malformed channel message")
		return
	}

	if env.Type == "ping" {
		_ = m.Send(peerID, typeEnvelope{Type: "pong"})
		return
	}

	m.mu.Lock()
	hs := append([]func(string, json.RawMessage){}, m.handlers[env.Type]...)
	m.mu.Unlock()

	for _, h := range hs {
		if h != nil {
			h(peerID, json.RawMessage(raw))
		}
	}
}

func (m *Manager) emitReady(peerID string) {
	m.mu.Lock()
	hs := append([]func(string){}, m.onReady...)
	m.mu.Unlock()
	for _, h := range hs {
		h(peerID)
	}
}

func (m *Manager) teardown(peerID string) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	if ok {
		delete(m.peers, peerID)
	}
	hs := append([]func(string){}, m.onLeave...)
	m.mu.Unlock()

	if !ok {
		return
	}
	p.close()
	m.log.WithField("peer", peerID).Info("peer session torn down")
	for _, h := range hs {
		h(peerID)
	}
}

func boolPtr(b bool) *bool { return &b }
