package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/scrapyard/internal/signaling"
)

// ledgerChannelLabel is the single ordered reliable data channel every peer
// connection carries, named per spec §4.C.
const ledgerChannelLabel = "ledger"

// typeEnvelope peels off just the discriminator so Manager can dispatch a
// channel message to its registered handlers before anyone unmarshals the
// rest of the payload.
type typeEnvelope struct {
	Type string `json:"type"`
}

// Peer is the per-remote-peer session state described in spec §3: a
// connection handle, its single ordered reliable data channel, a ready
// flag, and the highest local db-version successfully pushed so far. The
// Catalog Engine owns LastSyncedVersion; Manager only creates and tears
// down the slot.
type Peer struct {
	ID          string
	Initiator   bool

	mu                sync.Mutex
	pc                *webrtc.PeerConnection
	dc                *webrtc.DataChannel
	ready             bool
	lastSyncedVersion uint64
}

// Ready reports whether this peer's data channel has opened.
func (p *Peer) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// LastSyncedVersion returns the highest local db-version successfully
// pushed to this peer.
func (p *Peer) LastSyncedVersion() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSyncedVersion
}

// SetLastSyncedVersion records the highest local db-version successfully
// pushed to this peer, called by the Catalog Engine after a successful
// sync round.
func (p *Peer) SetLastSyncedVersion(v uint64) {
	p.mu.Lock()
	p.lastSyncedVersion = v
	p.mu.Unlock()
}

func (p *Peer) setReady(ready bool) {
	p.mu.Lock()
	p.ready = ready
	p.mu.Unlock()
}

// send marshals v as JSON and writes it to the ledger channel.
func (p *Peer) send(v any) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()

	if dc == nil {
		return errChannelNotReady
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.Send(b)
}

// offer creates a local offer and sends it to the peer over sig. Called
// once, right after the data channel has been created, for initiators.
func (p *Peer) offer(sig *signaling.Client) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return sig.Send(signaling.Message{Type: "offer", To: p.ID, SDP: offer.SDP})
}

// setRemoteOffer applies an incoming offer and replies with an answer.
// Called on responders.
func (p *Peer) setRemoteOffer(sdp string, sig *signaling.Client) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return sig.Send(signaling.Message{Type: "answer", To: p.ID, SDP: answer.SDP})
}

// setRemoteAnswer applies an incoming answer. Called on initiators.
func (p *Peer) setRemoteAnswer(sdp string) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// addICECandidate decodes candidate (as delivered through the signaling
// JSON envelope, so typically a map[string]any after unmarshal) into an
// ICECandidateInit and adds it to the underlying connection.
func (p *Peer) addICECandidate(candidate any) error {
	b, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("re-encoding ice candidate: %w", err)
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(b, &init); err != nil {
		return fmt.Errorf("decoding ice candidate: %w", err)
	}

	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		return errChannelNotReady
	}
	return pc.AddICECandidate(init)
}

func (p *Peer) close() {
	p.mu.Lock()
	dc, pc := p.dc, p.pc
	p.dc, p.pc = nil, nil
	p.ready = false
	p.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
}
