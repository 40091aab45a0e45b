// Package mesh implements spec §4.B: the per-session mesh of ordered
// reliable datastreams between every pair of participants, established
// via WebRTC offer/answer/ICE and the politeness rule, with ICE-candidate
// buffering and a bounded-backoff reconnection tracker.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

const dataChannelLabel = "frost-dkg"

// Signaler sends an outbound WebRTC signaling payload to a peer over the
// signal relay (§4.A). The mesh connector never talks to the relay
// directly; pkg/node wires this to a signalrelay.Client.Relay call.
type Signaler interface {
	SendSignal(to string, signal types.WebRTCSignal) error
}

// Handlers are the mesh connector's callbacks into the rest of the node.
type Handlers struct {
	// OnChannelOpen fires once per peer when its datastream transitions to
	// open (§4.B "Connection phase reporting").
	OnChannelOpen func(peer string)
	// OnFrame fires for every application-level JSON frame received on an
	// established datastream, already deduplicated at the mesh layer for
	// transport framing only, not content (§4.I is the application-level
	// deduplicator and still applies upstream).
	OnFrame func(peer string, raw json.RawMessage)
	// OnPeerFailed fires when a peer connection has exhausted its
	// reconnection tracker's patience (not part of spec — a node-level
	// wiring hook for surfacing to the session state machine, which
	// itself decides whether the failure is fatal per §4.B).
	OnPeerFailed func(peer string, err error)
}

// peerConn holds one remote peer's WebRTC state (§3 "Peer connection").
type peerConn struct {
	mu            sync.Mutex
	phase         types.ConnectionPhase
	pc            *webrtc.PeerConnection
	dc            *webrtc.DataChannel
	pendingICE    []webrtc.ICECandidateInit
	remoteDescSet bool
	makingOffer   bool
}

// Connector manages the full mesh of peer connections for the local
// device across whatever sessions are currently active. Peers are keyed
// by device-id globally; a rejoin (§4.C) closes and recreates the entry.
type Connector struct {
	selfID     string
	iceServers []config.ICEServer
	signaler   Signaler
	handlers   Handlers
	log        *zap.Logger
	reconnect  *reconnectTracker

	mu    sync.Mutex
	peers map[string]*peerConn

	batch *batcher
}

// New builds a Connector. iceServers is the read-only STUN/TURN list
// built once at startup (§9 "Global mutable state"). batchCfg parameterizes
// the optional per-peer outbound batcher Broadcast uses (§2.B enrichment);
// a zero-value BatchSize disables it and Broadcast falls back to sending
// each frame immediately, as before.
func New(selfID string, iceServers []config.ICEServer, reconnectCfg config.ReconnectConfig, batchCfg config.BatchConfig, signaler Signaler, handlers Handlers, log *zap.Logger) *Connector {
	c := &Connector{
		selfID:     selfID,
		iceServers: iceServers,
		signaler:   signaler,
		handlers:   handlers,
		log:        log,
		reconnect:  newReconnectTracker(reconnectCfg),
		peers:      make(map[string]*peerConn),
	}
	if batchCfg.BatchSize > 0 {
		c.batch = newBatcher(batchCfg, c, log)
	}
	return c
}

// Run drives the outbound batcher's background flush ticker until ctx is
// cancelled. A no-op if batching is disabled.
func (c *Connector) Run(ctx context.Context) {
	if c.batch == nil {
		return
	}
	c.batch.run(ctx)
}

func (c *Connector) webrtcConfig() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.iceServers))
	for _, s := range c.iceServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// EnsurePeer creates a connection object for peer if one doesn't exist and
// applies the politeness rule (§4.B step 1-2): the lexicographically
// smaller device-id offers.
func (c *Connector) EnsurePeer(peer string) error {
	c.mu.Lock()
	pcState, exists := c.peers[peer]
	if !exists {
		pcState = &peerConn{phase: types.ConnNew}
		c.peers[peer] = pcState
	}
	c.mu.Unlock()

	if exists {
		return nil
	}
	return c.createPeerConnection(peer, pcState)
}

func (c *Connector) createPeerConnection(peer string, state *peerConn) error {
	pc, err := webrtc.NewPeerConnection(c.webrtcConfig())
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "create peer connection")
	}

	state.mu.Lock()
	state.pc = pc
	state.phase = types.ConnConnecting
	state.mu.Unlock()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		mline := init.SDPMLineIndex
		var mlineInt *int
		if mline != nil {
			v := int(*mline)
			mlineInt = &v
		}
		sdpMid := ""
		if init.SDPMid != nil {
			sdpMid = *init.SDPMid
		}
		signal := types.WebRTCSignal{Candidate: &types.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        sdpMid,
			SDPMLineIndex: mlineInt,
		}}
		if err := c.signaler.SendSignal(peer, signal); err != nil {
			c.log.Sugar().Warnw("failed to send ICE candidate", "peer", peer, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.reconnect.clear(peer)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			state.mu.Lock()
			state.phase = types.ConnDisconnected
			state.mu.Unlock()
			c.log.Sugar().Warnw("peer connection degraded", "peer", peer, "state", s.String())
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.wireDataChannel(peer, state, dc)
	})

	// Politeness: the lexicographically smaller device-id offers.
	if c.selfID < peer {
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			return protocolerr.Wrap(protocolerr.KindNetwork, err, "create data channel")
		}
		c.wireDataChannel(peer, state, dc)

		state.mu.Lock()
		state.makingOffer = true
		state.mu.Unlock()

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return protocolerr.Wrap(protocolerr.KindNetwork, err, "create offer")
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			return protocolerr.Wrap(protocolerr.KindNetwork, err, "set local description (offer)")
		}
		if err := c.signaler.SendSignal(peer, types.WebRTCSignal{Offer: &types.SDPPayload{SDP: offer.SDP}}); err != nil {
			return protocolerr.Wrap(protocolerr.KindNetwork, err, "send offer")
		}

		state.mu.Lock()
		state.makingOffer = false
		state.mu.Unlock()
	}

	return nil
}

func (c *Connector) wireDataChannel(peer string, state *peerConn, dc *webrtc.DataChannel) {
	state.mu.Lock()
	state.dc = dc
	state.mu.Unlock()

	dc.OnOpen(func() {
		state.mu.Lock()
		state.phase = types.ConnConnected
		state.mu.Unlock()

		if c.handlers.OnChannelOpen != nil {
			c.handlers.OnChannelOpen(peer)
		}
		frame, err := json.Marshal(struct {
			ChannelOpen types.ChannelOpenFrame `json:"ChannelOpen"`
		}{ChannelOpen: types.ChannelOpenFrame{DeviceID: c.selfID}})
		if err == nil {
			if sendErr := dc.Send(frame); sendErr != nil {
				c.log.Sugar().Warnw("failed to send channel-open frame", "peer", peer, "error", sendErr)
			}
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.handlers.OnFrame != nil {
			c.handlers.OnFrame(peer, json.RawMessage(msg.Data))
		}
	})
}

// HandleOffer applies a remote offer from peer (§4.B step 3): sets remote
// description, drains buffered ICE candidates, creates and sends the
// answer.
func (c *Connector) HandleOffer(peer, sdp string) error {
	c.mu.Lock()
	state, exists := c.peers[peer]
	if !exists {
		state = &peerConn{phase: types.ConnNew}
		c.peers[peer] = state
	}
	c.mu.Unlock()

	if state.pc == nil {
		if err := c.createPeerConnection(peer, state); err != nil {
			return err
		}
	}

	pc := state.pc
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "set remote description (offer)")
	}
	c.markRemoteDescSet(state)
	if err := c.drainICE(peer, state); err != nil {
		return err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "create answer")
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "set local description (answer)")
	}
	return c.signaler.SendSignal(peer, types.WebRTCSignal{Answer: &types.SDPPayload{SDP: answer.SDP}})
}

// HandleAnswer applies a remote answer from peer (§4.B step 4).
func (c *Connector) HandleAnswer(peer, sdp string) error {
	state, ok := c.lookupPeer(peer)
	if !ok || state.pc == nil {
		return protocolerr.New(protocolerr.KindProtocol, fmt.Sprintf("answer from %s with no pending offer", peer))
	}
	if err := state.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "set remote description (answer)")
	}
	c.markRemoteDescSet(state)
	return c.drainICE(peer, state)
}

// HandleCandidate applies or buffers a remote ICE candidate from peer
// (§4.B step 5).
func (c *Connector) HandleCandidate(peer string, candidate types.ICECandidate) error {
	state, ok := c.lookupPeer(peer)
	if !ok {
		return protocolerr.New(protocolerr.KindProtocol, fmt.Sprintf("ICE candidate from unknown peer %s", peer))
	}

	init := webrtc.ICECandidateInit{Candidate: candidate.Candidate}
	if candidate.SDPMid != "" {
		mid := candidate.SDPMid
		init.SDPMid = &mid
	}
	if candidate.SDPMLineIndex != nil {
		v := uint16(*candidate.SDPMLineIndex)
		init.SDPMLineIndex = &v
	}

	state.mu.Lock()
	ready := state.remoteDescSet
	if !ready {
		state.pendingICE = append(state.pendingICE, init)
	}
	pc := state.pc
	state.mu.Unlock()

	if !ready {
		return nil
	}
	if pc == nil {
		return protocolerr.New(protocolerr.KindProtocol, fmt.Sprintf("ICE candidate for %s with no connection", peer))
	}
	return pc.AddICECandidate(init)
}

func (c *Connector) markRemoteDescSet(state *peerConn) {
	state.mu.Lock()
	state.remoteDescSet = true
	state.mu.Unlock()
}

func (c *Connector) drainICE(peer string, state *peerConn) error {
	state.mu.Lock()
	pending := state.pendingICE
	state.pendingICE = nil
	pc := state.pc
	state.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			return protocolerr.Wrapf(protocolerr.KindNetwork, err, "add buffered ICE candidate for %s", peer)
		}
	}
	return nil
}

func (c *Connector) lookupPeer(peer string) (*peerConn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.peers[peer]
	return state, ok
}

// SendFrame JSON-encodes and sends an application frame to one peer over
// its established datastream.
func (c *Connector) SendFrame(peer string, frame interface{}) error {
	state, ok := c.lookupPeer(peer)
	if !ok {
		return protocolerr.New(protocolerr.KindNetwork, fmt.Sprintf("no connection to %s", peer))
	}
	state.mu.Lock()
	dc := state.dc
	phase := state.phase
	state.mu.Unlock()
	if dc == nil || phase != types.ConnConnected {
		return protocolerr.New(protocolerr.KindNetwork, fmt.Sprintf("datastream to %s not open", peer))
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := dc.Send(data); err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "send frame")
	}
	return nil
}

// Broadcast sends frame to every named peer, collecting the first error
// but still attempting all sends. When a batcher is configured (§2.B),
// each peer's frame is queued instead of sent immediately, coalescing a
// round's many same-recipient broadcasts into fewer datastream sends.
func (c *Connector) Broadcast(peers []string, frame interface{}) error {
	var firstErr error
	for _, p := range peers {
		if p == c.selfID {
			continue
		}
		var err error
		if c.batch.enabled() {
			err = c.batch.send(p, frame)
		} else {
			err = c.SendFrame(p, frame)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Phase reports peer's current connection phase.
func (c *Connector) Phase(peer string) types.ConnectionPhase {
	state, ok := c.lookupPeer(peer)
	if !ok {
		return types.ConnNew
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.phase
}

// ShouldReconnect reports whether the reconnection tracker currently
// permits another attempt against peer (§4.B "Reconnection tracker").
func (c *Connector) ShouldReconnect(peer string) bool {
	return c.reconnect.shouldAttempt(peer)
}

// Reconnect tears down and recreates peer's connection object, recording
// the attempt with the reconnection tracker.
func (c *Connector) Reconnect(peer string) error {
	c.reconnect.recordAttempt(peer)
	c.ClosePeer(peer)
	return c.EnsurePeer(peer)
}

// ClosePeer force-closes a single peer connection, clearing all its
// state: used both on reconnect and on session rejoin (§4.C "Rejoin").
func (c *Connector) ClosePeer(peer string) {
	c.mu.Lock()
	state, ok := c.peers[peer]
	delete(c.peers, peer)
	c.mu.Unlock()
	if !ok {
		return
	}
	state.mu.Lock()
	pc := state.pc
	state.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

// CloseAll force-closes every peer connection (§4.C rejoin step (i), and
// session teardown on Complete/Failed).
func (c *Connector) CloseAll() {
	c.mu.Lock()
	peers := make([]string, 0, len(c.peers))
	for p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()
	for _, p := range peers {
		c.ClosePeer(p)
	}
}
