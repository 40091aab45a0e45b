// Package meshready implements the mesh-ready barrier of spec §4.D: the
// MESH_READY event only fires once both (1) every peer's datastream has
// opened locally and (2) every peer's own MeshReady frame has been
// received, with this device's own broadcast counted in before it goes
// out over the wire so a fast peer's reply can't race it.
//
// Like pkg/session.Machine, a Coordinator is owned exclusively by the
// command-bus task and carries no internal locking.
package meshready

import (
	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// Handlers lets the command bus react to barrier side effects without
// this package depending on pkg/mesh or pkg/session.
type Handlers struct {
	// BroadcastMeshReady sends this device's MeshReady frame to every
	// peer over the mesh datastream.
	BroadcastMeshReady func(sessionID string, frame types.MeshReadyFrame) error
	// OnMeshReady fires exactly once per session once both criteria
	// hold; the command bus responds by sending itself
	// CheckAndTriggerDkg (§4.D last bullet).
	OnMeshReady func(sessionID string)
}

// Coordinator tracks the mesh-readiness barrier for at most one session
// at a time, matching the one-session-per-device data model.
type Coordinator struct {
	selfDeviceID string
	handlers     Handlers
	log          *zap.Logger

	status *types.MeshStatus
	sessionID string

	// Frames/channel-opens that arrive before Start is called for their
	// session are buffered and replayed once Start runs, per §4.D's
	// "received before session is Active" race note.
	pendingFrames   map[string][]types.MeshReadyFrame
	pendingChannels map[string][]string
}

// New builds an empty Coordinator.
func New(selfDeviceID string, handlers Handlers, log *zap.Logger) *Coordinator {
	return &Coordinator{
		selfDeviceID:    selfDeviceID,
		handlers:        handlers,
		log:             log,
		pendingFrames:   make(map[string][]types.MeshReadyFrame),
		pendingChannels: make(map[string][]string),
	}
}

// Status returns the current session's mesh status, or nil if none is
// tracked.
func (c *Coordinator) Status() *types.MeshStatus { return c.status }

// Start begins tracking the mesh-ready barrier for sessionID, with
// total peers (including self). Any channel-opens or MeshReady frames
// that arrived for this session before Start was called are replayed.
func (c *Coordinator) Start(sessionID string, total int) error {
	c.sessionID = sessionID
	c.status = types.NewMeshStatus(total)

	for _, peer := range c.pendingChannels[sessionID] {
		c.status.ChannelsOpen[peer] = struct{}{}
	}
	delete(c.pendingChannels, sessionID)

	pending := c.pendingFrames[sessionID]
	delete(c.pendingFrames, sessionID)

	if err := c.recheckChannels(sessionID); err != nil {
		return err
	}
	for _, f := range pending {
		c.status.ConfirmedPeers[f.DeviceID] = struct{}{}
	}
	return c.maybeFire(sessionID)
}

// Reset drops the tracked session and its mesh status, e.g. on session
// Leave/Reset or rejoin teardown. Channel opens and MeshReady frames
// buffered for sessions not yet started are kept.
func (c *Coordinator) Reset() {
	c.sessionID = ""
	c.status = nil
}

// OnChannelOpen records that the local datastream to peer has opened
// (§4.D criterion 1). It may arrive before Start, in which case it is
// buffered.
func (c *Coordinator) OnChannelOpen(sessionID, peer string) error {
	if c.status == nil || c.sessionID != sessionID {
		c.pendingChannels[sessionID] = append(c.pendingChannels[sessionID], peer)
		return nil
	}
	c.status.ChannelsOpen[peer] = struct{}{}
	return c.recheckChannels(sessionID)
}

// OnMeshReadyFrame records a peer's MeshReady confirmation (§4.D
// criterion 2). It may arrive before Start, in which case it is
// buffered and replayed.
func (c *Coordinator) OnMeshReadyFrame(frame types.MeshReadyFrame) error {
	if c.status == nil || c.sessionID != frame.SessionID {
		c.pendingFrames[frame.SessionID] = append(c.pendingFrames[frame.SessionID], frame)
		return nil
	}
	c.status.ConfirmedPeers[frame.DeviceID] = struct{}{}
	return c.maybeFire(frame.SessionID)
}

// recheckChannels broadcasts this device's own MeshReady once every
// peer's channel is open locally, then checks whether the barrier is
// now fully satisfied.
func (c *Coordinator) recheckChannels(sessionID string) error {
	st := c.status
	if !st.OwnMeshReadySent && len(st.ChannelsOpen) >= st.Total-1 {
		// Set before broadcasting: a peer's MeshReady arriving mid-send
		// must not be mistaken for a duplicate-of-own (§4.D note 1).
		st.OwnMeshReadySent = true
		if c.handlers.BroadcastMeshReady != nil {
			if err := c.handlers.BroadcastMeshReady(sessionID, types.MeshReadyFrame{
				SessionID: sessionID,
				DeviceID:  c.selfDeviceID,
			}); err != nil {
				if c.log != nil {
					c.log.Sugar().Warnw("failed to broadcast mesh-ready", "session_id", sessionID, "error", err)
				}
				return err
			}
		}
	}
	return c.maybeFire(sessionID)
}

func (c *Coordinator) maybeFire(sessionID string) error {
	st := c.status
	if st == nil || st.Kind == types.MeshReady {
		return nil
	}
	if st.OwnMeshReadySent && len(st.ConfirmedPeers) >= st.Total-1 {
		st.Kind = types.MeshReady
		if c.log != nil {
			c.log.Sugar().Infow("mesh ready", "session_id", sessionID)
		}
		if c.handlers.OnMeshReady != nil {
			c.handlers.OnMeshReady(sessionID)
		}
		return nil
	}
	if len(st.ChannelsOpen) > 0 || len(st.ConfirmedPeers) > 0 {
		st.Kind = types.MeshPartiallyReady
	}
	return nil
}
