// Package dkgcoord drives the two-round FROST DKG protocol over an
// already-mesh-ready session (§4.E): round-1 broadcast of public
// commitments, round-2 pairwise secret shares, and finalize-and-persist
// into the keystore. It wires pkg/frost's part1/part2/part3 contract to
// frames sent over pkg/mesh's datastream, with pkg/identity supplying the
// deterministic device-id ↔ FROST-identifier mapping.
//
// Like pkg/session.Machine, a Coordinator tracks at most one session at a
// time and is owned exclusively by the command-bus task.
package dkgcoord

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/identity"
	"github.com/Layr-Labs/frost-wallet-node/pkg/keystore"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// Handlers lets the command bus deliver DKG frames to peers without this
// package depending on pkg/mesh.
type Handlers struct {
	// BroadcastRound1 sends this device's round-1 package to every
	// other participant.
	BroadcastRound1 func(sessionID string, frame types.DkgRound1Frame) error
	// SendRound2 sends a peer-specific round-2 package to exactly one
	// recipient.
	SendRound2 func(to string, frame types.DkgRound2Frame) error
	// OnComplete fires once the key package has been persisted.
	OnComplete func(sessionID, walletID string)
	// OnFailed fires on any protocol error; DKG is not resumable, so
	// the caller should fail the whole session (§4.E "Ordering...").
	OnFailed func(sessionID, reason string)
}

// Coordinator runs one DKG attempt at a time.
type Coordinator struct {
	selfDeviceID string
	store        *keystore.Store
	handlers     Handlers
	log          *zap.Logger

	sessionID string
	walletID  string
	password  []byte
	curveType string

	suite      *frost.Suite
	assignment *identity.Assignment
	state      types.DKGState

	secret1 *frost.Round1SecretPackage
	secret2 *frost.Round2SecretPackage

	receivedR1 map[string]*frost.Round1Package // keyed by device_id, includes self
	receivedR2 map[string]*frost.Round2Package // keyed by device_id (from), peers only

	total int

	// Frames that arrive for a session before Start has run for it (a
	// faster peer can broadcast round 1 before this device processes
	// MESH_READY) are buffered and replayed once Start catches up, the
	// same race Start solves for in §4.D.
	pendingR1 map[string][]types.DkgRound1Frame
	pendingR2 map[string][]types.DkgRound2Frame
}

// New builds an idle Coordinator.
func New(selfDeviceID string, store *keystore.Store, handlers Handlers, log *zap.Logger) *Coordinator {
	return &Coordinator{
		selfDeviceID: selfDeviceID,
		store:        store,
		handlers:     handlers,
		log:          log,
		state:        types.DKGIdle,
		pendingR1:    make(map[string][]types.DkgRound1Frame),
		pendingR2:    make(map[string][]types.DkgRound2Frame),
	}
}

// State reports the current DKG state.
func (c *Coordinator) State() types.DKGState { return c.state }

// Start begins DKG round 1 for a mesh-ready session (§4.E preconditions:
// mesh_status == Ready, dkg_state == Idle).
func (c *Coordinator) Start(sessionID, walletID string, password []byte, curveType string, threshold, total int, participants []string) error {
	if c.state != types.DKGIdle {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot start dkg from state %s", c.state))
	}

	suite, err := frost.New(frost.CipherSuite(curveType), threshold, total)
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindValidation, err, "build frost suite")
	}
	assignment, err := identity.Assign(suite.Group(), participants)
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindValidation, err, "assign frost identifiers")
	}
	selfID, err := assignment.Identifier(c.selfDeviceID)
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindValidation, err, "self not a dkg participant")
	}

	secret1, public1, err := suite.Part1(selfID)
	if err != nil {
		return c.fail(sessionID, protocolerr.Wrap(protocolerr.KindCrypto, err, "dkg part1"))
	}

	c.sessionID = sessionID
	c.walletID = walletID
	c.password = password
	c.curveType = curveType
	c.suite = suite
	c.assignment = assignment
	c.total = total
	c.secret1 = secret1
	c.receivedR1 = map[string]*frost.Round1Package{c.selfDeviceID: public1}
	c.receivedR2 = make(map[string]*frost.Round2Package)
	c.state = types.DKGRound1InProgress

	packageB64, err := encodeRound1(public1)
	if err != nil {
		return c.fail(sessionID, err)
	}
	if c.handlers.BroadcastRound1 != nil {
		if err := c.handlers.BroadcastRound1(sessionID, types.DkgRound1Frame{
			SessionID:  sessionID,
			From:       c.selfDeviceID,
			PackageB64: packageB64,
		}); err != nil {
			return c.fail(sessionID, protocolerr.Wrap(protocolerr.KindNetwork, err, "broadcast round-1 package"))
		}
	}
	if c.log != nil {
		c.log.Sugar().Infow("dkg round 1 started", "session_id", sessionID, "total", total)
	}

	// Replay any round-1 frames a faster peer sent before this device
	// reached Start for the same session.
	buffered := c.pendingR1[sessionID]
	delete(c.pendingR1, sessionID)
	for _, frame := range buffered {
		if err := c.OnRound1Frame(frame); err != nil {
			return err
		}
	}
	return nil
}

// OnRound1Frame records a peer's round-1 package (§4.E "Round 1"). When
// every other participant's package is in hand, round 2 fires
// automatically. A frame that arrives while this device is still Idle (a
// faster peer racing ahead) is buffered and replayed from Start; a frame
// for a different session than the one in progress is rejected.
func (c *Coordinator) OnRound1Frame(frame types.DkgRound1Frame) error {
	if c.state == types.DKGIdle {
		c.pendingR1[frame.SessionID] = append(c.pendingR1[frame.SessionID], frame)
		return nil
	}
	if frame.SessionID != c.sessionID {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("round-1 frame for session %s while running %s", frame.SessionID, c.sessionID))
	}
	if c.state != types.DKGRound1InProgress {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("round-1 frame received in state %s", c.state))
	}
	if _, dup := c.receivedR1[frame.From]; dup {
		return nil
	}

	pkg, err := decodeRound1(c.suite.Group(), frame.PackageB64)
	if err != nil {
		return c.fail(c.sessionID, err)
	}
	c.receivedR1[frame.From] = pkg

	if len(c.receivedR1) < c.total {
		return nil
	}
	c.state = types.DKGRound1Complete
	return c.startRound2()
}

func (c *Coordinator) startRound2() error {
	peerPackages := make(map[string]*frost.Round1Package, c.total-1)
	for deviceID, pkg := range c.receivedR1 {
		if deviceID == c.selfDeviceID {
			continue
		}
		peerPackages[deviceID] = pkg
	}

	secret2, outPackages, err := c.suite.Part2(c.secret1, peerPackages)
	if err != nil {
		return c.fail(c.sessionID, protocolerr.Wrap(protocolerr.KindCrypto, err, "dkg part2"))
	}
	c.secret1.Zero()
	c.secret1 = nil
	c.secret2 = secret2
	c.state = types.DKGRound2InProgress

	for deviceID, pkg := range outPackages {
		packageB64, err := encodeRound2(pkg)
		if err != nil {
			return c.fail(c.sessionID, err)
		}
		if c.handlers.SendRound2 == nil {
			continue
		}
		if err := c.handlers.SendRound2(deviceID, types.DkgRound2Frame{
			SessionID:  c.sessionID,
			From:       c.selfDeviceID,
			To:         deviceID,
			PackageB64: packageB64,
		}); err != nil {
			return c.fail(c.sessionID, protocolerr.Wrap(protocolerr.KindNetwork, err, fmt.Sprintf("send round-2 package to %s", deviceID)))
		}
	}
	if c.log != nil {
		c.log.Sugar().Infow("dkg round 2 started", "session_id", c.sessionID)
	}

	sessionID := c.sessionID
	buffered := c.pendingR2[sessionID]
	delete(c.pendingR2, sessionID)
	for _, frame := range buffered {
		if err := c.OnRound2Frame(frame); err != nil {
			return err
		}
	}
	return nil
}

// OnRound2Frame records a peer's round-2 share addressed to this device.
// Frames addressed to other devices are ignored (the datastream is
// shared, not per-recipient). When every peer's share is in hand,
// finalize runs automatically. A frame arriving before this device has
// reached round 2 for the same session is buffered and replayed from
// startRound2.
func (c *Coordinator) OnRound2Frame(frame types.DkgRound2Frame) error {
	if c.state == types.DKGIdle || frame.SessionID != c.sessionID {
		c.pendingR2[frame.SessionID] = append(c.pendingR2[frame.SessionID], frame)
		return nil
	}
	if c.state == types.DKGRound1InProgress || c.state == types.DKGRound1Complete {
		c.pendingR2[frame.SessionID] = append(c.pendingR2[frame.SessionID], frame)
		return nil
	}
	if c.state != types.DKGRound2InProgress {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("round-2 frame received in state %s", c.state))
	}
	if frame.To != c.selfDeviceID {
		return nil
	}
	if _, dup := c.receivedR2[frame.From]; dup {
		return nil
	}

	pkg, err := decodeRound2(c.suite.Group(), frame.PackageB64)
	if err != nil {
		return c.fail(c.sessionID, err)
	}
	c.receivedR2[frame.From] = pkg

	if len(c.receivedR2) < c.total-1 {
		return nil
	}
	c.state = types.DKGRound2Complete
	return c.finalize()
}

func (c *Coordinator) finalize() error {
	c.state = types.DKGFinalizing
	keyPkg, pubPkg, err := c.suite.Part3(c.secret2, c.receivedR1, c.receivedR2)
	c.secret2.Zero()
	c.secret2 = nil
	if err != nil {
		return c.fail(c.sessionID, protocolerr.Wrap(protocolerr.KindCrypto, err, "dkg part3"))
	}
	defer keyPkg.Zero()

	participantIndex := 0
	for i, deviceID := range c.assignment.SortedDeviceID {
		if deviceID == c.selfDeviceID {
			participantIndex = i + 1
			break
		}
	}

	err = c.store.Save(keystore.SaveParams{
		WalletID:          c.walletID,
		Password:          c.password,
		DeviceID:          c.selfDeviceID,
		CurveType:         c.curveType,
		SessionID:         c.sessionID,
		Threshold:         c.suite.Threshold(),
		TotalParticipants: c.total,
		ParticipantIndex:  participantIndex,
		Participants:      c.assignment.SortedDeviceID,
		KeyPackage:        keyPkg,
		PublicKeyPackage:  pubPkg,
	})
	if err != nil {
		return c.fail(c.sessionID, err)
	}

	c.state = types.DKGComplete
	if c.log != nil {
		c.log.Sugar().Infow("dkg complete", "session_id", c.sessionID, "wallet_id", c.walletID)
	}
	if c.handlers.OnComplete != nil {
		c.handlers.OnComplete(c.sessionID, c.walletID)
	}
	return nil
}

func (c *Coordinator) fail(sessionID string, err error) error {
	c.state = types.DKGFailed
	if c.secret1 != nil {
		c.secret1.Zero()
		c.secret1 = nil
	}
	if c.secret2 != nil {
		c.secret2.Zero()
		c.secret2 = nil
	}
	if c.log != nil {
		c.log.Sugar().Warnw("dkg failed", "session_id", sessionID, "error", err)
	}
	if c.handlers.OnFailed != nil {
		c.handlers.OnFailed(sessionID, err.Error())
	}
	return err
}

// Reset discards all in-progress state, e.g. when the owning session is
// torn down for a restart with a new session_id (§4.E "DKG is not
// resumable").
func (c *Coordinator) Reset() {
	if c.secret1 != nil {
		c.secret1.Zero()
	}
	if c.secret2 != nil {
		c.secret2.Zero()
	}
	*c = Coordinator{
		selfDeviceID: c.selfDeviceID,
		store:        c.store,
		handlers:     c.handlers,
		log:          c.log,
		state:        types.DKGIdle,
		pendingR1:    make(map[string][]types.DkgRound1Frame),
		pendingR2:    make(map[string][]types.DkgRound2Frame),
	}
}
