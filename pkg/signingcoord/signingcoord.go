// Package signingcoord drives FROST threshold signing over a mesh-ready
// session with an already-persisted key package (§4.F): initiation and
// acceptor collection, deterministic signer selection, two signing
// rounds, and aggregation + verification. It wires pkg/frost's
// sign_round1/sign_round2/aggregate/verify contract to frames sent over
// pkg/mesh's datastream.
//
// Like pkg/dkgcoord.Coordinator, a Coordinator here tracks at most one
// signing attempt at a time and is owned exclusively by the command-bus
// task.
package signingcoord

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/curve"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/identity"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// Handlers lets the command bus deliver signing frames to peers without
// this package depending on pkg/mesh.
type Handlers struct {
	BroadcastSigningRequest      func(signingID string, frame types.SigningRequestFrame) error
	BroadcastAcceptSigning       func(signingID string, frame types.AcceptSigningFrame) error
	BroadcastSignerSelection     func(signingID string, frame types.SignerSelectionFrame) error
	BroadcastSigningCommitment   func(signingID string, frame types.SigningCommitmentFrame) error
	BroadcastSignatureShare      func(signingID string, frame types.SignatureShareFrame) error
	BroadcastAggregatedSignature func(signingID string, frame types.AggregatedSignatureFrame) error
	// OnComplete fires for every participant (selected signer or not)
	// once a verified aggregated signature is available.
	OnComplete func(signingID string, signature *frost.Signature)
	OnFailed   func(signingID string, reason string)
}

// Params bundles the per-wallet material a Coordinator needs, loaded from
// the keystore before a signing attempt can begin.
type Params struct {
	WalletID   string
	Suite      *frost.Suite
	KeyPackage *frost.KeyPackage
	PublicKeys *frost.PublicKeyPackage
	Assignment *identity.Assignment
	Threshold  int
}

// Coordinator runs one signing attempt at a time.
type Coordinator struct {
	selfDeviceID string
	handlers     Handlers
	log          *zap.Logger

	signingID   string
	params      Params
	isInitiator bool
	message     []byte
	blockchain  string
	chainID     *int64

	state     types.SigningState
	acceptors map[string]struct{} // device_id set, tracked by the initiator only

	selected map[string]struct{} // device_id set, once SignerSelection lands
	selfIn   bool

	nonce                *frost.SigningNonce
	receivedCommitments  map[string]*frost.SigningCommitment // keyed by identifier bytes
	receivedShares       map[string]*frost.SignatureShare    // keyed by identifier bytes
	signingPackage       *frost.SigningPackage

	pendingCommitments map[string][]types.SigningCommitmentFrame
	pendingShares      map[string][]types.SignatureShareFrame
}

// New builds an idle Coordinator.
func New(selfDeviceID string, handlers Handlers, log *zap.Logger) *Coordinator {
	return &Coordinator{
		selfDeviceID:       selfDeviceID,
		handlers:           handlers,
		log:                log,
		state:              types.SigningIdle,
		pendingCommitments: make(map[string][]types.SigningCommitmentFrame),
		pendingShares:      make(map[string][]types.SignatureShareFrame),
	}
}

// State reports the current signing state.
func (c *Coordinator) State() types.SigningState { return c.state }

// Initiate starts a signing attempt as the requesting device (§4.F
// "Initiation"). The initiator counts itself as the first acceptor.
func (c *Coordinator) Initiate(signingID string, params Params, message []byte, blockchain string, chainID *int64) error {
	if c.state != types.SigningIdle {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot initiate signing from state %s", c.state))
	}
	c.reset(signingID, params, message, blockchain, chainID)
	c.isInitiator = true
	c.acceptors = map[string]struct{}{c.selfDeviceID: {}}
	c.state = types.SigningAwaitingAcceptance

	if c.handlers.BroadcastSigningRequest != nil {
		if err := c.handlers.BroadcastSigningRequest(signingID, types.SigningRequestFrame{
			SigningID:       signingID,
			TransactionData: encodeB64(message),
			Blockchain:      blockchain,
			ChainID:         chainID,
			WalletID:        params.WalletID,
		}); err != nil {
			return c.fail(protocolerr.Wrap(protocolerr.KindNetwork, err, "broadcast signing request"))
		}
	}
	return c.maybeSelectSigners()
}

// OnSigningRequest handles an incoming SigningRequest as a non-initiating
// participant. The caller has already loaded params for the named wallet
// (§4.F precondition: "local device holds a key_package for this
// wallet"). This device always accepts; policy-based rejection is an
// Open Question left to a future UI layer.
func (c *Coordinator) OnSigningRequest(frame types.SigningRequestFrame, params Params) error {
	if c.state != types.SigningIdle {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot accept signing request from state %s", c.state))
	}
	c.reset(frame.SigningID, params, decodeB64(frame.TransactionData), frame.Blockchain, frame.ChainID)
	c.isInitiator = false
	c.state = types.SigningAwaitingAcceptance
	return c.Accept()
}

// Accept broadcasts this device's acceptance.
func (c *Coordinator) Accept() error {
	if c.state != types.SigningAwaitingAcceptance {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot accept from state %s", c.state))
	}
	if c.handlers.BroadcastAcceptSigning != nil {
		if err := c.handlers.BroadcastAcceptSigning(c.signingID, types.AcceptSigningFrame{
			SigningID: c.signingID,
			From:      c.selfDeviceID,
		}); err != nil {
			return c.fail(protocolerr.Wrap(protocolerr.KindNetwork, err, "broadcast accept-signing"))
		}
	}
	return nil
}

// OnAcceptSigning records an acceptor. Only meaningful for the
// initiator, which alone decides when the quorum is reached.
func (c *Coordinator) OnAcceptSigning(frame types.AcceptSigningFrame) error {
	if !c.isInitiator || frame.SigningID != c.signingID || c.state != types.SigningAwaitingAcceptance {
		return nil
	}
	c.acceptors[frame.From] = struct{}{}
	return c.maybeSelectSigners()
}

// maybeSelectSigners publishes SignerSelection once the acceptor set
// reaches size t, deterministically the first t acceptors by device-id
// (§4.F "Initiation").
func (c *Coordinator) maybeSelectSigners() error {
	if !c.isInitiator || len(c.acceptors) < c.params.Threshold {
		return nil
	}
	sortedAcceptors := make([]string, 0, len(c.acceptors))
	for id := range c.acceptors {
		sortedAcceptors = append(sortedAcceptors, id)
	}
	sort.Strings(sortedAcceptors)
	selected := sortedAcceptors[:c.params.Threshold]

	if c.handlers.BroadcastSignerSelection != nil {
		if err := c.handlers.BroadcastSignerSelection(c.signingID, types.SignerSelectionFrame{
			SigningID:        c.signingID,
			SelectedFrostIDs: selected,
		}); err != nil {
			return c.fail(protocolerr.Wrap(protocolerr.KindNetwork, err, "broadcast signer selection"))
		}
	}
	return c.applySelection(selected)
}

// OnSignerSelection applies a selection announced by the initiator.
func (c *Coordinator) OnSignerSelection(frame types.SignerSelectionFrame) error {
	if frame.SigningID != c.signingID || c.state != types.SigningAwaitingAcceptance {
		return nil
	}
	return c.applySelection(frame.SelectedFrostIDs)
}

func (c *Coordinator) applySelection(selectedDeviceIDs []string) error {
	c.selected = make(map[string]struct{}, len(selectedDeviceIDs))
	for _, id := range selectedDeviceIDs {
		c.selected[id] = struct{}{}
	}
	if _, ok := c.selected[c.selfDeviceID]; !ok {
		c.selfIn = false
		c.state = types.SigningIdle
		delete(c.pendingCommitments, c.signingID)
		delete(c.pendingShares, c.signingID)
		return nil
	}
	c.selfIn = true
	return c.beginRound1()
}

func (c *Coordinator) beginRound1() error {
	nonce, commitment, err := c.params.Suite.SignRound1(c.params.KeyPackage)
	if err != nil {
		return c.fail(protocolerr.Wrap(protocolerr.KindCrypto, err, "sign_round1"))
	}
	c.nonce = nonce
	c.receivedCommitments = map[string]*frost.SigningCommitment{idKey(commitment.Identifier): commitment}
	c.state = types.SigningCommitmentPhase

	commitmentsB64, err := encodeCommitment(commitment)
	if err != nil {
		return c.fail(err)
	}
	if c.handlers.BroadcastSigningCommitment != nil {
		if err := c.handlers.BroadcastSigningCommitment(c.signingID, types.SigningCommitmentFrame{
			SigningID:      c.signingID,
			From:           c.selfDeviceID,
			CommitmentsB64: commitmentsB64,
		}); err != nil {
			return c.fail(protocolerr.Wrap(protocolerr.KindNetwork, err, "broadcast signing commitment"))
		}
	}

	buffered := c.pendingCommitments[c.signingID]
	delete(c.pendingCommitments, c.signingID)
	for _, frame := range buffered {
		if err := c.OnSigningCommitment(frame); err != nil {
			return err
		}
	}
	return nil
}

// OnSigningCommitment records a selected signer's round-1 commitment.
// Commitments from devices not in the selected set, or arriving before
// this device has reached commitment phase, are buffered/ignored.
func (c *Coordinator) OnSigningCommitment(frame types.SigningCommitmentFrame) error {
	if frame.SigningID != c.signingID {
		return nil
	}
	if c.state == types.SigningAwaitingAcceptance {
		// Selection for this signingID may not have reached us yet (or
		// may still be in flight); a faster selected peer can start
		// round 1 before we've applied our own selection. Buffer rather
		// than drop -- beginRound1 replays this once we know selfIn.
		c.pendingCommitments[frame.SigningID] = append(c.pendingCommitments[frame.SigningID], frame)
		return nil
	}
	if !c.selfIn {
		return nil
	}
	if c.state != types.SigningCommitmentPhase {
		return nil
	}
	if _, known := c.selected[frame.From]; !known {
		return nil
	}

	commitment, err := decodeCommitment(c.params.Suite.Group(), commitmentIdentifier(c.params, frame.From), frame.CommitmentsB64)
	if err != nil {
		return c.fail(err)
	}
	key := idKey(commitment.Identifier)
	if _, dup := c.receivedCommitments[key]; dup {
		return nil
	}
	c.receivedCommitments[key] = commitment

	if len(c.receivedCommitments) < c.params.Threshold {
		return nil
	}
	c.state = types.SigningSharePhase
	return c.beginRound2()
}

func (c *Coordinator) beginRound2() error {
	c.signingPackage = frost.NewSigningPackage(c.message, c.receivedCommitments)
	share, err := c.params.Suite.SignRound2(c.params.KeyPackage, c.nonce, c.signingPackage)
	c.nonce.Zero()
	c.nonce = nil
	if err != nil {
		return c.fail(protocolerr.Wrap(protocolerr.KindCrypto, err, "sign_round2"))
	}
	c.receivedShares = map[string]*frost.SignatureShare{idKey(share.Identifier): share}

	shareB64, err := encodeShare(share)
	if err != nil {
		return c.fail(err)
	}
	if c.handlers.BroadcastSignatureShare != nil {
		if err := c.handlers.BroadcastSignatureShare(c.signingID, types.SignatureShareFrame{
			SigningID: c.signingID,
			From:      c.selfDeviceID,
			ShareB64:  shareB64,
		}); err != nil {
			return c.fail(protocolerr.Wrap(protocolerr.KindNetwork, err, "broadcast signature share"))
		}
	}

	buffered := c.pendingShares[c.signingID]
	delete(c.pendingShares, c.signingID)
	for _, frame := range buffered {
		if err := c.OnSignatureShare(frame); err != nil {
			return err
		}
	}
	return nil
}

// OnSignatureShare records a selected signer's round-2 share and
// aggregates once all t are in hand (§4.F "Aggregation").
func (c *Coordinator) OnSignatureShare(frame types.SignatureShareFrame) error {
	if frame.SigningID != c.signingID {
		return nil
	}
	if c.state == types.SigningAwaitingAcceptance || c.state == types.SigningCommitmentPhase {
		c.pendingShares[frame.SigningID] = append(c.pendingShares[frame.SigningID], frame)
		return nil
	}
	if !c.selfIn {
		return nil
	}
	if c.state != types.SigningSharePhase {
		return nil
	}
	if _, known := c.selected[frame.From]; !known {
		return nil
	}

	share, err := decodeShare(c.params.Suite.Group(), commitmentIdentifier(c.params, frame.From), frame.ShareB64)
	if err != nil {
		return c.fail(err)
	}
	key := idKey(share.Identifier)
	if _, dup := c.receivedShares[key]; dup {
		return nil
	}
	c.receivedShares[key] = share

	if len(c.receivedShares) < c.params.Threshold {
		return nil
	}
	return c.aggregate()
}

func (c *Coordinator) aggregate() error {
	sig, err := c.params.Suite.Aggregate(c.signingPackage, c.receivedShares, c.params.PublicKeys)
	if err != nil {
		return c.fail(protocolerr.Wrap(protocolerr.KindCrypto, err, "aggregate signature shares"))
	}
	if !c.params.Suite.Verify(c.message, sig, c.params.PublicKeys.GroupKey) {
		return c.fail(protocolerr.New(protocolerr.KindCrypto, "aggregated signature failed verification"))
	}

	c.state = types.SigningComplete
	if c.log != nil {
		c.log.Sugar().Infow("signing complete", "signing_id", c.signingID)
	}
	if c.handlers.BroadcastAggregatedSignature != nil {
		sigB64, encErr := encodeSignature(sig)
		if encErr == nil {
			_ = c.handlers.BroadcastAggregatedSignature(c.signingID, types.AggregatedSignatureFrame{
				SigningID:    c.signingID,
				SignatureB64: sigB64,
			})
		}
	}
	if c.handlers.OnComplete != nil {
		c.handlers.OnComplete(c.signingID, sig)
	}
	return nil
}

// OnAggregatedSignature lets a non-selected participant observe and
// verify the final result.
func (c *Coordinator) OnAggregatedSignature(frame types.AggregatedSignatureFrame, params Params, message []byte) error {
	if frame.SigningID != c.signingID {
		return nil
	}
	sig, err := decodeSignature(params.Suite.Group(), frame.SignatureB64)
	if err != nil {
		return err
	}
	if !params.Suite.Verify(message, sig, params.PublicKeys.GroupKey) {
		return protocolerr.New(protocolerr.KindCrypto, "observed aggregated signature failed verification")
	}
	c.state = types.SigningComplete
	if c.handlers.OnComplete != nil {
		c.handlers.OnComplete(c.signingID, sig)
	}
	return nil
}

func (c *Coordinator) fail(err error) error {
	c.state = types.SigningFailed
	if c.nonce != nil {
		c.nonce.Zero()
		c.nonce = nil
	}
	if c.log != nil {
		c.log.Sugar().Warnw("signing failed", "signing_id", c.signingID, "error", err)
	}
	if c.handlers.OnFailed != nil {
		c.handlers.OnFailed(c.signingID, err.Error())
	}
	return err
}

// Reset discards all in-progress state so the Coordinator can take on a
// new signing attempt.
func (c *Coordinator) Reset() {
	if c.nonce != nil {
		c.nonce.Zero()
	}
	*c = Coordinator{
		selfDeviceID:       c.selfDeviceID,
		handlers:           c.handlers,
		log:                c.log,
		state:              types.SigningIdle,
		pendingCommitments: make(map[string][]types.SigningCommitmentFrame),
		pendingShares:      make(map[string][]types.SignatureShareFrame),
	}
}

func (c *Coordinator) reset(signingID string, params Params, message []byte, blockchain string, chainID *int64) {
	c.signingID = signingID
	c.params = params
	c.message = message
	c.blockchain = blockchain
	c.chainID = chainID
}

// commitmentIdentifier resolves a peer device-id to its FROST identifier
// scalar via the session's identity assignment.
func commitmentIdentifier(params Params, deviceID string) curve.Scalar {
	id, err := params.Assignment.Identifier(deviceID)
	if err != nil {
		return nil
	}
	return id
}

func idKey(id curve.Scalar) string { return string(id.Bytes()) }
