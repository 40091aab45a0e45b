// Package node wires every collaborator into one running process: the
// signal relay client, the mesh connector, the session machine, the
// mesh-ready barrier, the DKG and signing coordinators, the keystore, the
// deduplicator, and the command bus that serializes all of it (§4.H).
//
// Grounded on the teacher's pkg/node.Node (constructor-injection Config
// struct, Start/Stop lifecycle) even though none of its blockchain/KMS
// fields survive — the wiring and lifecycle shape is what's kept.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/commandbus"
	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/dedup"
	"github.com/Layr-Labs/frost-wallet-node/pkg/dkgcoord"
	"github.com/Layr-Labs/frost-wallet-node/pkg/keystore"
	"github.com/Layr-Labs/frost-wallet-node/pkg/mesh"
	"github.com/Layr-Labs/frost-wallet-node/pkg/meshready"
	"github.com/Layr-Labs/frost-wallet-node/pkg/offline"
	"github.com/Layr-Labs/frost-wallet-node/pkg/session"
	"github.com/Layr-Labs/frost-wallet-node/pkg/signalrelay"
	"github.com/Layr-Labs/frost-wallet-node/pkg/signingcoord"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// defaultOfflineExpirationMinutes bounds how long an exported signing
// artifact stays valid for physical transfer before an import must fail
// closed (§4.F offline supplement).
const defaultOfflineExpirationMinutes = 60

// deadlineTickInterval is how often Node evaluates the current session's
// deadline against time.Now (§5 suspension point (v)); finer than the
// shortest configured timeout so a blown deadline is never missed by more
// than this.
const deadlineTickInterval = time.Second

// Node owns the full set of long-lived collaborators for one device and
// drives their lifecycle.
type Node struct {
	cfg config.Config
	log *zap.Logger

	Bus   *commandbus.Bus
	Relay *signalrelay.Client
	Mesh  *mesh.Connector

	cancel context.CancelFunc
}

// New assembles every collaborator in the order their constructor
// dependencies require (see commandbus.Deps's doc comment: Mesh, Session,
// MeshReady, DKG and Signing all take the Bus's own handler methods, so
// they're built after the Bus and wired back in via Bus.Wire).
func New(cfg config.Config, walletPassword func(walletID string) ([]byte, error), log *zap.Logger) *Node {
	store := keystore.New(cfg.KeystoreRoot)
	deduplicator := dedup.New(cfg.DedupCapacity, time.Duration(cfg.DedupTTLSecond)*time.Second)

	bus := commandbus.New(commandbus.Deps{
		SelfDeviceID:   cfg.DeviceID,
		Curve:          cfg.Curve,
		Store:          store,
		Dedup:          deduplicator,
		WalletPassword: walletPassword,
	}, log)

	relay := signalrelay.New(cfg.SignalServer, cfg.DeviceID, bus.RelayHandlers(), log)
	meshConnector := mesh.New(cfg.DeviceID, cfg.ICEServers, cfg.Reconnect, cfg.Batch, bus, bus.MeshHandlers(), log)
	sessionMachine := session.New(cfg.DeviceID, cfg.Timeouts, bus.SessionHooks(), log)
	meshReadyCoord := meshready.New(cfg.DeviceID, bus.MeshReadyHandlers(), log)
	dkgCoord := dkgcoord.New(cfg.DeviceID, store, bus.DKGHandlers(), log)
	signingCoord := signingcoord.New(cfg.DeviceID, bus.SigningHandlers(), log)

	bus.Wire(relay, meshConnector, sessionMachine, meshReadyCoord, dkgCoord, signingCoord)

	return &Node{cfg: cfg, log: log, Bus: bus, Relay: relay, Mesh: meshConnector}
}

// Start connects to the signal relay and begins draining the command bus.
// It blocks until ctx is cancelled or the relay connection fails
// unrecoverably.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	errCh := make(chan error, 1)
	if n.cfg.Offline {
		n.log.Sugar().Infow("starting offline: signal relay not connected", "device_id", n.cfg.DeviceID)
	} else {
		go func() { errCh <- n.Relay.Run(ctx) }()
	}
	go n.tickDeadlines(ctx)
	go n.Mesh.Run(ctx)

	busErr := make(chan error, 1)
	go func() { busErr <- n.Bus.Run(ctx) }()

	select {
	case err := <-errCh:
		cancel()
		if err != nil {
			return fmt.Errorf("signal relay connection failed: %w", err)
		}
		return nil
	case err := <-busErr:
		cancel()
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop cancels the running Node's context, unwinding Start.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

// tickDeadlines periodically posts a CheckDeadlines command so the session
// machine can notice a blown join/acceptance/round deadline even when no
// inbound frame would otherwise trigger the check (§5 suspension point
// (v)).
func (n *Node) tickDeadlines(ctx context.Context) {
	ticker := time.NewTicker(deadlineTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Bus.CheckDeadlines(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// CreateWallet proposes a fresh DKG session for a new wallet_id (§4.C,
// §4.E), minting a fresh session id the way the teacher mints request ids
// for its own protocol rounds. Returns the session id so the caller can
// track or cancel it.
func (n *Node) CreateWallet(walletID string, password []byte, total, threshold int, participants []string) string {
	sessionID := uuid.NewString()
	n.Bus.CreateSession(sessionID, walletID, password, total, threshold, participants, string(n.cfg.Curve), types.SessionKindDKG, nil, "", nil)
	return sessionID
}

// JoinWallet accepts an in-flight DKG session this device was invited to.
// sessionID comes from the proposal the device already received, not from
// this call.
func (n *Node) JoinWallet(sessionID, walletID string, password []byte) {
	n.Bus.JoinSession(sessionID, walletID, password)
}

// SignMessage initiates a signing session over an existing wallet's
// participant set (§4.F), minting a fresh signing id.
func (n *Node) SignMessage(walletID string, message []byte, blockchain string, chainID *int64, total, threshold int, participants []string) string {
	signingID := uuid.NewString()
	n.Bus.InitiateSigning(signingID, walletID, message, blockchain, chainID, total, threshold, participants)
	return signingID
}

// ListWallets reports the wallet ids this device holds key material for
// under the given curve.
func (n *Node) ListWallets(curveType string) ([]string, error) {
	return n.Bus.ListWallets(curveType)
}

// ExportSigningRequest writes a receivable SigningRequestFrame to path so
// an air-gapped participant (cfg.Offline) can review and act on it
// without ever joining the mesh (§6 --offline, §4's offline export/import
// supplement).
func (n *Node) ExportSigningRequest(frame types.SigningRequestFrame, path string) error {
	return offline.ExportSigningRequest(frame, path, time.Now(), defaultOfflineExpirationMinutes)
}

// ImportSigningRequest reads back an exported SigningRequestFrame so an
// offline node can produce its round-1 commitment without a live mesh.
func (n *Node) ImportSigningRequest(path string) (*types.SigningRequestFrame, error) {
	return offline.ImportSigningRequest(path, time.Now())
}

// ExportSigningCommitment writes an air-gapped signer's round-1 commitment
// for physical transfer back to the coordinating device.
func (n *Node) ExportSigningCommitment(frame types.SigningCommitmentFrame, path string) error {
	return offline.ExportCommitments(frame, path, time.Now(), defaultOfflineExpirationMinutes)
}

// ImportSigningCommitment reads back an exported SigningCommitmentFrame.
func (n *Node) ImportSigningCommitment(path string) (*types.SigningCommitmentFrame, error) {
	return offline.ImportCommitments(path, time.Now())
}

// ExportSignerSelection writes the coordinator's selected-signer package
// for an air-gapped participant to pick up and begin round 2 from.
func (n *Node) ExportSignerSelection(frame types.SignerSelectionFrame, path string) error {
	return offline.ExportSigningPackage(frame, path, time.Now(), defaultOfflineExpirationMinutes)
}

// ImportSignerSelection reads back an exported SignerSelectionFrame.
func (n *Node) ImportSignerSelection(path string) (*types.SignerSelectionFrame, error) {
	return offline.ImportSigningPackage(path, time.Now())
}

// ExportSignatureShare writes an air-gapped signer's round-2 share for
// physical transfer back to the coordinator.
func (n *Node) ExportSignatureShare(frame types.SignatureShareFrame, path string) error {
	return offline.ExportSignatureShare(frame, path, time.Now(), defaultOfflineExpirationMinutes)
}

// ImportSignatureShare reads back an exported SignatureShareFrame.
func (n *Node) ImportSignatureShare(path string) (*types.SignatureShareFrame, error) {
	return offline.ImportSignatureShare(path, time.Now())
}

// ExportAggregatedSignature writes the final aggregated signature so an
// air-gapped participant can confirm the round completed.
func (n *Node) ExportAggregatedSignature(frame types.AggregatedSignatureFrame, path string) error {
	return offline.ExportAggregatedSignature(frame, path, time.Now(), defaultOfflineExpirationMinutes)
}

// ImportAggregatedSignature reads back an exported AggregatedSignatureFrame.
func (n *Node) ImportAggregatedSignature(path string) (*types.AggregatedSignatureFrame, error) {
	return offline.ImportAggregatedSignature(path, time.Now())
}
