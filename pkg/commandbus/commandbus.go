// Package commandbus implements the single ordered mailbox of §4.H: one
// task owns every piece of mutable protocol state (the session machine,
// the mesh-ready barrier, the DKG and signing coordinators) and serializes
// all transitions by draining this mailbox, eliminating the need for
// locking anywhere below it. Entry points that fire from a goroutine other
// than the bus's own consumer (mesh/relay callbacks, CLI-triggered
// actions) enqueue a Command; hooks that fire synchronously from within an
// already-dispatched Command's execution (e.g. a coordinator's OnComplete)
// dispatch directly, since they are already running on the single task and
// re-entering the channel would both be unnecessary and risk deadlocking a
// bounded mailbox against itself.
package commandbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/dedup"
	"github.com/Layr-Labs/frost-wallet-node/pkg/dkgcoord"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/identity"
	"github.com/Layr-Labs/frost-wallet-node/pkg/keystore"
	"github.com/Layr-Labs/frost-wallet-node/pkg/mesh"
	"github.com/Layr-Labs/frost-wallet-node/pkg/meshready"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/session"
	"github.com/Layr-Labs/frost-wallet-node/pkg/signalrelay"
	"github.com/Layr-Labs/frost-wallet-node/pkg/signingcoord"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// mailboxCapacity bounds the channel like the teacher's BlockHandler does
// for chain blocks; unlike blocks, protocol frames are not safe to drop, so
// Post blocks rather than falling back to a default-drop case once the
// mailbox is full.
const mailboxCapacity = 256

// Deps bundles every collaborator the bus drives. Mesh, Session, MeshReady,
// DKG and Signing all take the bus's own methods as constructor callbacks,
// so they necessarily come into existence after the Bus itself: build a
// Bus with the rest of Deps populated, construct those five against its
// MeshHandlers/SessionHooks/MeshReadyHandlers/DKGHandlers/SigningHandlers
// (and, for mesh.New, the Bus itself as the Signaler), then call Wire.
// WalletPassword may be nil if this node only ever participates in DKG
// sessions (never loads an existing wallet to sign).
type Deps struct {
	SelfDeviceID string
	Curve        config.CurveType

	Mesh      *mesh.Connector
	Relay     *signalrelay.Client
	Session   *session.Machine
	MeshReady *meshready.Coordinator
	DKG       *dkgcoord.Coordinator
	Signing   *signingcoord.Coordinator
	Store     *keystore.Store
	Dedup     *dedup.Deduplicator

	// WalletPassword resolves the decryption password for an existing
	// wallet by id, e.g. from an operator prompt or a local cache. Called
	// whenever a signing attempt needs to load key material this device
	// didn't just create in this process.
	WalletPassword func(walletID string) ([]byte, error)
}

// signingContext is the per-signing-attempt state the bus itself tracks,
// since signingcoord.Coordinator is keyed by signing_id but its Params and
// the original message aren't part of any single wire frame the aggregator
// observes (AggregatedSignatureFrame carries neither).
type signingContext struct {
	walletID string
	message  []byte
	params   signingcoord.Params
}

// Bus owns every piece of mutable session/DKG/signing state and drains a
// single channel to serialize all transitions (§4.H, §5 "Ordering
// guarantees").
type Bus struct {
	deps Deps
	log  *zap.Logger
	cmds chan command

	// currentWalletID/currentPassword/currentMessage/... capture the
	// caller's intent for the one session this one-session-per-device node
	// currently has Active, since neither DKG's Start nor a signing
	// initiation can be reconstructed from wire frames alone (§4.G: the
	// password never crosses the network).
	currentWalletID   string
	currentPassword   []byte
	currentMessage    []byte
	currentBlockchain string
	currentChainID    *int64

	signing map[string]*signingContext // keyed by signing_id
}

// New builds a Bus from the portion of Deps that doesn't depend on the bus
// itself (SelfDeviceID, Curve, Store, Dedup, WalletPassword). Call
// Wire once Mesh/Session/MeshReady/DKG/Signing have been constructed
// against this Bus's handler methods. The returned Bus is inert until Run
// is called.
func New(deps Deps, log *zap.Logger) *Bus {
	return &Bus{
		deps:    deps,
		log:     log,
		cmds:    make(chan command, mailboxCapacity),
		signing: make(map[string]*signingContext),
	}
}

// Wire completes Deps with the six collaborators that had to be
// constructed after the Bus (see Deps's doc comment — signalrelay.Client
// also takes the bus's RelayHandlers() at construction time, the same
// chicken-and-egg shape as the other five).
func (b *Bus) Wire(relay *signalrelay.Client, m *mesh.Connector, sess *session.Machine, meshReady *meshready.Coordinator, dkg *dkgcoord.Coordinator, signing *signingcoord.Coordinator) {
	b.deps.Relay = relay
	b.deps.Mesh = m
	b.deps.Session = sess
	b.deps.MeshReady = meshReady
	b.deps.DKG = dkg
	b.deps.Signing = signing
}

// SessionHooks returns the Hooks a caller must pass into session.New
// before Wire can run (session.Machine takes its Hooks at construction
// time).
func (b *Bus) SessionHooks() session.Hooks {
	return session.Hooks{
		OnRejoin:          b.onSessionRejoin,
		OnBroadcastUpdate: b.onSessionBroadcastUpdate,
	}
}

// Run drains the mailbox until ctx is cancelled, matching the teacher's
// BlockHandler.ListenToChannel shape (select over the channel and
// ctx.Done()).
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case cmd := <-b.cmds:
			b.dispatch(cmd)
		case <-ctx.Done():
			return nil
		}
	}
}

// Post enqueues cmd from a goroutine other than the bus's own consumer
// (mesh/relay callbacks, CLI-triggered actions). It blocks if the mailbox
// is full rather than dropping, since every variant here is a protocol
// event that must not be silently lost.
func (b *Bus) Post(cmd command) {
	b.cmds <- cmd
}

// dispatch runs cmd inline and logs (rather than propagates) any error,
// since the mailbox has no caller left to hand an error back to once a
// command has been accepted. Hooks that fire synchronously from within an
// already-running command's execution call this directly instead of Post,
// staying on the same logical task without risking a full-channel
// deadlock against itself.
func (b *Bus) dispatch(cmd command) {
	if err := cmd.run(b); err != nil {
		b.log.Sugar().Warnw("command failed", "command", fmt.Sprintf("%T", cmd), "error", err)
	}
}

type command interface {
	run(b *Bus) error
}

// --- Mesh-originated entry points (pkg/mesh.Handlers) ---

// MeshHandlers returns the Handlers this bus wants wired into a
// mesh.Connector constructed by the caller (pkg/node owns the
// constructor order: the bus's handlers must exist before the Connector's
// New call, so pkg/node builds the Bus first and passes these into
// mesh.New).
func (b *Bus) MeshHandlers() mesh.Handlers {
	return mesh.Handlers{
		OnChannelOpen: func(peer string) { b.Post(cmdChannelOpen{peer: peer}) },
		OnFrame:       func(peer string, raw json.RawMessage) { b.Post(cmdInboundFrame{peer: peer, raw: raw}) },
		OnPeerFailed:  func(peer string, err error) { b.Post(cmdPeerFailed{peer: peer, err: err}) },
	}
}

// SendSignal implements mesh.Signaler by wrapping the signal in the same
// single-key envelope convention used for datastream frames.
func (b *Bus) SendSignal(to string, signal types.WebRTCSignal) error {
	return b.deps.Relay.Relay(to, types.RelayPayloadEnvelope{Signal: &signal})
}

// --- Signal-relay-originated entry points (pkg/signalrelay.Handlers) ---

func (b *Bus) RelayHandlers() signalrelay.Handlers {
	return signalrelay.Handlers{
		OnRelay: func(from string, data json.RawMessage) {
			b.Post(cmdRelayPayload{from: from, raw: data})
		},
		OnSessionAvailable: func(sessionInfo json.RawMessage) {
			b.Post(cmdSessionAvailable{sessionInfo: sessionInfo})
		},
		OnSessionRemoved: func(sessionID, reason string) {
			b.Post(cmdSessionRemoved{sessionID: sessionID, reason: reason})
		},
	}
}

// --- CLI/UI-facing entry points ---

// Discover transitions Idle → Discovering and asks the relay for the
// current session roster.
func (b *Bus) Discover() { b.Post(cmdDiscover{}) }

// JoinSession records this device's intent to join sessionID — including,
// for a DKG session, the wallet_id/password the eventual finalize step
// will persist under, since neither crosses the wire (§4.G).
func (b *Bus) JoinSession(sessionID, walletID string, password []byte) {
	b.Post(cmdJoinSession{sessionID: sessionID, walletID: walletID, password: password})
}

// CreateSession proposes a new DKG or signing session as this device
// (§4.C "Create").
func (b *Bus) CreateSession(sessionID, walletID string, password []byte, total, threshold int, participants []string, curveType string, kind types.SessionKind, message []byte, blockchain string, chainID *int64) {
	b.Post(cmdCreateSession{
		sessionID: sessionID, walletID: walletID, password: password,
		total: total, threshold: threshold, participants: participants,
		curveType: curveType, kind: kind,
		message: message, blockchain: blockchain, chainID: chainID,
	})
}

// LeaveSession unwinds the current session per §5 "Cancellation".
func (b *Bus) LeaveSession(reason string) { b.Post(cmdLeaveSession{reason: reason}) }

// RetryJoin re-attempts a failed, retryable join.
func (b *Bus) RetryJoin() { b.Post(cmdRetryJoin{}) }

// CheckDeadlines evaluates the current session's deadline against now; a
// caller (pkg/node) ticks this periodically (§5 suspension point (v)).
func (b *Bus) CheckDeadlines(now time.Time) { b.Post(cmdCheckDeadline{now: now}) }

// InitiateSigning starts a fresh signing session for walletID (§4.F,
// reached via a Signing-kind session the same way a DKG session is).
func (b *Bus) InitiateSigning(sessionID, walletID string, message []byte, blockchain string, chainID *int64, total, threshold int, participants []string) {
	b.Post(cmdCreateSession{
		sessionID: sessionID, walletID: walletID,
		total: total, threshold: threshold, participants: participants,
		curveType: string(b.deps.Curve), kind: types.SessionKindSigning,
		message: message, blockchain: blockchain, chainID: chainID,
	})
}

// ListWallets answers synchronously via a reply channel — the one
// read-only query that makes sense to serve without a full mailbox
// round-trip delay, but still serialized through the bus so it never races
// a concurrent keystore Save.
func (b *Bus) ListWallets(curveType string) ([]string, error) {
	reply := make(chan listWalletsResult, 1)
	b.Post(cmdListWallets{curveType: curveType, reply: reply})
	res := <-reply
	return res.wallets, res.err
}

type listWalletsResult struct {
	wallets []string
	err     error
}

// --- Session hooks (pkg/session.Hooks) ---

func (b *Bus) onSessionRejoin(sess *types.Session) {
	b.deps.Mesh.CloseAll()
	b.deps.MeshReady.Reset()
	b.deps.DKG.Reset()
	b.deps.Signing.Reset()
}

func (b *Bus) onSessionBroadcastUpdate(sess *types.Session, updateType types.SessionUpdateType) {
	update := types.SessionUpdate{
		SessionID:    sess.SessionID,
		UpdateType:   updateType,
		Participants: sess.Participants,
		Timestamp:    time.Now().Unix(),
	}
	for _, p := range sess.Participants {
		if p == b.deps.SelfDeviceID {
			continue
		}
		if err := b.deps.Relay.Relay(p, types.RelayPayloadEnvelope{SessionUpdate: &update}); err != nil {
			b.log.Sugar().Warnw("failed to relay session update", "peer", p, "error", err)
		}
	}
}

// --- Coordinator handler wiring, built once in pkg/node and passed to
// meshready.New/dkgcoord.New/signingcoord.New. ---

func (b *Bus) MeshReadyHandlers() meshready.Handlers {
	return meshready.Handlers{
		BroadcastMeshReady: func(sessionID string, frame types.MeshReadyFrame) error {
			return b.broadcastFrame(sessionID, types.FrameEnvelope{MeshReady: &frame})
		},
		OnMeshReady: func(sessionID string) { b.dispatch(cmdCheckAndTriggerDkg{sessionID: sessionID}) },
	}
}

func (b *Bus) DKGHandlers() dkgcoord.Handlers {
	return dkgcoord.Handlers{
		BroadcastRound1: func(sessionID string, frame types.DkgRound1Frame) error {
			return b.broadcastFrame(sessionID, types.FrameEnvelope{DkgRound1: &frame})
		},
		SendRound2: func(to string, frame types.DkgRound2Frame) error {
			return b.deps.Mesh.SendFrame(to, types.FrameEnvelope{DkgRound2: &frame})
		},
		OnComplete: func(sessionID, walletID string) { b.dispatch(cmdDkgComplete{sessionID: sessionID, walletID: walletID}) },
		OnFailed:   func(sessionID, reason string) { b.dispatch(cmdDkgFailed{sessionID: sessionID, reason: reason}) },
	}
}

func (b *Bus) SigningHandlers() signingcoord.Handlers {
	return signingcoord.Handlers{
		BroadcastSigningRequest: func(signingID string, frame types.SigningRequestFrame) error {
			return b.broadcastFrame(signingID, types.FrameEnvelope{SigningRequest: &frame})
		},
		BroadcastAcceptSigning: func(signingID string, frame types.AcceptSigningFrame) error {
			return b.broadcastFrame(signingID, types.FrameEnvelope{AcceptSigning: &frame})
		},
		BroadcastSignerSelection: func(signingID string, frame types.SignerSelectionFrame) error {
			return b.broadcastFrame(signingID, types.FrameEnvelope{SignerSelection: &frame})
		},
		BroadcastSigningCommitment: func(signingID string, frame types.SigningCommitmentFrame) error {
			return b.broadcastFrame(signingID, types.FrameEnvelope{SigningCommitment: &frame})
		},
		BroadcastSignatureShare: func(signingID string, frame types.SignatureShareFrame) error {
			return b.broadcastFrame(signingID, types.FrameEnvelope{SignatureShare: &frame})
		},
		BroadcastAggregatedSignature: func(signingID string, frame types.AggregatedSignatureFrame) error {
			return b.broadcastFrame(signingID, types.FrameEnvelope{AggregatedSignature: &frame})
		},
		OnComplete: func(signingID string, signature *frost.Signature) {
			b.dispatch(cmdSigningComplete{signingID: signingID, signature: signature})
		},
		OnFailed: func(signingID, reason string) { b.dispatch(cmdSigningFailed{signingID: signingID, reason: reason}) },
	}
}

// broadcastFrame sends frame to every participant of the session/signing
// attempt named id (a session_id or signing_id; both resolve the same
// way — the participant list the bus tracked when that attempt began).
func (b *Bus) broadcastFrame(id string, frame types.FrameEnvelope) error {
	participants := b.participantsFor(id)
	if participants == nil {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("no known participants for %s", id))
	}
	return b.deps.Mesh.Broadcast(participants, frame)
}

func (b *Bus) participantsFor(id string) []string {
	if sess := b.deps.Session.Current(); sess != nil && sess.SessionID == id {
		return sess.Participants
	}
	if ctx, ok := b.signing[id]; ok {
		return ctx.params.Assignment.SortedDeviceID
	}
	return nil
}

// loadSigningParams reconstructs the signing material and identity
// assignment for walletID from this device's own keystore (§4.G: the
// wallet file is self-contained).
func (b *Bus) loadSigningParams(walletID string) (signingcoord.Params, error) {
	if b.deps.WalletPassword == nil {
		return signingcoord.Params{}, protocolerr.New(protocolerr.KindValidation, "no wallet password source configured")
	}
	group, err := frost.GroupFor(frost.CipherSuite(b.deps.Curve))
	if err != nil {
		return signingcoord.Params{}, protocolerr.Wrap(protocolerr.KindValidation, err, "resolve curve group")
	}
	password, err := b.deps.WalletPassword(walletID)
	if err != nil {
		return signingcoord.Params{}, protocolerr.Wrap(protocolerr.KindValidation, err, "resolve wallet password")
	}
	loaded, err := b.deps.Store.Load(group, b.deps.SelfDeviceID, string(b.deps.Curve), walletID, password)
	if err != nil {
		return signingcoord.Params{}, err
	}
	suite, err := frost.New(frost.CipherSuite(b.deps.Curve), loaded.Metadata.Threshold, loaded.Metadata.TotalParticipants)
	if err != nil {
		return signingcoord.Params{}, protocolerr.Wrap(protocolerr.KindValidation, err, "build frost suite")
	}
	assignment, err := identity.Assign(suite.Group(), loaded.Metadata.Participants)
	if err != nil {
		return signingcoord.Params{}, protocolerr.Wrap(protocolerr.KindValidation, err, "rebuild identity assignment")
	}
	return signingcoord.Params{
		WalletID:   walletID,
		Suite:      suite,
		KeyPackage: loaded.KeyPackage,
		PublicKeys: loaded.PublicKeyPackage,
		Assignment: assignment,
		Threshold:  loaded.Metadata.Threshold,
	}, nil
}

func (b *Bus) ensureMesh(participants []string) {
	for _, p := range participants {
		if p == b.deps.SelfDeviceID {
			continue
		}
		if err := b.deps.Mesh.EnsurePeer(p); err != nil {
			b.log.Sugar().Warnw("failed to ensure peer connection", "peer", p, "error", err)
		}
	}
}
