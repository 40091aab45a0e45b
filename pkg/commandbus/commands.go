package commandbus

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Layr-Labs/frost-wallet-node/pkg/dedup"
	"github.com/Layr-Labs/frost-wallet-node/pkg/frost"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// decodeB64 decodes the base64 transaction payload carried in a
// SigningRequestFrame (§6); unlike signingcoord's internal helper of the
// same name, a malformed payload here is a protocol error the bus must
// report rather than silently swallow.
func decodeB64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.KindValidation, err, "decode transaction data")
	}
	return raw, nil
}

// --- External-origin commands: posted from a goroutine other than the
// bus's own consumer (mesh/relay callbacks, CLI-triggered user actions).
// §4.H names these by the variant, not the caller; the split into
// external-origin (Post, channel-routed) versus internal self-dispatch
// (dispatch, called straight from a Handlers/Hooks closure already running
// on the bus's task) is this package's one deliberate departure from a
// literal reading of "every side effect is a mailbox variant" — see
// DESIGN.md.

type cmdDiscover struct{}

func (c cmdDiscover) run(b *Bus) error {
	return b.deps.Session.Discover()
}

type cmdJoinSession struct {
	sessionID string
	walletID  string
	password  []byte
}

func (c cmdJoinSession) run(b *Bus) error {
	if err := b.deps.Session.Join(c.sessionID); err != nil {
		return err
	}
	b.currentWalletID = c.walletID
	b.currentPassword = c.password
	return nil
}

type cmdCreateSession struct {
	sessionID    string
	walletID     string
	password     []byte
	total        int
	threshold    int
	participants []string
	curveType    string
	kind         types.SessionKind
	message      []byte
	blockchain   string
	chainID      *int64
}

func (c cmdCreateSession) run(b *Bus) error {
	sess, err := b.deps.Session.CreateSession(c.sessionID, b.deps.SelfDeviceID, c.total, c.threshold, c.participants, c.curveType, c.kind)
	if err != nil {
		return err
	}
	b.currentWalletID = c.walletID
	b.currentPassword = c.password
	b.currentMessage = c.message
	b.currentBlockchain = c.blockchain
	b.currentChainID = c.chainID

	proposal := types.SessionProposal{
		SessionID:        sess.SessionID,
		ProposerDeviceID: b.deps.SelfDeviceID,
		Participants:     sess.Participants,
		Threshold:        sess.Threshold,
		Total:            sess.Total,
		SessionType:      string(sess.Kind),
		CurveType:        sess.CipherSuite,
	}
	if err := b.deps.Relay.AnnounceSession(proposal); err != nil {
		b.log.Sugar().Warnw("failed to announce session", "error", err)
	}
	for _, p := range sess.Participants {
		if p == b.deps.SelfDeviceID {
			continue
		}
		if err := b.deps.Relay.Relay(p, types.RelayPayloadEnvelope{SessionProposal: &proposal}); err != nil {
			b.log.Sugar().Warnw("failed to relay session proposal", "peer", p, "error", err)
		}
	}
	b.ensureMesh(sess.Participants)
	return b.deps.MeshReady.Start(sess.SessionID, sess.Total)
}

type cmdLeaveSession struct{ reason string }

func (c cmdLeaveSession) run(b *Bus) error {
	b.deps.Session.Leave(c.reason, false)
	b.deps.Mesh.CloseAll()
	b.deps.MeshReady.Reset()
	b.deps.DKG.Reset()
	b.deps.Signing.Reset()
	b.currentWalletID, b.currentPassword, b.currentMessage = "", nil, nil
	b.currentBlockchain, b.currentChainID = "", nil
	return nil
}

type cmdRetryJoin struct{}

func (c cmdRetryJoin) run(b *Bus) error {
	return b.deps.Session.RetryJoin()
}

type cmdCheckDeadline struct{ now time.Time }

func (c cmdCheckDeadline) run(b *Bus) error {
	b.deps.Session.CheckDeadline(c.now)
	return nil
}

type cmdListWallets struct {
	curveType string
	reply     chan listWalletsResult
}

func (c cmdListWallets) run(b *Bus) error {
	wallets, err := b.deps.Store.ListWallets(b.deps.SelfDeviceID, c.curveType)
	c.reply <- listWalletsResult{wallets: wallets, err: err}
	return err
}

// cmdChannelOpen handles a mesh datastream opening to peer (§4.D).
type cmdChannelOpen struct{ peer string }

func (c cmdChannelOpen) run(b *Bus) error {
	sess := b.deps.Session.Current()
	if sess == nil {
		return nil
	}
	if err := b.deps.Mesh.SendFrame(c.peer, types.FrameEnvelope{ChannelOpen: &types.ChannelOpenFrame{DeviceID: b.deps.SelfDeviceID}}); err != nil {
		b.log.Sugar().Warnw("failed to send channel-open frame", "peer", c.peer, "error", err)
	}
	return b.deps.MeshReady.OnChannelOpen(sess.SessionID, c.peer)
}

type cmdPeerFailed struct {
	peer string
	err  error
}

func (c cmdPeerFailed) run(b *Bus) error {
	b.log.Sugar().Warnw("peer connection failed", "peer", c.peer, "error", c.err)
	if b.deps.Mesh.ShouldReconnect(c.peer) {
		return b.deps.Mesh.Reconnect(c.peer)
	}
	return nil
}

// cmdInboundFrame dispatches a raw datastream frame from peer by trying
// each FrameEnvelope key in turn (§6), after gating it through the
// deduplicator (§4.I).
type cmdInboundFrame struct {
	peer string
	raw  json.RawMessage
}

func (c cmdInboundFrame) run(b *Bus) error {
	key := dedup.Key(c.peer, "frame", c.raw, "")
	if b.deps.Dedup.Seen(key) {
		return nil
	}
	var env types.FrameEnvelope
	if err := json.Unmarshal(c.raw, &env); err != nil {
		return protocolerr.Wrap(protocolerr.KindValidation, err, "decode inbound frame")
	}
	switch {
	case env.ChannelOpen != nil:
		return nil // mesh.Connector's own handshake; nothing for the bus to do
	case env.MeshReady != nil:
		return b.deps.MeshReady.OnMeshReadyFrame(*env.MeshReady)
	case env.DkgRound1 != nil:
		return b.deps.DKG.OnRound1Frame(*env.DkgRound1)
	case env.DkgRound2 != nil:
		return b.deps.DKG.OnRound2Frame(*env.DkgRound2)
	case env.SigningRequest != nil:
		return b.handleSigningRequest(*env.SigningRequest)
	case env.AcceptSigning != nil:
		return b.deps.Signing.OnAcceptSigning(*env.AcceptSigning)
	case env.SignerSelection != nil:
		return b.deps.Signing.OnSignerSelection(*env.SignerSelection)
	case env.SigningCommitment != nil:
		return b.deps.Signing.OnSigningCommitment(*env.SigningCommitment)
	case env.SignatureShare != nil:
		return b.deps.Signing.OnSignatureShare(*env.SignatureShare)
	case env.AggregatedSignature != nil:
		return b.handleAggregatedSignature(*env.AggregatedSignature)
	case env.Batch != nil:
		return b.handleBatch(c.peer, *env.Batch)
	default:
		return protocolerr.New(protocolerr.KindValidation, "inbound frame has no recognized variant")
	}
}

// handleBatch dispatches each frame a peer's outbound batcher coalesced
// into one send (§2.B), individually and in order, through the same
// try-each-key path a non-batched frame would take.
func (b *Bus) handleBatch(peer string, batch types.BatchFrame) error {
	for _, raw := range batch.Messages {
		if err := (cmdInboundFrame{peer: peer, raw: raw}).run(b); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) handleSigningRequest(frame types.SigningRequestFrame) error {
	params, err := b.loadSigningParams(frame.WalletID)
	if err != nil {
		return err
	}
	message, err := decodeB64(frame.TransactionData)
	if err != nil {
		return err
	}
	b.signing[frame.SigningID] = &signingContext{walletID: frame.WalletID, message: message, params: params}
	return b.deps.Signing.OnSigningRequest(frame, params)
}

func (b *Bus) handleAggregatedSignature(frame types.AggregatedSignatureFrame) error {
	ctx, ok := b.signing[frame.SigningID]
	if !ok {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("no known signing attempt %s", frame.SigningID))
	}
	return b.deps.Signing.OnAggregatedSignature(frame, ctx.params, ctx.message)
}

// --- Signal-relay-originated commands ---

type cmdRelayPayload struct {
	from string
	raw  json.RawMessage
}

func (c cmdRelayPayload) run(b *Bus) error {
	key := dedup.Key(c.from, "relay", c.raw, "")
	if b.deps.Dedup.Seen(key) {
		return nil
	}
	var env types.RelayPayloadEnvelope
	if err := json.Unmarshal(c.raw, &env); err != nil {
		return protocolerr.Wrap(protocolerr.KindValidation, err, "decode relay payload")
	}
	switch {
	case env.Signal != nil:
		return b.handleSignal(c.from, *env.Signal)
	case env.SessionProposal != nil:
		return b.handleSessionProposal(*env.SessionProposal)
	case env.SessionResponse != nil:
		return b.deps.Session.Response(env.SessionResponse.FromDeviceID, env.SessionResponse.Accepted)
	case env.SessionUpdate != nil:
		_, err := b.deps.Session.SessionUpdate(*env.SessionUpdate)
		return err
	default:
		return protocolerr.New(protocolerr.KindValidation, "relay payload has no recognized variant")
	}
}

func (b *Bus) handleSignal(from string, signal types.WebRTCSignal) error {
	switch {
	case signal.Offer != nil:
		return b.deps.Mesh.HandleOffer(from, signal.Offer.SDP)
	case signal.Answer != nil:
		return b.deps.Mesh.HandleAnswer(from, signal.Answer.SDP)
	case signal.Candidate != nil:
		return b.deps.Mesh.HandleCandidate(from, *signal.Candidate)
	default:
		return protocolerr.New(protocolerr.KindValidation, "WebRTC signal has no recognized variant")
	}
}

func (b *Bus) handleSessionProposal(proposal types.SessionProposal) error {
	autoAccepted, rejoined, err := b.deps.Session.ProposalFor(proposal)
	if err != nil {
		return err
	}
	_ = rejoined // session.Hooks.OnRejoin/OnBroadcastUpdate already covers the teardown/re-announce
	if autoAccepted {
		b.ensureMesh(proposal.Participants)
		response := types.SessionResponse{SessionID: proposal.SessionID, FromDeviceID: b.deps.SelfDeviceID, Accepted: true}
		if err := b.deps.Relay.Relay(proposal.ProposerDeviceID, types.RelayPayloadEnvelope{SessionResponse: &response}); err != nil {
			b.log.Sugar().Warnw("failed to relay session response", "error", err)
		}
	}
	return nil
}

type cmdSessionAvailable struct{ sessionInfo json.RawMessage }

func (c cmdSessionAvailable) run(b *Bus) error {
	b.log.Sugar().Infow("session available", "session_info", string(c.sessionInfo))
	return nil
}

type cmdSessionRemoved struct {
	sessionID string
	reason    string
}

func (c cmdSessionRemoved) run(b *Bus) error {
	sess := b.deps.Session.Current()
	if sess != nil && sess.SessionID == c.sessionID {
		b.deps.Session.Leave(c.reason, false)
	}
	return nil
}

// --- Internal self-dispatch commands: fire synchronously, via dispatch
// rather than Post, from within a Handlers/Hooks closure that is already
// running on the bus's own task. ---

type cmdCheckAndTriggerDkg struct{ sessionID string }

func (c cmdCheckAndTriggerDkg) run(b *Bus) error {
	sess := b.deps.Session.Current()
	if sess == nil || sess.SessionID != c.sessionID || sess.MeshSubstate != types.MeshSubstateReady {
		return nil
	}
	switch sess.Kind {
	case types.SessionKindDKG:
		return b.deps.DKG.Start(sess.SessionID, b.currentWalletID, b.currentPassword, sess.CipherSuite, sess.Threshold, sess.Total, sess.Participants)
	case types.SessionKindSigning:
		if sess.Proposer != b.deps.SelfDeviceID {
			return nil // followers wait passively for the SigningRequest frame
		}
		params, err := b.loadSigningParams(b.currentWalletID)
		if err != nil {
			return err
		}
		b.signing[sess.SessionID] = &signingContext{walletID: b.currentWalletID, message: b.currentMessage, params: params}
		return b.deps.Signing.Initiate(sess.SessionID, params, b.currentMessage, b.currentBlockchain, b.currentChainID)
	default:
		return protocolerr.New(protocolerr.KindValidation, fmt.Sprintf("unknown session kind %s", sess.Kind))
	}
}

type cmdDkgComplete struct {
	sessionID string
	walletID  string
}

func (c cmdDkgComplete) run(b *Bus) error {
	b.log.Sugar().Infow("dkg complete", "session_id", c.sessionID, "wallet_id", c.walletID)
	b.deps.Session.Complete()
	return nil
}

type cmdDkgFailed struct {
	sessionID string
	reason    string
}

func (c cmdDkgFailed) run(b *Bus) error {
	b.deps.Session.Leave(c.reason, true)
	return nil
}

type cmdSigningComplete struct {
	signingID string
	signature *frost.Signature
}

func (c cmdSigningComplete) run(b *Bus) error {
	b.log.Sugar().Infow("signing complete", "signing_id", c.signingID)
	delete(b.signing, c.signingID)
	if sess := b.deps.Session.Current(); sess != nil && sess.SessionID == c.signingID {
		b.deps.Session.Complete()
	}
	return nil
}

type cmdSigningFailed struct {
	signingID string
	reason    string
}

func (c cmdSigningFailed) run(b *Bus) error {
	delete(b.signing, c.signingID)
	if sess := b.deps.Session.Current(); sess != nil && sess.SessionID == c.signingID {
		b.deps.Session.Leave(c.reason, true)
	}
	return nil
}
