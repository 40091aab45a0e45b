// Package session implements the per-device session state machine of
// spec §4.C: Idle → Discovering → JoinRequested → ProposalReceived →
// Active(mesh-forming → mesh-ready) → Complete/Failed, including the
// auto-accept and rejoin rules. A Machine is owned exclusively by the
// command-bus task (§4.H); it carries no internal locking of its own
// because that task already serializes every call into it.
package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// Hooks lets the command bus react to state-machine side effects that
// cross package boundaries (mesh teardown, broadcasting a SessionUpdate)
// without this package depending on pkg/mesh or pkg/signalrelay.
type Hooks struct {
	// OnRejoin fires before the Machine clears its own mesh/DKG/signing
	// related substate, so the caller can tear down peer connections
	// (§4.C "Rejoin" step (i)-(ii)).
	OnRejoin func(sess *types.Session)
	// OnBroadcastUpdate fires after a rejoin's fresh accept completes,
	// to broadcast SessionUpdate{ParticipantRejoined} to all current
	// participants (§4.C "Rejoin" final step).
	OnBroadcastUpdate func(sess *types.Session, updateType types.SessionUpdateType)
}

// Machine holds the local device's view of at most one active session at
// a time (spec.md's data model has no notion of concurrent sessions per
// device).
type Machine struct {
	selfDeviceID string
	timeouts     config.TimeoutConfig
	log          *zap.Logger
	hooks        Hooks

	current *types.Session
}

// New builds a Machine in the implicit Idle state (current == nil).
func New(selfDeviceID string, timeouts config.TimeoutConfig, hooks Hooks, log *zap.Logger) *Machine {
	return &Machine{selfDeviceID: selfDeviceID, timeouts: timeouts, hooks: hooks, log: log}
}

// Current returns the session currently tracked, or nil when Idle.
func (m *Machine) Current() *types.Session { return m.current }

func (m *Machine) state() types.SessionState {
	if m.current == nil {
		return types.StateIdle
	}
	return m.current.State
}

// CreateSession handles CREATE_SESSION: the local device is the proposer
// and enters Active immediately with itself accepted (§4.C).
func (m *Machine) CreateSession(sessionID, proposer string, total, threshold int, participants []string, cipherSuite string, kind types.SessionKind) (*types.Session, error) {
	if m.state() != types.StateIdle {
		return nil, protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot create session from state %s", m.state()))
	}
	if err := validateParticipants(proposer, total, threshold, participants); err != nil {
		return nil, err
	}

	sess := types.NewSession(sessionID, proposer, total, threshold, participants, cipherSuite, kind)
	sess.State = types.StateActive
	sess.AcceptedSet[m.selfDeviceID] = struct{}{}
	m.current = sess
	return sess, nil
}

func validateParticipants(proposer string, total, threshold int, participants []string) error {
	if threshold < 1 || total < threshold || total > 100 {
		return protocolerr.New(protocolerr.KindValidation, fmt.Sprintf("invalid threshold parameters t=%d n=%d", threshold, total))
	}
	if len(participants) != total {
		return protocolerr.New(protocolerr.KindValidation, fmt.Sprintf("participant list length %d does not match total %d", len(participants), total))
	}
	seen := make(map[string]struct{}, len(participants))
	foundProposer := false
	for _, p := range participants {
		if _, dup := seen[p]; dup {
			return protocolerr.New(protocolerr.KindValidation, fmt.Sprintf("duplicate device_id in participant list: %s", p))
		}
		seen[p] = struct{}{}
		if p == proposer {
			foundProposer = true
		}
	}
	if !foundProposer {
		return protocolerr.New(protocolerr.KindValidation, "participants must include proposer")
	}
	return nil
}

// Discover handles DISCOVER: Idle → Discovering.
func (m *Machine) Discover() error {
	if m.state() != types.StateIdle {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot discover from state %s", m.state()))
	}
	m.current = &types.Session{State: types.StateDiscovering, UpdatedAt: time.Now()}
	return nil
}

// Join handles JOIN(id): Idle or Discovering → JoinRequested{attempt=1,
// deadline=+10s}.
func (m *Machine) Join(sessionID string) error {
	switch m.state() {
	case types.StateIdle, types.StateDiscovering:
	default:
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot join from state %s", m.state()))
	}
	m.current = &types.Session{
		SessionID:   sessionID,
		State:       types.StateJoinRequested,
		JoinAttempt: 1,
		Deadline:    time.Now().Add(time.Duration(m.timeouts.JoinRequestSeconds) * time.Second),
		AcceptedSet: make(map[string]struct{}),
		UpdatedAt:   time.Now(),
	}
	return nil
}

// ProposalFor handles PROPOSAL_FOR(id): JoinRequested → ProposalReceived.
// It also implements the auto-accept rule and rejoin detection (§4.C).
func (m *Machine) ProposalFor(proposal types.SessionProposal) (autoAccepted bool, rejoined bool, err error) {
	if m.current != nil && m.current.SessionID == proposal.SessionID && m.current.State == types.StateActive {
		if _, inSet := m.current.AcceptedSet[m.selfDeviceID]; inSet {
			// Not a rejoin: this device is already an accepted member;
			// treat as a session-update-style refresh, not a re-accept.
			return false, false, nil
		}
		m.performRejoin(proposal)
		return false, true, nil
	}

	if m.current == nil || m.current.State != types.StateJoinRequested || m.current.SessionID != proposal.SessionID {
		return false, false, protocolerr.New(protocolerr.KindSession, "proposal does not match any pending join")
	}

	sess := types.NewSession(proposal.SessionID, proposal.ProposerDeviceID, proposal.Total, proposal.Threshold, proposal.Participants, proposal.CurveType, sessionKindFromString(proposal.SessionType))
	sess.State = types.StateProposalReceived
	sess.Deadline = time.Now().Add(time.Duration(m.timeouts.ProposalAcceptanceSeconds) * time.Second)
	sess.JoinAttempt = m.current.JoinAttempt
	m.current = sess

	// Auto-accept rule: a device in JoinRequested{id} that receives a
	// proposal for that same id immediately accepts.
	if err := m.Accept(); err != nil {
		return false, false, err
	}
	return true, false, nil
}

func sessionKindFromString(s string) types.SessionKind {
	if types.SessionKind(s) == types.SessionKindSigning {
		return types.SessionKindSigning
	}
	return types.SessionKindDKG
}

// Accept handles ACCEPT: ProposalReceived → Active(accepted={self}).
func (m *Machine) Accept() error {
	if m.current == nil || m.current.State != types.StateProposalReceived {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot accept from state %s", m.state()))
	}
	m.current.State = types.StateActive
	m.current.AcceptedSet[m.selfDeviceID] = struct{}{}
	m.current.UpdatedAt = time.Now()
	return nil
}

// Reject handles REJECT: ProposalReceived → Idle.
func (m *Machine) Reject() error {
	if m.current == nil || m.current.State != types.StateProposalReceived {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot reject from state %s", m.state()))
	}
	m.current = nil
	return nil
}

// CheckDeadline evaluates the pending deadline (join or proposal) against
// now and fails the session if expired.
func (m *Machine) CheckDeadline(now time.Time) {
	if m.current == nil {
		return
	}
	switch m.current.State {
	case types.StateJoinRequested, types.StateProposalReceived:
		if now.After(m.current.Deadline) {
			m.current.State = types.StateFailed
			m.current.Retryable = true
			m.current.FailedReason = "deadline expired"
		}
	}
}

// RetryJoin handles RETRY_JOIN(attempt+1): Failed{retryable} or an
// expired JoinRequested → JoinRequested{attempt=a, deadline=+10*a s}.
func (m *Machine) RetryJoin() error {
	if m.current == nil {
		return protocolerr.New(protocolerr.KindSession, "no session to retry")
	}
	if m.current.State != types.StateFailed || !m.current.Retryable {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot retry join from state %s", m.state()))
	}
	if m.current.JoinAttempt >= m.timeouts.MaxJoinRetryAttempts {
		return protocolerr.New(protocolerr.KindSession, "join retry attempts exhausted")
	}
	attempt := m.current.JoinAttempt + 1
	sessionID := m.current.SessionID
	m.current = &types.Session{
		SessionID:   sessionID,
		State:       types.StateJoinRequested,
		JoinAttempt: attempt,
		Deadline:    time.Now().Add(time.Duration(m.timeouts.JoinRequestSeconds*attempt) * time.Second),
		AcceptedSet: make(map[string]struct{}),
		UpdatedAt:   time.Now(),
	}
	return nil
}

// Response handles RESPONSE(from, accepted=true): Active accepted ∪=
// {from}.
func (m *Machine) Response(from string, accepted bool) error {
	if m.current == nil || m.current.State != types.StateActive {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot process response from state %s", m.state()))
	}
	if !accepted {
		return nil
	}
	m.current.AcceptedSet[from] = struct{}{}
	m.current.UpdatedAt = time.Now()
	return nil
}

// SessionUpdate handles SESSION_UPDATE(participants'): Active accepted
// ∪= participants'. Also detects the rejoin condition per §4.C.
func (m *Machine) SessionUpdate(update types.SessionUpdate) (rejoined bool, err error) {
	if m.current != nil && m.current.SessionID == update.SessionID && m.current.State == types.StateActive {
		if _, inSet := m.current.AcceptedSet[m.selfDeviceID]; !inSet {
			m.performRejoinFromUpdate(update)
			return true, nil
		}
		for _, p := range update.Participants {
			m.current.AcceptedSet[p] = struct{}{}
		}
		m.current.UpdatedAt = time.Now()
		return false, nil
	}
	return false, protocolerr.New(protocolerr.KindSession, "session update does not match current session")
}

func (m *Machine) performRejoin(proposal types.SessionProposal) {
	sess := m.current
	if m.hooks.OnRejoin != nil {
		m.hooks.OnRejoin(sess)
	}
	fresh := types.NewSession(proposal.SessionID, proposal.ProposerDeviceID, proposal.Total, proposal.Threshold, proposal.Participants, proposal.CurveType, sessionKindFromString(proposal.SessionType))
	fresh.State = types.StateActive
	fresh.AcceptedSet[m.selfDeviceID] = struct{}{}
	m.current = fresh
	if m.hooks.OnBroadcastUpdate != nil {
		m.hooks.OnBroadcastUpdate(fresh, types.UpdateParticipantRejoined)
	}
}

func (m *Machine) performRejoinFromUpdate(update types.SessionUpdate) {
	sess := m.current
	if m.hooks.OnRejoin != nil {
		m.hooks.OnRejoin(sess)
	}
	sess.AcceptedSet = map[string]struct{}{m.selfDeviceID: {}}
	for _, p := range update.Participants {
		sess.AcceptedSet[p] = struct{}{}
	}
	sess.Participants = update.Participants
	sess.UpdatedAt = time.Now()
	if m.hooks.OnBroadcastUpdate != nil {
		m.hooks.OnBroadcastUpdate(sess, types.UpdateParticipantRejoined)
	}
}

// TriggerMeshReady handles MESH_READY: Active → Active.MeshReady.
func (m *Machine) TriggerMeshReady() error {
	if m.current == nil || m.current.State != types.StateActive {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot trigger mesh-ready from state %s", m.state()))
	}
	if m.current.MeshSubstate == types.MeshSubstateReady {
		return protocolerr.New(protocolerr.KindSession, "mesh-ready already fired for this session")
	}
	m.current.MeshSubstate = types.MeshSubstateReady
	m.current.UpdatedAt = time.Now()
	return nil
}

// Leave handles LEAVE / NETWORK_ERROR: any state → Failed.
func (m *Machine) Leave(reason string, retryable bool) {
	if m.current == nil {
		m.current = &types.Session{}
	}
	m.current.State = types.StateFailed
	m.current.FailedReason = reason
	m.current.Retryable = retryable
	m.current.UpdatedAt = time.Now()
}

// Complete handles the terminal Complete transition (DKG/signing
// coordinator finished successfully).
func (m *Machine) Complete() {
	if m.current != nil {
		m.current.State = types.StateComplete
		m.current.UpdatedAt = time.Now()
	}
}

// Reset handles RESET: Failed{retryable=true} → Idle.
func (m *Machine) Reset() error {
	if m.current == nil || m.current.State != types.StateFailed || !m.current.Retryable {
		return protocolerr.New(protocolerr.KindSession, fmt.Sprintf("cannot reset from state %s", m.state()))
	}
	m.current = nil
	return nil
}
