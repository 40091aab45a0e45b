// Package types holds the wire frames and session/mesh/protocol state
// shapes named in spec §3 and §6.
package types

import (
	"encoding/json"
	"time"
)

// SessionKind distinguishes a DKG (wallet-creation) session from a signing
// session.
type SessionKind string

const (
	SessionKindDKG     SessionKind = "dkg"
	SessionKindSigning SessionKind = "signing"
)

// SessionState is the top-level state for the session state machine in
// §4.C.
type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateDiscovering       SessionState = "discovering"
	StateJoinRequested     SessionState = "join_requested"
	StateProposalReceived  SessionState = "proposal_received"
	StateActive            SessionState = "active"
	StateComplete          SessionState = "complete"
	StateFailed            SessionState = "failed"
)

// MeshSubstate is Active's mesh-forming/mesh-ready substate (§2 component
// C, §4.D).
type MeshSubstate string

const (
	MeshSubstateForming MeshSubstate = "mesh_forming"
	MeshSubstateReady   MeshSubstate = "mesh_ready"
)

// Session is the per-device view of one wallet-creation or signing
// session (§3 "Session").
type Session struct {
	SessionID    string
	Proposer     string
	Total        int
	Threshold    int
	Participants []string // ordered, as proposed
	CipherSuite  string   // config.CurveType value
	Kind         SessionKind

	State        SessionState
	MeshSubstate MeshSubstate
	AcceptedSet  map[string]struct{}

	JoinAttempt  int
	Deadline     time.Time
	FailedReason string
	Retryable    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession builds a Session in StateIdle; the caller transitions it
// according to §4.C's table.
func NewSession(sessionID, proposer string, total, threshold int, participants []string, cipherSuite string, kind SessionKind) *Session {
	now := time.Now()
	return &Session{
		SessionID:    sessionID,
		Proposer:     proposer,
		Total:        total,
		Threshold:    threshold,
		Participants: participants,
		CipherSuite:  cipherSuite,
		Kind:         kind,
		State:        StateIdle,
		AcceptedSet:  make(map[string]struct{}),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsAcceptedByAll reports whether every participant has accepted (§3
// invariant: "Active only after accepted_set == participants").
func (s *Session) IsAcceptedByAll() bool {
	if len(s.AcceptedSet) != len(s.Participants) {
		return false
	}
	for _, p := range s.Participants {
		if _, ok := s.AcceptedSet[p]; !ok {
			return false
		}
	}
	return true
}

// ConnectionPhase is a peer datastream's lifecycle phase (§3 "Peer
// connection").
type ConnectionPhase string

const (
	ConnNew          ConnectionPhase = "new"
	ConnConnecting   ConnectionPhase = "connecting"
	ConnConnected    ConnectionPhase = "connected"
	ConnDisconnected ConnectionPhase = "disconnected"
	ConnFailed       ConnectionPhase = "failed"
)

// ICECandidate mirrors the candidate fields carried in the
// WebRTCSignal.Candidate wire frame (§6).
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *int   `json:"sdp_mline_index,omitempty"`
}

// MeshStatusKind is §3's Mesh status sum type.
type MeshStatusKind string

const (
	MeshIncomplete     MeshStatusKind = "incomplete"
	MeshPartiallyReady MeshStatusKind = "partially_ready"
	MeshReady          MeshStatusKind = "ready"
)

// MeshStatus is the per-session local view of mesh readiness (§3, §4.D).
type MeshStatus struct {
	Kind              MeshStatusKind
	ReadyPeers        map[string]struct{}
	Total             int
	OwnMeshReadySent  bool
	ChannelsOpen      map[string]struct{}
	ConfirmedPeers    map[string]struct{} // peers whose MeshReady frame we've received
}

func NewMeshStatus(total int) *MeshStatus {
	return &MeshStatus{
		Kind:           MeshIncomplete,
		ReadyPeers:     make(map[string]struct{}),
		Total:          total,
		ChannelsOpen:   make(map[string]struct{}),
		ConfirmedPeers: make(map[string]struct{}),
	}
}

// DKGState is §3's "DKG state per local device" sum type.
type DKGState string

const (
	DKGIdle            DKGState = "idle"
	DKGRound1InProgress DKGState = "round1_in_progress"
	DKGRound1Complete   DKGState = "round1_complete"
	DKGRound2InProgress DKGState = "round2_in_progress"
	DKGRound2Complete   DKGState = "round2_complete"
	DKGFinalizing       DKGState = "finalizing"
	DKGComplete         DKGState = "complete"
	DKGFailed           DKGState = "failed"
)

// SigningState is §3's "Signing state per local device" sum type.
type SigningState string

const (
	SigningIdle              SigningState = "idle"
	SigningAwaitingAcceptance SigningState = "awaiting_acceptance"
	SigningCommitmentPhase   SigningState = "commitment_phase"
	SigningSharePhase        SigningState = "share_phase"
	SigningComplete          SigningState = "complete"
	SigningFailed            SigningState = "failed"
)

// --- Signal-relay wire format (§6) ---

// RelayEnvelope is the outer shape of every signal-relay message; Type
// selects which client/server message variant the frame is.
type RelayEnvelope struct {
	Type string `json:"type"`
}

type RegisterMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

type ListDevicesMessage struct {
	Type string `json:"type"`
}

type RelayMessage struct {
	Type string      `json:"type"`
	To   string      `json:"to"` // device_id or "*"
	Data interface{} `json:"data"`
}

type AnnounceSessionMessage struct {
	Type        string      `json:"type"`
	SessionInfo interface{} `json:"session_info"`
}

type RequestActiveSessionsMessage struct {
	Type string `json:"type"`
}

type QueryMyActiveSessionsMessage struct {
	Type string `json:"type"`
}

type DevicesMessage struct {
	Type    string   `json:"type"`
	Devices []string `json:"devices"`
}

type RelayInbound struct {
	Type string      `json:"type"`
	From string      `json:"from"`
	Data interface{} `json:"data"`
}

type SessionAvailableMessage struct {
	Type        string      `json:"type"`
	SessionInfo interface{} `json:"session_info"`
}

type SessionRemovedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type SessionsForDeviceMessage struct {
	Type     string        `json:"type"`
	Sessions []interface{} `json:"sessions"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// --- Peer-to-peer signaling frames, carried as the `data` field of a
// RelayMessage/RelayInbound (§6). ---

type WebRTCSignal struct {
	Offer     *SDPPayload   `json:"Offer,omitempty"`
	Answer    *SDPPayload   `json:"Answer,omitempty"`
	Candidate *ICECandidate `json:"Candidate,omitempty"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type SessionProposal struct {
	SessionID        string   `json:"session_id"`
	ProposerDeviceID string   `json:"proposer_device_id"`
	Participants     []string `json:"participants"`
	Threshold        int      `json:"threshold"`
	Total            int      `json:"total"`
	SessionType      string   `json:"session_type"`
	CurveType        string   `json:"curve_type"`
	CoordinationType string   `json:"coordination_type"`
}

type SessionResponse struct {
	SessionID    string `json:"session_id"`
	FromDeviceID string `json:"from_device_id"`
	Accepted     bool   `json:"accepted"`
	Reason       string `json:"reason,omitempty"`
}

type SessionUpdateType string

const (
	UpdateParticipantJoined  SessionUpdateType = "ParticipantJoined"
	UpdateParticipantRejoined SessionUpdateType = "ParticipantRejoined"
	UpdateParticipantLeft    SessionUpdateType = "ParticipantLeft"
	UpdateFullSync           SessionUpdateType = "FullSync"
)

type SessionUpdate struct {
	SessionID    string            `json:"session_id"`
	UpdateType   SessionUpdateType `json:"update_type"`
	Participants []string          `json:"participants"`
	Timestamp    int64             `json:"timestamp"`
}

// --- In-datastream application frames (§6) ---
//
// Each is sent wrapped in a single-key JSON object naming the frame, e.g.
// {"ChannelOpen": {...}}, matching the mesh connector's own ChannelOpen
// send in pkg/mesh and the WebRTCSignal wrapping used for signaling
// relayed through pkg/signalrelay. pkg/commandbus dispatches inbound
// frames by trying each key in turn.

type ChannelOpenFrame struct {
	DeviceID string `json:"device_id"`
}

type MeshReadyFrame struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
}

type DkgRound1Frame struct {
	SessionID  string `json:"session_id"`
	From       string `json:"from"`
	PackageB64 string `json:"package_bytes"`
}

type DkgRound2Frame struct {
	SessionID  string `json:"session_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	PackageB64 string `json:"package_bytes"`
}

type SigningRequestFrame struct {
	SigningID       string `json:"signing_id"`
	TransactionData string `json:"transaction_data"` // base64
	Blockchain      string `json:"blockchain"`
	ChainID         *int64 `json:"chain_id,omitempty"`
	WalletID        string `json:"wallet_id"`
}

type AcceptSigningFrame struct {
	SigningID string `json:"signing_id"`
	From      string `json:"from"`
}

type SignerSelectionFrame struct {
	SigningID        string   `json:"signing_id"`
	SelectedFrostIDs []string `json:"selected_frost_ids"`
}

type SigningCommitmentFrame struct {
	SigningID      string `json:"signing_id"`
	From           string `json:"from"`
	CommitmentsB64 string `json:"commitments_bytes"`
}

type SignatureShareFrame struct {
	SigningID string `json:"signing_id"`
	From      string `json:"from"`
	ShareB64  string `json:"share_bytes"`
}

type AggregatedSignatureFrame struct {
	SigningID    string `json:"signing_id"`
	SignatureB64 string `json:"signature_bytes"`
}

// BatchFrame carries several already-JSON-encoded frames to one peer in a
// single datastream send, each still individually dispatched on arrival
// (§4.B mesh-connector enrichment: per-peer outbound batching).
type BatchFrame struct {
	BatchID  string            `json:"batch_id"`
	Messages []json.RawMessage `json:"messages"`
}

// RelayPayloadEnvelope wraps whichever kind of payload travels over the
// signal relay's opaque "data" field (WebRTC signaling vs. session
// lifecycle messages), mirroring FrameEnvelope's single-key dispatch
// convention so pkg/commandbus can route both through the same
// try-each-key pattern.
type RelayPayloadEnvelope struct {
	Signal          *WebRTCSignal    `json:"Signal,omitempty"`
	SessionProposal *SessionProposal `json:"SessionProposal,omitempty"`
	SessionResponse *SessionResponse `json:"SessionResponse,omitempty"`
	SessionUpdate   *SessionUpdate   `json:"SessionUpdate,omitempty"`
}

// FrameEnvelope holds a raw single-key datastream frame so a dispatcher
// can check which key is present before unmarshaling into its concrete
// type.
type FrameEnvelope struct {
	ChannelOpen         *ChannelOpenFrame         `json:"ChannelOpen,omitempty"`
	MeshReady           *MeshReadyFrame           `json:"MeshReady,omitempty"`
	DkgRound1           *DkgRound1Frame           `json:"DkgRound1,omitempty"`
	DkgRound2           *DkgRound2Frame           `json:"DkgRound2,omitempty"`
	SigningRequest      *SigningRequestFrame      `json:"SigningRequest,omitempty"`
	AcceptSigning       *AcceptSigningFrame       `json:"AcceptSigning,omitempty"`
	SignerSelection     *SignerSelectionFrame     `json:"SignerSelection,omitempty"`
	SigningCommitment   *SigningCommitmentFrame   `json:"SigningCommitment,omitempty"`
	SignatureShare      *SignatureShareFrame      `json:"SignatureShare,omitempty"`
	AggregatedSignature *AggregatedSignatureFrame `json:"AggregatedSignature,omitempty"`
	Batch               *BatchFrame               `json:"Batch,omitempty"`
}
