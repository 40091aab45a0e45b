package persistence

import "time"

// NodeState is operational state that must survive a restart: which device
// this is, and when it was last started. Small and rarely written.
type NodeState struct {
	DeviceID      string `json:"deviceId"`
	CurveType     string `json:"curveType"`
	NodeStartTime int64  `json:"nodeStartTime"`
}

// WalletRecord is the metadata index entry for one completed DKG wallet.
// The keystore itself (pkg/keystore) holds the encrypted key material and
// lists wallets by reading its directory; this is metadata only — nothing
// here is sensitive.
type WalletRecord struct {
	WalletID          string `json:"walletId"`
	DeviceID          string `json:"deviceId"`
	CurveType         string `json:"curveType"`
	Threshold         int    `json:"threshold"`
	TotalParticipants int    `json:"totalParticipants"`
	ParticipantIndex  int    `json:"participantIndex"`
	GroupPublicKeyB64 string `json:"groupPublicKeyB64"`
	CreatedAt         int64  `json:"createdAt"`
}

// SessionSnapshot captures enough of an in-progress DKG or signing session
// to recover from a crash: if the node restarts mid-protocol it can detect
// the stale session on startup and fail it rather than leave it dangling
// forever (§4 crash recovery).
type SessionSnapshot struct {
	// SessionID is the primary key.
	SessionID string `json:"sessionId"`

	// Kind is "dkg" or "signing".
	Kind string `json:"kind"`

	// Phase is a short human-readable phase name (e.g. "round1", "round2",
	// "mesh-forming") — informational only, not parsed by recovery logic.
	Phase string `json:"phase"`

	Proposer      string   `json:"proposer"`
	Participants  []string `json:"participants"`
	CipherSuite   string   `json:"cipherSuite"`
	Threshold     int      `json:"threshold"`
	Total         int      `json:"total"`
	StartTime     int64    `json:"startTime"`
	DeadlineEpoch int64    `json:"deadlineEpoch"`
}

// IsExpired reports whether the session's deadline has passed as of now.
func (s *SessionSnapshot) IsExpired() bool {
	if s == nil {
		return true
	}
	return time.Now().Unix() > s.DeadlineEpoch
}
