// Package config holds process-level configuration: the cipher-suite enum
// and the tunables the node exposes as CLI flags / env vars.
package config

import (
	"fmt"
	"time"
)

// CurveType names one of the two supported FROST cipher suites.
type CurveType string

func (c CurveType) String() string {
	return string(c)
}

const (
	CurveTypeUnknown   CurveType = "unknown"
	CurveTypeSecp256k1 CurveType = "secp256k1"
	CurveTypeEd25519   CurveType = "ed25519"
)

// Env var names backing cmd/frostnode's flags (§6 Process surface).
const (
	EnvDeviceID       = "FROST_DEVICE_ID"
	EnvSignalServer   = "FROST_SIGNAL_SERVER"
	EnvCurve          = "FROST_CURVE"
	EnvOffline        = "FROST_OFFLINE"
	EnvKeystoreRoot   = "FROST_KEYSTORE_ROOT"
	EnvICEServers     = "FROST_ICE_SERVERS"
	EnvDedupTTL       = "FROST_DEDUP_TTL_SECONDS"
	EnvDedupCapacity  = "FROST_DEDUP_CAPACITY"
	EnvVerbose        = "FROST_VERBOSE"
)

// DefaultSignalServer is §6's process-surface default rendezvous endpoint.
const DefaultSignalServer = "wss://auto-life.tech"

func ParseCurveType(s string) (CurveType, error) {
	switch CurveType(s) {
	case CurveTypeSecp256k1:
		return CurveTypeSecp256k1, nil
	case CurveTypeEd25519:
		return CurveTypeEd25519, nil
	default:
		return CurveTypeUnknown, fmt.Errorf("unsupported curve type: %s", s)
	}
}

// ReconnectConfig parameterizes the mesh connector's per-peer reconnection
// tracker (spec §4.B, open question in §9 — these were hard-coded in the
// source and are lifted to configuration here).
type ReconnectConfig struct {
	// InitialCooldown is the backoff applied for each of the first
	// LinearAttempts attempts.
	InitialCooldown float64 // seconds
	// LinearAttempts is how many attempts use InitialCooldown unchanged
	// before linear growth begins.
	LinearAttempts int
	// MaxAttempts is where linear growth stops and exponential growth
	// begins.
	MaxAttempts int
	// ExponentialBase multiplies the cooldown once attempts exceed
	// MaxAttempts.
	ExponentialBase float64
	// MaxCooldown caps the cooldown regardless of attempt count.
	MaxCooldown float64 // seconds
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialCooldown: 0.5,
		LinearAttempts:  3,
		MaxAttempts:     10,
		ExponentialBase: 1.5,
		MaxCooldown:     60,
	}
}

// TimeoutConfig parameterizes the session state machine's deadlines (§5).
type TimeoutConfig struct {
	JoinRequestSeconds         int
	ProposalAcceptanceSeconds  int
	DKGRoundSeconds            int
	SigningAcceptanceSeconds   int
	MaxJoinRetryAttempts       int
}

func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		JoinRequestSeconds:        10,
		ProposalAcceptanceSeconds: 30,
		DKGRoundSeconds:           60,
		SigningAcceptanceSeconds:  30,
		MaxJoinRetryAttempts:      5,
	}
}

// BatchConfig parameterizes the mesh connector's per-peer outbound
// batcher (§2.B enrichment, grounded on message_batcher.rs). BatchSize <= 0
// disables batching entirely.
type BatchConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBatchBytes int
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:     8,
		FlushInterval: 50 * time.Millisecond,
		MaxBatchBytes: 1024 * 1024,
	}
}

// ICEServer is a STUN/TURN endpoint handed to the mesh connector. Built once
// at startup as a read-only singleton (§9 "Global mutable state").
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Config is the node's fully-resolved runtime configuration, assembled from
// CLI flags / env vars by cmd/frostnode.
type Config struct {
	DeviceID       string
	SignalServer   string
	Curve          CurveType
	Offline        bool
	KeystoreRoot   string
	Reconnect      ReconnectConfig
	Timeouts       TimeoutConfig
	Batch          BatchConfig
	ICEServers     []ICEServer
	DedupTTLSecond int
	DedupCapacity  int
}
