package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalWalletRecord serializes a WalletRecord to JSON bytes.
func MarshalWalletRecord(r *WalletRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot marshal nil WalletRecord")
	}
	return json.Marshal(r)
}

// UnmarshalWalletRecord deserializes a WalletRecord from JSON bytes.
func UnmarshalWalletRecord(data []byte) (*WalletRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	var r WalletRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to WalletRecord: %w", err)
	}
	return &r, nil
}

// MarshalNodeState serializes NodeState to JSON bytes.
func MarshalNodeState(ns *NodeState) ([]byte, error) {
	if ns == nil {
		return nil, fmt.Errorf("cannot marshal nil NodeState")
	}
	return json.Marshal(ns)
}

// UnmarshalNodeState deserializes NodeState from JSON bytes.
func UnmarshalNodeState(data []byte) (*NodeState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	var ns NodeState
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to NodeState: %w", err)
	}
	return &ns, nil
}

// MarshalSessionSnapshot serializes a SessionSnapshot to JSON bytes.
func MarshalSessionSnapshot(s *SessionSnapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil SessionSnapshot")
	}
	return json.Marshal(s)
}

// UnmarshalSessionSnapshot deserializes a SessionSnapshot from JSON bytes.
func UnmarshalSessionSnapshot(data []byte) (*SessionSnapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	var s SessionSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to SessionSnapshot: %w", err)
	}
	return &s, nil
}
