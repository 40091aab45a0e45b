package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalWalletRecord_RoundTrip(t *testing.T) {
	original := &WalletRecord{
		WalletID:          "wallet-abc",
		DeviceID:          "alice",
		CurveType:         "secp256k1",
		Threshold:         2,
		TotalParticipants: 3,
		ParticipantIndex:  1,
		GroupPublicKeyB64: "Zm9vYmFy",
		CreatedAt:         1700000000,
	}

	data, err := MarshalWalletRecord(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	restored, err := UnmarshalWalletRecord(data)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, original, restored)
}

func TestMarshalWalletRecord_NilInput(t *testing.T) {
	_, err := MarshalWalletRecord(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil WalletRecord")
}

func TestUnmarshalWalletRecord_InvalidJSON(t *testing.T) {
	_, err := UnmarshalWalletRecord([]byte(`{"threshold": "not a number"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestUnmarshalWalletRecord_EmptyData(t *testing.T) {
	_, err := UnmarshalWalletRecord([]byte{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty data")
}

func TestMarshalUnmarshalNodeState_RoundTrip(t *testing.T) {
	original := &NodeState{
		DeviceID:      "alice",
		CurveType:     "ed25519",
		NodeStartTime: 9876543210,
	}

	data, err := MarshalNodeState(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	restored, err := UnmarshalNodeState(data)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, original, restored)
}

func TestMarshalUnmarshalSessionSnapshot_RoundTrip(t *testing.T) {
	original := &SessionSnapshot{
		SessionID:     "session-1",
		Kind:          "dkg",
		Phase:         "round1",
		Proposer:      "alice",
		Participants:  []string{"alice", "bob", "charlie"},
		CipherSuite:   "secp256k1",
		Threshold:     2,
		Total:         3,
		StartTime:     1234567800,
		DeadlineEpoch: 1234567860,
	}

	data, err := MarshalSessionSnapshot(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	restored, err := UnmarshalSessionSnapshot(data)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, original, restored)
}

func TestSessionSnapshotIsExpired(t *testing.T) {
	var nilSnapshot *SessionSnapshot
	assert.True(t, nilSnapshot.IsExpired())

	expired := &SessionSnapshot{DeadlineEpoch: 1}
	assert.True(t, expired.IsExpired())

	notExpired := &SessionSnapshot{DeadlineEpoch: 9999999999}
	assert.False(t, notExpired.IsExpired())
}
