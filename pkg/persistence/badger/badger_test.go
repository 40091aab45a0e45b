package badger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
	"github.com/Layr-Labs/frost-wallet-node/pkg/persistence"
)

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Debug: false})
	require.NoError(t, err)
	return l
}

func TestBadgerPersistence_SaveAndLoadWallet(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger := newTestLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	record := &persistence.WalletRecord{
		WalletID:          "w1",
		DeviceID:          "alice",
		CurveType:         "secp256k1",
		Threshold:         2,
		TotalParticipants: 3,
		ParticipantIndex:  1,
		GroupPublicKeyB64: "abcd",
		CreatedAt:         100,
	}

	require.NoError(t, bp.SaveWalletRecord(record))

	loaded, err := bp.LoadWalletRecord("w1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record, loaded)
}

func TestBadgerPersistence_LoadWallet_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadWalletRecord("missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_SaveWallet_Nil(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	err = bp.SaveWalletRecord(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil WalletRecord")
}

func TestBadgerPersistence_DeleteWallet(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.SaveWalletRecord(&persistence.WalletRecord{WalletID: "w1"}))
	require.NoError(t, bp.DeleteWalletRecord("w1"))

	loaded, err := bp.LoadWalletRecord("w1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_DeleteWallet_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.DeleteWalletRecord("missing"))
}

func TestBadgerPersistence_ListWalletRecords(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	for i := 0; i < 5; i++ {
		require.NoError(t, bp.SaveWalletRecord(&persistence.WalletRecord{
			WalletID:  string(rune('a' + i)),
			CreatedAt: int64(i * 100),
		}))
	}

	listed, err := bp.ListWalletRecords()
	require.NoError(t, err)
	require.Len(t, listed, 5)
	for i := 0; i < len(listed)-1; i++ {
		assert.Less(t, listed[i].CreatedAt, listed[i+1].CreatedAt)
	}
}

func TestBadgerPersistence_ListWalletRecords_Empty(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	listed, err := bp.ListWalletRecords()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestBadgerPersistence_NodeState(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	state, err := bp.LoadNodeState()
	require.NoError(t, err)
	assert.Nil(t, state)

	newState := &persistence.NodeState{DeviceID: "alice", CurveType: "ed25519", NodeStartTime: 9876543210}
	require.NoError(t, bp.SaveNodeState(newState))

	loaded, err := bp.LoadNodeState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, newState, loaded)
}

func TestBadgerPersistence_NodeState_Nil(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	err = bp.SaveNodeState(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil NodeState")
}

func TestBadgerPersistence_SessionSnapshots(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	snapshot := &persistence.SessionSnapshot{
		SessionID:    "s1",
		Kind:         "dkg",
		Phase:        "round1",
		Participants: []string{"alice", "bob"},
	}
	require.NoError(t, bp.SaveSessionSnapshot(snapshot))

	loaded, err := bp.LoadSessionSnapshot("s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snapshot, loaded)
}

func TestBadgerPersistence_LoadSessionSnapshot_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadSessionSnapshot("missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_SaveSessionSnapshot_Nil(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	err = bp.SaveSessionSnapshot(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil SessionSnapshot")
}

func TestBadgerPersistence_DeleteSessionSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.SaveSessionSnapshot(&persistence.SessionSnapshot{SessionID: "s1"}))
	require.NoError(t, bp.DeleteSessionSnapshot("s1"))

	loaded, err := bp.LoadSessionSnapshot("s1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_ListSessionSnapshots(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, bp.SaveSessionSnapshot(&persistence.SessionSnapshot{SessionID: string(rune('a' + i))}))
	}

	listed, err := bp.ListSessionSnapshots()
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestBadgerPersistence_ListSessionSnapshots_Empty(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	listed, err := bp.ListSessionSnapshots()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestBadgerPersistence_Close(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, bp.Close())

	err = bp.SaveWalletRecord(&persistence.WalletRecord{WalletID: "w1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	_, err = bp.LoadWalletRecord("w1")
	require.Error(t, err)

	err = bp.SaveNodeState(&persistence.NodeState{})
	require.Error(t, err)
}

func TestBadgerPersistence_Close_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, bp.Close())
	require.NoError(t, bp.Close())
}

func TestBadgerPersistence_HealthCheck(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.HealthCheck())

	require.NoError(t, bp.Close())
	err = bp.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestBadgerPersistence_ThreadSafety(t *testing.T) {
	tmpDir := t.TempDir()
	bp, err := NewBadgerPersistence(tmpDir, newTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	var wg sync.WaitGroup
	numGoroutines := 10
	numOperations := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				err := bp.SaveWalletRecord(&persistence.WalletRecord{WalletID: recordID(id, j)})
				assert.NoError(t, err)
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				_, err := bp.LoadWalletRecord(recordID(id, j))
				assert.NoError(t, err)
			}
		}(i)
	}

	wg.Wait()
}

func TestBadgerPersistence_PersistenceAcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger := newTestLogger(t)

	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	record := &persistence.WalletRecord{WalletID: "w1", CurveType: "secp256k1", CreatedAt: 99999}
	require.NoError(t, bp1.SaveWalletRecord(record))

	nodeState := &persistence.NodeState{DeviceID: "alice", NodeStartTime: 1234567890}
	require.NoError(t, bp1.SaveNodeState(nodeState))

	require.NoError(t, bp1.Close())

	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loadedRecord, err := bp2.LoadWalletRecord("w1")
	require.NoError(t, err)
	require.NotNil(t, loadedRecord)
	assert.Equal(t, record, loadedRecord)

	loadedState, err := bp2.LoadNodeState()
	require.NoError(t, err)
	require.NotNil(t, loadedState)
	assert.Equal(t, nodeState, loadedState)
}

func recordID(id, j int) string {
	return string(rune('a'+id%26)) + string(rune('0'+j%10))
}
