package redis

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
	"github.com/Layr-Labs/frost-wallet-node/pkg/persistence"
)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis skips the test if Redis is not available.
func requireRedis(t *testing.T) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.New(logger.Config{Debug: false})
	cfg := &RedisConfig{
		Address: getTestRedisAddress(),
		DB:      15, // dedicated test DB
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Skipf("redis not available at %s: %v", cfg.Address, err)
		return nil
	}
	return rp
}

func TestRedisPersistence_SaveAndLoadWallet(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	record := &persistence.WalletRecord{WalletID: "w-save-load", CreatedAt: 100}
	require.NoError(t, rp.SaveWalletRecord(record))
	defer func() { _ = rp.DeleteWalletRecord(record.WalletID) }()

	loaded, err := rp.LoadWalletRecord(record.WalletID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record, loaded)
}

func TestRedisPersistence_LoadWallet_NotFound(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	loaded, err := rp.LoadWalletRecord("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_SaveWallet_Nil(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	err := rp.SaveWalletRecord(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil WalletRecord")
}

func TestRedisPersistence_DeleteWallet(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	record := &persistence.WalletRecord{WalletID: "w-delete"}
	require.NoError(t, rp.SaveWalletRecord(record))
	require.NoError(t, rp.DeleteWalletRecord("w-delete"))

	loaded, err := rp.LoadWalletRecord("w-delete")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_DeleteWallet_Idempotent(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.DeleteWalletRecord("never-existed"))
}

func TestRedisPersistence_ListWalletRecords(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	ids := []string{"w-list-1", "w-list-2", "w-list-3"}
	for i, id := range ids {
		require.NoError(t, rp.SaveWalletRecord(&persistence.WalletRecord{WalletID: id, CreatedAt: int64(i * 100)}))
	}
	defer func() {
		for _, id := range ids {
			_ = rp.DeleteWalletRecord(id)
		}
	}()

	listed, err := rp.ListWalletRecords()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(listed), len(ids))
}

func TestRedisPersistence_NodeState(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	newState := &persistence.NodeState{DeviceID: "alice", CurveType: "secp256k1", NodeStartTime: 9876543210}
	require.NoError(t, rp.SaveNodeState(newState))

	loaded, err := rp.LoadNodeState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, newState, loaded)
}

func TestRedisPersistence_NodeState_Nil(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	err := rp.SaveNodeState(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil NodeState")
}

func TestRedisPersistence_SessionSnapshots(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	snapshot := &persistence.SessionSnapshot{
		SessionID:    "session-redis-1",
		Kind:         "dkg",
		Phase:        "round1",
		Participants: []string{"alice", "bob"},
	}
	defer func() { _ = rp.DeleteSessionSnapshot(snapshot.SessionID) }()

	require.NoError(t, rp.SaveSessionSnapshot(snapshot))

	loaded, err := rp.LoadSessionSnapshot(snapshot.SessionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snapshot, loaded)
}

func TestRedisPersistence_LoadSessionSnapshot_NotFound(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	loaded, err := rp.LoadSessionSnapshot("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_SaveSessionSnapshot_Nil(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	err := rp.SaveSessionSnapshot(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil SessionSnapshot")
}

func TestRedisPersistence_DeleteSessionSnapshot(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	snapshot := &persistence.SessionSnapshot{SessionID: "session-redis-delete"}
	require.NoError(t, rp.SaveSessionSnapshot(snapshot))
	require.NoError(t, rp.DeleteSessionSnapshot(snapshot.SessionID))

	loaded, err := rp.LoadSessionSnapshot(snapshot.SessionID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisPersistence_ListSessionSnapshots(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	ids := []string{"session-redis-list-1", "session-redis-list-2", "session-redis-list-3"}
	for _, id := range ids {
		require.NoError(t, rp.SaveSessionSnapshot(&persistence.SessionSnapshot{SessionID: id}))
	}
	defer func() {
		for _, id := range ids {
			_ = rp.DeleteSessionSnapshot(id)
		}
	}()

	listed, err := rp.ListSessionSnapshots()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(listed), len(ids))
}

func TestRedisPersistence_Close(t *testing.T) {
	rp := requireRedis(t)

	require.NoError(t, rp.Close())

	err := rp.SaveWalletRecord(&persistence.WalletRecord{WalletID: "w1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	_, err = rp.LoadWalletRecord("w1")
	require.Error(t, err)

	err = rp.SaveNodeState(&persistence.NodeState{})
	require.Error(t, err)
}

func TestRedisPersistence_Close_Idempotent(t *testing.T) {
	rp := requireRedis(t)

	require.NoError(t, rp.Close())
	require.NoError(t, rp.Close())
}

func TestRedisPersistence_HealthCheck(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.HealthCheck())
}

func TestRedisPersistence_HealthCheck_AfterClose(t *testing.T) {
	rp := requireRedis(t)

	require.NoError(t, rp.Close())

	err := rp.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestRedisPersistence_ThreadSafety(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	var wg sync.WaitGroup
	numGoroutines := 10
	numOperations := 20

	ids := make([]string, 0, numGoroutines*numOperations)
	var idsMu sync.Mutex

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				id := recordID(gid, j)
				idsMu.Lock()
				ids = append(ids, id)
				idsMu.Unlock()
				err := rp.SaveWalletRecord(&persistence.WalletRecord{WalletID: id})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	defer func() {
		for _, id := range ids {
			_ = rp.DeleteWalletRecord(id)
		}
	}()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				_, err := rp.LoadWalletRecord(recordID(gid, j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestRedisPersistence_Config_Nil(t *testing.T) {
	testLogger, _ := logger.New(logger.Config{Debug: false})

	_, err := NewRedisPersistence(nil, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestRedisPersistence_Config_EmptyAddress(t *testing.T) {
	testLogger, _ := logger.New(logger.Config{Debug: false})

	_, err := NewRedisPersistence(&RedisConfig{Address: ""}, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func recordID(gid, j int) string {
	return "w-thread-" + string(rune('a'+gid%26)) + "-" + string(rune('0'+j%10))
}
