package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DeviceID:       "device-a",
		SignalServer:   "wss://unused.invalid",
		Curve:          config.CurveTypeSecp256k1,
		Offline:        true,
		KeystoreRoot:   t.TempDir(),
		Reconnect:      config.DefaultReconnectConfig(),
		Timeouts:       config.DefaultTimeoutConfig(),
		DedupTTLSecond: 300,
		DedupCapacity:  64,
	}
}

func noPassword(string) ([]byte, error) { return nil, nil }

func TestNodeStartStopLifecycle(t *testing.T) {
	n := New(testConfig(t), noPassword, logger.Noop())

	done := make(chan error, 1)
	go func() { done <- n.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	n.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestNodeListWalletsEmptyKeystore(t *testing.T) {
	n := New(testConfig(t), noPassword, logger.Noop())

	done := make(chan error, 1)
	go func() { done <- n.Start(context.Background()) }()
	defer n.Stop()

	require.Eventually(t, func() bool {
		_, err := n.ListWallets("secp256k1")
		return err == nil
	}, time.Second, 5*time.Millisecond, "bus never became ready to answer ListWallets")

	wallets, err := n.ListWallets("secp256k1")
	require.NoError(t, err)
	assert.Empty(t, wallets)

	n.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestNodeCreateWalletMintsDistinctSessionIDs(t *testing.T) {
	n := New(testConfig(t), noPassword, logger.Noop())

	done := make(chan error, 1)
	go func() { done <- n.Start(context.Background()) }()
	defer n.Stop()

	first := n.CreateWallet("wallet-a", []byte("hunter2"), 3, 2, []string{"device-a", "device-b", "device-c"})
	second := n.CreateWallet("wallet-b", []byte("hunter2"), 3, 2, []string{"device-a", "device-b", "device-c"})

	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestNodeOfflineDoesNotBlockOnRelay(t *testing.T) {
	cfg := testConfig(t)
	n := New(cfg, noPassword, logger.Noop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := n.Start(ctx)
	assert.NoError(t, err, "an offline node must not fail trying to reach the signal relay")
}
