package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
)

func TestReconnectTracker_FirstAttemptAlwaysAllowed(t *testing.T) {
	tr := newReconnectTracker(config.DefaultReconnectConfig())
	assert.True(t, tr.shouldAttempt("bob"))
}

func TestReconnectTracker_CooldownBlocksImmediateRetry(t *testing.T) {
	tr := newReconnectTracker(config.DefaultReconnectConfig())
	tr.recordAttempt("bob")
	assert.False(t, tr.shouldAttempt("bob"))
}

func TestReconnectTracker_AllowsAfterCooldownElapses(t *testing.T) {
	cfg := config.DefaultReconnectConfig()
	cfg.InitialCooldown = 0.01 // 10ms, so the test doesn't sleep long
	tr := newReconnectTracker(cfg)
	tr.recordAttempt("bob")
	require.False(t, tr.shouldAttempt("bob"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, tr.shouldAttempt("bob"))
}

func TestReconnectTracker_ClearResetsState(t *testing.T) {
	tr := newReconnectTracker(config.DefaultReconnectConfig())
	tr.recordAttempt("bob")
	tr.recordAttempt("bob")
	tr.clear("bob")
	assert.True(t, tr.shouldAttempt("bob"))
	assert.Equal(t, 0, tr.attempts["bob"])
}

func TestReconnectTracker_CooldownGrowsThenCaps(t *testing.T) {
	cfg := config.ReconnectConfig{
		InitialCooldown: 0.5,
		LinearAttempts:  3,
		MaxAttempts:     5,
		ExponentialBase: 2.0,
		MaxCooldown:     10,
	}
	tr := newReconnectTracker(cfg)

	// First three attempts use InitialCooldown unchanged.
	assert.Equal(t, 500*time.Millisecond, tr.cooldown(1))
	assert.Equal(t, 500*time.Millisecond, tr.cooldown(3))

	// Linear growth between LinearAttempts and MaxAttempts.
	fourth := tr.cooldown(4)
	fifth := tr.cooldown(5)
	assert.Greater(t, fourth, 500*time.Millisecond)
	assert.GreaterOrEqual(t, fifth, fourth)

	// Exponential growth beyond MaxAttempts, capped at MaxCooldown.
	assert.LessOrEqual(t, tr.cooldown(20), 10*time.Second)
	assert.Equal(t, 10*time.Second, tr.cooldown(100))
}

func TestReconnectTracker_PerPeerIndependence(t *testing.T) {
	tr := newReconnectTracker(config.DefaultReconnectConfig())
	tr.recordAttempt("bob")
	assert.True(t, tr.shouldAttempt("charlie"))
}
