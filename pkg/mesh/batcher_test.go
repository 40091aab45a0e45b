package mesh

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

func newTestBatcher(t *testing.T, cfg config.BatchConfig) (*batcher, *Connector) {
	t.Helper()
	log, err := logger.New(logger.Config{Debug: false})
	require.NoError(t, err)
	conn := New("self", nil, config.DefaultReconnectConfig(), config.BatchConfig{}, nil, Handlers{}, log)
	return newBatcher(cfg, conn, log), conn
}

func TestBatcherFlushesAtBatchSize(t *testing.T) {
	// Exercise the batcher against a peer with no live datastream:
	// SendFrame fails (no connection), so reaching batch_size and
	// flushing surfaces that error rather than silently dropping the
	// batch.
	b, _ := newTestBatcher(t, config.BatchConfig{BatchSize: 2, FlushInterval: time.Hour})
	require.NoError(t, b.send("peer-a", map[string]string{"a": "1"}))
	err := b.send("peer-a", map[string]string{"a": "2"})
	require.Error(t, err, "flush at batch size should surface SendFrame's no-connection error")
}

func TestBatcherAccumulatesBelowThreshold(t *testing.T) {
	b, _ := newTestBatcher(t, config.BatchConfig{BatchSize: 10, FlushInterval: time.Hour})
	require.NoError(t, b.send("peer-a", map[string]string{"a": "1"}))

	b.mu.Lock()
	pending := len(b.pending["peer-a"])
	b.mu.Unlock()
	assert.Equal(t, 1, pending, "a message below batch_size should stay queued, not flush")
}

func TestBatcherFlushAllDrainsEveryTarget(t *testing.T) {
	b, _ := newTestBatcher(t, config.BatchConfig{BatchSize: 100, FlushInterval: time.Hour})
	require.NoError(t, b.send("peer-a", map[string]string{"a": "1"}))
	require.NoError(t, b.send("peer-b", map[string]string{"b": "1"}))

	_ = b.flushAll()

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.pending["peer-a"])
	assert.Empty(t, b.pending["peer-b"])
}

func TestBatcherRunFlushesOnTick(t *testing.T) {
	b, _ := newTestBatcher(t, config.BatchConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.send("peer-a", map[string]string{"a": "1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	b.run(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.pending["peer-a"], "background ticker should have flushed the queued message")
}

func TestDisabledBatcherIsNilSafe(t *testing.T) {
	var b *batcher
	assert.False(t, b.enabled())
}

func TestBatchFrameRoundTripsThroughJSON(t *testing.T) {
	frame := types.BatchFrame{BatchID: "b1", Messages: []json.RawMessage{json.RawMessage(`{"hello":"world"}`)}}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	var back types.BatchFrame
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, frame, back)
}
