package mesh

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

// Grounded on apps/tui-node/src/optimization/message_batcher.rs's
// MessageBatcher: a per-target queue of pending messages, flushed once a
// target's queue reaches batchSize messages or maxBatchBytes, and swept
// unconditionally by a background ticker every flushInterval. A DKG/signing
// round broadcasts the same frame to every participant in quick succession
// (§4.E/§4.F); batching lets several of a round's frames to the same peer
// go out as one datastream send instead of one each.

type pendingMessage struct {
	content   json.RawMessage
	sizeBytes int
}

// batcher accumulates outbound frames per peer and flushes them as a
// single BatchFrame once a size or count threshold is crossed, or on the
// next background tick.
type batcher struct {
	cfg  config.BatchConfig
	conn *Connector
	log  *zap.Logger

	mu      sync.Mutex
	pending map[string][]pendingMessage
}

func newBatcher(cfg config.BatchConfig, conn *Connector, log *zap.Logger) *batcher {
	if cfg.MaxBatchBytes == 0 {
		cfg.MaxBatchBytes = 1024 * 1024
	}
	return &batcher{cfg: cfg, conn: conn, log: log, pending: make(map[string][]pendingMessage)}
}

func (b *batcher) enabled() bool {
	return b != nil && b.cfg.BatchSize > 0
}

// send enqueues frame for target, flushing target's queue first if frame
// would push it over the byte budget, or immediately after enqueueing if
// the queue has reached batchSize.
func (b *batcher) send(target string, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	msg := pendingMessage{content: data, sizeBytes: len(data)}

	b.mu.Lock()
	batch := b.pending[target]
	currentSize := 0
	for _, m := range batch {
		currentSize += m.sizeBytes
	}

	if currentSize+msg.sizeBytes > b.cfg.MaxBatchBytes && len(batch) > 0 {
		toFlush := batch
		b.pending[target] = []pendingMessage{msg}
		b.mu.Unlock()
		return b.flushMessages(target, toFlush)
	}

	batch = append(batch, msg)
	b.pending[target] = batch
	flush := len(batch) >= b.cfg.BatchSize
	b.mu.Unlock()

	if flush {
		return b.flushTarget(target)
	}
	return nil
}

func (b *batcher) flushTarget(target string) error {
	b.mu.Lock()
	toFlush := b.pending[target]
	delete(b.pending, target)
	b.mu.Unlock()
	return b.flushMessages(target, toFlush)
}

// flushAll drains every target's queue and flushes each, collecting the
// first error but still attempting every target (same policy as
// Connector.Broadcast).
func (b *batcher) flushAll() error {
	b.mu.Lock()
	targets := make([]string, 0, len(b.pending))
	for target := range b.pending {
		targets = append(targets, target)
	}
	b.mu.Unlock()

	var firstErr error
	for _, target := range targets {
		if err := b.flushTarget(target); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *batcher) flushMessages(target string, messages []pendingMessage) error {
	if len(messages) == 0 {
		return nil
	}
	contents := make([]json.RawMessage, len(messages))
	for i, m := range messages {
		contents[i] = m.content
	}
	frame := types.FrameEnvelope{Batch: &types.BatchFrame{
		BatchID:  uuid.NewString(),
		Messages: contents,
	}}
	if err := b.conn.SendFrame(target, frame); err != nil {
		b.log.Sugar().Warnw("failed to send batch", "target", target, "error", err)
		return err
	}
	return nil
}

// run periodically sweeps every target's queue until ctx is cancelled,
// mirroring message_batcher.rs's flush_task background ticker.
func (b *batcher) run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.flushAll(); err != nil {
				b.log.Sugar().Warnw("periodic batch flush failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
