// Package dedup implements §4.I: a time-bounded LRU keyed by
// (from_device, message_kind, content_hash, optional sequence) that drops
// duplicate inbound application messages, plus a per-source sequence
// tracker that buffers out-of-order messages.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Deduplicator drops messages already seen within the configured TTL.
// Safe for concurrent use, though in this node only the command-bus task
// calls it (§4.H serializes all state mutation).
type Deduplicator struct {
	cache *lru.LRU[string, struct{}]
}

// New builds a Deduplicator holding up to capacity entries, each expiring
// ttl after insertion.
func New(capacity int, ttl time.Duration) *Deduplicator {
	return &Deduplicator{cache: lru.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// Key builds the composite dedup key for one inbound message. seq is
// included when the message kind carries a sequence number; pass "" when
// it doesn't (e.g. a one-shot proposal).
func Key(fromDevice, messageKind string, payload []byte, seq string) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s|%s|%s|%s", fromDevice, messageKind, hex.EncodeToString(sum[:]), seq)
}

// Seen reports whether key has already been observed, and records it as
// seen if not — this is the check-and-mark the command bus calls on every
// inbound application message before acting on it.
func (d *Deduplicator) Seen(key string) bool {
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}

// SequenceTracker enforces monotonic per-source sequence numbers,
// buffering out-of-order arrivals up to a bounded size per source (§4.I).
type SequenceTracker struct {
	mu         sync.Mutex
	maxBuffer  int
	nextWanted map[string]uint64
	buffered   map[string]map[uint64]struct{}
}

func NewSequenceTracker(maxBufferPerSource int) *SequenceTracker {
	return &SequenceTracker{
		maxBuffer:  maxBufferPerSource,
		nextWanted: make(map[string]uint64),
		buffered:   make(map[string]map[uint64]struct{}),
	}
}

// Accept reports whether a message with the given sequence number from
// source should be processed now. It returns ready=true immediately for
// the next-expected sequence; the first sequence seen from a source, whatever
// its value, is treated as that source's start. Out-of-order sequences
// within the buffer bound are recorded and reported not-ready; once the
// buffer is full, a further out-of-order arrival is reported not-ready and
// not recorded, so memory stays bounded.
func (t *SequenceTracker) Accept(source string, sequence uint64) (ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	want, known := t.nextWanted[source]
	if !known {
		want = sequence
	}

	if sequence < want {
		return false // stale retransmit
	}
	if sequence == want {
		t.nextWanted[source] = want + 1
		t.drainBuffered(source)
		return true
	}

	buf, ok := t.buffered[source]
	if !ok {
		buf = make(map[uint64]struct{})
		t.buffered[source] = buf
	}
	if len(buf) >= t.maxBuffer {
		return false
	}
	buf[sequence] = struct{}{}
	return false
}

// drainBuffered advances nextWanted past any now-contiguous buffered
// sequences. Caller holds t.mu.
func (t *SequenceTracker) drainBuffered(source string) {
	buf, ok := t.buffered[source]
	if !ok {
		return
	}
	for {
		want := t.nextWanted[source]
		if _, present := buf[want]; !present {
			return
		}
		delete(buf, want)
		t.nextWanted[source] = want + 1
	}
}
