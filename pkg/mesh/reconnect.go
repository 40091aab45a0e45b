package mesh

import (
	"sync"
	"time"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
)

// reconnectTracker implements §4.B's "Reconnection tracker": per remote
// peer, `attempts` and `last_attempt`. should_attempt() returns true
// unless the peer is in a cooldown window whose length grows linearly for
// the first LinearAttempts-to-MaxAttempts attempts, then exponentially,
// capped at MaxCooldown.
type reconnectTracker struct {
	cfg config.ReconnectConfig

	mu          sync.Mutex
	attempts    map[string]int
	lastAttempt map[string]time.Time
}

func newReconnectTracker(cfg config.ReconnectConfig) *reconnectTracker {
	return &reconnectTracker{
		cfg:         cfg,
		attempts:    make(map[string]int),
		lastAttempt: make(map[string]time.Time),
	}
}

// cooldown computes the backoff duration for the n-th attempt (1-indexed)
// against a peer, per §4.B's stated formula.
func (t *reconnectTracker) cooldown(attempt int) time.Duration {
	c := t.cfg
	var seconds float64
	switch {
	case attempt <= c.LinearAttempts:
		seconds = c.InitialCooldown
	case attempt <= c.MaxAttempts:
		// Linear growth from InitialCooldown up to MaxAttempts.
		steps := attempt - c.LinearAttempts
		span := c.MaxAttempts - c.LinearAttempts
		if span <= 0 {
			seconds = c.InitialCooldown
		} else {
			growth := (c.MaxCooldown - c.InitialCooldown) / float64(span)
			seconds = c.InitialCooldown + growth*float64(steps)
		}
	default:
		over := attempt - c.MaxAttempts
		seconds = c.InitialCooldown
		for i := 0; i < over; i++ {
			seconds *= c.ExponentialBase
		}
	}
	if seconds > c.MaxCooldown {
		seconds = c.MaxCooldown
	}
	return time.Duration(seconds * float64(time.Second))
}

// shouldAttempt reports whether a reconnect to peer is permitted now.
func (t *reconnectTracker) shouldAttempt(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	attempt := t.attempts[peer]
	if attempt == 0 {
		return true
	}
	last, ok := t.lastAttempt[peer]
	if !ok {
		return true
	}
	return time.Since(last) >= t.cooldown(attempt)
}

// recordAttempt marks that a reconnect to peer was just attempted.
func (t *reconnectTracker) recordAttempt(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[peer]++
	t.lastAttempt[peer] = time.Now()
}

// clear resets the counters for peer after a successful reconnect.
func (t *reconnectTracker) clear(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, peer)
	delete(t.lastAttempt, peer)
}
