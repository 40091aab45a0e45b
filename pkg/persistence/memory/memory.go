package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Layr-Labs/frost-wallet-node/pkg/persistence"
)

// MemoryPersistence is an in-memory implementation of INodePersistence.
// Suitable for tests; all data is lost on exit.
type MemoryPersistence struct {
	mu sync.RWMutex

	wallets   map[string]*persistence.WalletRecord
	nodeState *persistence.NodeState
	sessions  map[string]*persistence.SessionSnapshot

	closed bool
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		wallets:  make(map[string]*persistence.WalletRecord),
		sessions: make(map[string]*persistence.SessionSnapshot),
	}
}

func (m *MemoryPersistence) SaveWalletRecord(record *persistence.WalletRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil WalletRecord")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	m.wallets[record.WalletID] = deepCopyWalletRecord(record)
	return nil
}

func (m *MemoryPersistence) LoadWalletRecord(walletID string) (*persistence.WalletRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}
	record, ok := m.wallets[walletID]
	if !ok {
		return nil, nil
	}
	return deepCopyWalletRecord(record), nil
}

func (m *MemoryPersistence) ListWalletRecords() ([]*persistence.WalletRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}
	result := make([]*persistence.WalletRecord, 0, len(m.wallets))
	for _, r := range m.wallets {
		result = append(result, deepCopyWalletRecord(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt })
	return result, nil
}

func (m *MemoryPersistence) DeleteWalletRecord(walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	delete(m.wallets, walletID)
	return nil
}

func (m *MemoryPersistence) SaveNodeState(state *persistence.NodeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil NodeState")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	copied := *state
	m.nodeState = &copied
	return nil
}

func (m *MemoryPersistence) LoadNodeState() (*persistence.NodeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}
	if m.nodeState == nil {
		return nil, nil
	}
	copied := *m.nodeState
	return &copied, nil
}

func (m *MemoryPersistence) SaveSessionSnapshot(snapshot *persistence.SessionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil SessionSnapshot")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	m.sessions[snapshot.SessionID] = deepCopySessionSnapshot(snapshot)
	return nil
}

func (m *MemoryPersistence) LoadSessionSnapshot(sessionID string) (*persistence.SessionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return deepCopySessionSnapshot(s), nil
}

func (m *MemoryPersistence) DeleteSessionSnapshot(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryPersistence) ListSessionSnapshots() ([]*persistence.SessionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}
	result := make([]*persistence.SessionSnapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, deepCopySessionSnapshot(s))
	}
	return result, nil
}

func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

func deepCopyWalletRecord(r *persistence.WalletRecord) *persistence.WalletRecord {
	if r == nil {
		return nil
	}
	copied := *r
	return &copied
}

func deepCopySessionSnapshot(s *persistence.SessionSnapshot) *persistence.SessionSnapshot {
	if s == nil {
		return nil
	}
	copied := *s
	participants := make([]string, len(s.Participants))
	copy(participants, s.Participants)
	copied.Participants = participants
	return &copied
}
