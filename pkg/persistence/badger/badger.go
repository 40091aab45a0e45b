package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Layr-Labs/frost-wallet-node/pkg/persistence"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixWallet      = "wallet:"
	keyPrefixNodeState   = "nodestate:main"
	keyPrefixSession     = "session:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is the production persistence implementation, backed by
// an embedded Badger store. Provides durable, disk-based storage with ACID
// guarantees for a single node.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("badger persistence initialized", "path", absPath)

	return bp, nil
}

func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SaveWalletRecord persists a wallet index entry.
func (b *BadgerPersistence) SaveWalletRecord(record *persistence.WalletRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil WalletRecord")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalWalletRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal WalletRecord: %w", err)
	}

	key := keyPrefixWallet + record.WalletID
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// LoadWalletRecord retrieves a wallet record by ID.
func (b *BadgerPersistence) LoadWalletRecord(walletID string) (*persistence.WalletRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	key := keyPrefixWallet + walletID

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load WalletRecord: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	record, err := persistence.UnmarshalWalletRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal WalletRecord: %w", err)
	}
	return record, nil
}

// ListWalletRecords returns all wallet records sorted by CreatedAt ascending.
func (b *BadgerPersistence) ListWalletRecords() ([]*persistence.WalletRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var records []*persistence.WalletRecord

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixWallet)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			record, err := persistence.UnmarshalWalletRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("failed to unmarshal WalletRecord, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list WalletRecords: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt < records[j].CreatedAt })
	return records, nil
}

// DeleteWalletRecord removes a wallet record.
func (b *BadgerPersistence) DeleteWalletRecord(walletID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	key := keyPrefixWallet + walletID
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// SaveNodeState persists node operational state.
func (b *BadgerPersistence) SaveNodeState(state *persistence.NodeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil NodeState")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalNodeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal NodeState: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPrefixNodeState), data)
	})
}

// LoadNodeState retrieves node operational state.
func (b *BadgerPersistence) LoadNodeState() (*persistence.NodeState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefixNodeState))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load NodeState: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	state, err := persistence.UnmarshalNodeState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal NodeState: %w", err)
	}
	return state, nil
}

// SaveSessionSnapshot persists an in-flight DKG or signing session snapshot.
func (b *BadgerPersistence) SaveSessionSnapshot(snapshot *persistence.SessionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil SessionSnapshot")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalSessionSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionSnapshot: %w", err)
	}

	key := keyPrefixSession + snapshot.SessionID
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// LoadSessionSnapshot retrieves a session snapshot by ID.
func (b *BadgerPersistence) LoadSessionSnapshot(sessionID string) (*persistence.SessionSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	key := keyPrefixSession + sessionID

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load SessionSnapshot: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	snapshot, err := persistence.UnmarshalSessionSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SessionSnapshot: %w", err)
	}
	return snapshot, nil
}

// DeleteSessionSnapshot removes a completed/failed session's snapshot.
func (b *BadgerPersistence) DeleteSessionSnapshot(sessionID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	key := keyPrefixSession + sessionID
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// ListSessionSnapshots returns every persisted session snapshot.
func (b *BadgerPersistence) ListSessionSnapshots() ([]*persistence.SessionSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var snapshots []*persistence.SessionSnapshot

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixSession)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			snapshot, err := persistence.UnmarshalSessionSnapshot(data)
			if err != nil {
				b.logger.Sugar().Warnw("failed to unmarshal SessionSnapshot, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			snapshots = append(snapshots, snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list SessionSnapshots: %w", err)
	}
	return snapshots, nil
}

// Close shuts down the persistence layer.
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
