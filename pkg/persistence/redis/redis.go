package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Layr-Labs/frost-wallet-node/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixWallet      = "frost:wallet:"
	keyPrefixNodeState   = "frost:nodestate:main"
	keyPrefixSession     = "frost:session:"
	keySchemaVersion     = "frost:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Index sets, since Redis has no native prefix iteration.
	keySetWallets  = "frost:wallets:index"
	keySetSessions = "frost:sessions:index"
)

// RedisPersistence is a production persistence implementation backed by
// Redis, suitable for cloud-native, multi-process deployments sharing one
// node's state (e.g. a horizontally-scaled signal-relay fleet in front of
// one logical wallet node).
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis.
type RedisConfig struct {
	Address string
	Password string
	DB       int
	// KeyPrefix is an optional custom prefix for all keys (multi-tenant setups).
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

// SaveWalletRecord persists a wallet index entry.
func (r *RedisPersistence) SaveWalletRecord(record *persistence.WalletRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil WalletRecord")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	data, err := persistence.MarshalWalletRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal WalletRecord: %w", err)
	}

	key := r.prefixKey(keyPrefixWallet + record.WalletID)
	indexKey := r.prefixKey(keySetWallets)
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, record.WalletID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save WalletRecord: %w", err)
	}
	return nil
}

// LoadWalletRecord retrieves a wallet record by ID.
func (r *RedisPersistence) LoadWalletRecord(walletID string) (*persistence.WalletRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixWallet + walletID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load WalletRecord: %w", err)
	}

	record, err := persistence.UnmarshalWalletRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal WalletRecord: %w", err)
	}
	return record, nil
}

// ListWalletRecords returns all wallet records sorted by CreatedAt ascending.
func (r *RedisPersistence) ListWalletRecords() ([]*persistence.WalletRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetWallets)

	walletIDs, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet ids: %w", err)
	}
	if len(walletIDs) == 0 {
		return []*persistence.WalletRecord{}, nil
	}

	keys := make([]string, len(walletIDs))
	for i, id := range walletIDs {
		keys[i] = r.prefixKey(keyPrefixWallet + id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch WalletRecords: %w", err)
	}

	var records []*persistence.WalletRecord
	for i, val := range values {
		if val == nil {
			r.client.SRem(ctx, indexKey, walletIDs[i])
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("unexpected value type for WalletRecord", "key", keys[i])
			continue
		}
		record, err := persistence.UnmarshalWalletRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("failed to unmarshal WalletRecord, skipping", "key", keys[i], "error", err)
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt < records[j].CreatedAt })
	return records, nil
}

// DeleteWalletRecord removes a wallet record.
func (r *RedisPersistence) DeleteWalletRecord(walletID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixWallet + walletID)
	indexKey := r.prefixKey(keySetWallets)

	pipe := r.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, indexKey, walletID)

	_, err := pipe.Exec(ctx)
	return err
}

// SaveNodeState persists node operational state.
func (r *RedisPersistence) SaveNodeState(state *persistence.NodeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil NodeState")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixNodeState)

	data, err := persistence.MarshalNodeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal NodeState: %w", err)
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

// LoadNodeState retrieves node operational state.
func (r *RedisPersistence) LoadNodeState() (*persistence.NodeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixNodeState)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load NodeState: %w", err)
	}

	state, err := persistence.UnmarshalNodeState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal NodeState: %w", err)
	}
	return state, nil
}

// SaveSessionSnapshot persists an in-flight DKG or signing session snapshot.
func (r *RedisPersistence) SaveSessionSnapshot(snapshot *persistence.SessionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil SessionSnapshot")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	data, err := persistence.MarshalSessionSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionSnapshot: %w", err)
	}

	key := r.prefixKey(keyPrefixSession + snapshot.SessionID)
	indexKey := r.prefixKey(keySetSessions)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, snapshot.SessionID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save SessionSnapshot: %w", err)
	}
	return nil
}

// LoadSessionSnapshot retrieves a session snapshot by ID.
func (r *RedisPersistence) LoadSessionSnapshot(sessionID string) (*persistence.SessionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixSession + sessionID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load SessionSnapshot: %w", err)
	}

	snapshot, err := persistence.UnmarshalSessionSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal SessionSnapshot: %w", err)
	}
	return snapshot, nil
}

// DeleteSessionSnapshot removes a completed/failed session's snapshot.
func (r *RedisPersistence) DeleteSessionSnapshot(sessionID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixSession + sessionID)
	indexKey := r.prefixKey(keySetSessions)

	pipe := r.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, indexKey, sessionID)

	_, err := pipe.Exec(ctx)
	return err
}

// ListSessionSnapshots returns every persisted session snapshot.
func (r *RedisPersistence) ListSessionSnapshots() ([]*persistence.SessionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetSessions)

	sessionIDs, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}
	if len(sessionIDs) == 0 {
		return []*persistence.SessionSnapshot{}, nil
	}

	keys := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		keys[i] = r.prefixKey(keyPrefixSession + id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch SessionSnapshots: %w", err)
	}

	var snapshots []*persistence.SessionSnapshot
	for i, val := range values {
		if val == nil {
			r.client.SRem(ctx, indexKey, sessionIDs[i])
			continue
		}
		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("unexpected value type for SessionSnapshot", "key", keys[i])
			continue
		}
		snapshot, err := persistence.UnmarshalSessionSnapshot([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("failed to unmarshal SessionSnapshot, skipping", "key", keys[i], "error", err)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

// Close shuts down the persistence layer.
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	schemaKey := r.prefixKey(keySchemaVersion)
	_, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	return nil
}
