package auth

import (
	"context"
	"sync"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const revocationSweepInterval = 5 * time.Minute

// RevocationStore remembers logged-out session ids until their tokens expire.
type RevocationStore interface {
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
	Close()
}

type memoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryRevocationStore returns a process-local RevocationStore.
func NewMemoryRevocationStore() RevocationStore {
	st := &memoryRevocationStore{
		entries: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
	go st.sweepLoop()
	return st
}

func (st *memoryRevocationStore) Revoke(_ context.Context, sessionID string, until time.Time) error {
	if sessionID == "" {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.entries[sessionID] = until
	return nil
}

func (st *memoryRevocationStore) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.entries[sessionID]
	return ok, nil
}

func (st *memoryRevocationStore) sweepLoop() {
	ticker := time.NewTicker(revocationSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.cleanup(time.Now())
		case <-st.stopCh:
			return
		}
	}
}

func (st *memoryRevocationStore) cleanup(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, until := range st.entries {
		if !until.IsZero() && now.After(until) {
			delete(st.entries, id)
		}
	}
}

func (st *memoryRevocationStore) Close() {
	st.once.Do(func() {
		close(st.stopCh)
	})
}

type redisRevocationStore struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRevocationStore constructs a Redis backed RevocationStore shared by
// every API replica.
func NewRedisRevocationStore(addr, password string, db int, logger *slog.Logger) (RevocationStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRevocationStore{
		client:  client,
		logger:  logger,
		prefix:  "dealership:session:revoked:",
		timeout: 250 * time.Millisecond,
	}, nil
}

func (st *redisRevocationStore) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	if sessionID == "" {
		return nil
	}
	ttl := time.Until(until)
	if until.IsZero() {
		ttl = 0
	} else if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	return st.client.Set(ctx, st.prefix+sessionID, "1", ttl).Err()
}

func (st *redisRevocationStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()
	n, err := st.client.Exists(ctx, st.prefix+sessionID).Result()
	if err != nil {
		st.logger.Error("redis revocation lookup failed", "error", err)
		return false, err
	}
	return n > 0, nil
}

func (st *redisRevocationStore) Close() {
	if st.client != nil {
		_ = st.client.Close()
	}
}
