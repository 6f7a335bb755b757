package connect

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// ErrApprovalsCacheMiss is returned when no snapshot has been stored
var ErrApprovalsCacheMiss = goerrors.New("approvals snapshot not cached", goerrors.CategoryNotFound).
	WithTextCode("APPROVALS_CACHE_MISS").
	WithCode(goerrors.CodeNotFound)

// ApprovalCache keeps the last good approval snapshot, possibly shared between instances
type ApprovalCache interface {
	Load(ctx context.Context) ([]Approval, error)
	Store(ctx context.Context, approvals []Approval) error
}

// MemoryApprovalCache is the process local cache
type MemoryApprovalCache struct {
	mu        sync.RWMutex
	approvals []Approval
	ok        bool
}

func NewMemoryApprovalCache() *MemoryApprovalCache {
	return &MemoryApprovalCache{}
}

func (c *MemoryApprovalCache) Load(context.Context) ([]Approval, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ok {
		return nil, ErrApprovalsCacheMiss
	}
	return slices.Clone(c.approvals), nil
}

func (c *MemoryApprovalCache) Store(_ context.Context, approvals []Approval) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals = slices.Clone(approvals)
	c.ok = true
	return nil
}

// RedisApprovalCache stores the snapshot as JSON under a single key
type RedisApprovalCache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisApprovalCache returns a cache on client; ttl of zero keeps the key forever
func NewRedisApprovalCache(client redis.UniversalClient, key string, ttl time.Duration) *RedisApprovalCache {
	if key == "" {
		key = "connect:user-approvals"
	}
	return &RedisApprovalCache{client: client, key: key, ttl: ttl}
}

func (c *RedisApprovalCache) Load(ctx context.Context) ([]Approval, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return nil, ErrApprovalsCacheMiss
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read approvals snapshot")
	}

	approvals := []Approval{}
	if err := json.Unmarshal([]byte(raw), &approvals); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode approvals snapshot")
	}
	return approvals, nil
}

func (c *RedisApprovalCache) Store(ctx context.Context, approvals []Approval) error {
	payload, err := json.Marshal(approvals)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode approvals snapshot")
	}
	if err := c.client.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to write approvals snapshot")
	}
	return nil
}
