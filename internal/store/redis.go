package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruscet/vault-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for pools and positions. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) ApplyChangeSet(ctx context.Context, cs *model.ChangeSet) error {
	if err := s.primary.ApplyChangeSet(ctx, cs); err != nil {
		return err
	}
	if cs == nil {
		return nil
	}

	var keys []string
	for _, p := range cs.Pools {
		keys = append(keys, poolKey(p.Asset))
	}
	seen := make(map[string]bool)
	for _, p := range cs.Positions {
		keys = append(keys, positionKey(p.Key))
		if !seen[p.Key.Account] {
			seen[p.Key.Account] = true
			keys = append(keys, positionsKey(p.Key.Account))
		}
	}
	if len(keys) > 0 {
		// A failed invalidation leaves stale entries until the TTL expires.
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) InsertEvents(ctx context.Context, events []model.Event) error {
	return s.primary.InsertEvents(ctx, events)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, asset string) (*model.PoolState, error) {
	var p model.PoolState
	if s.load(ctx, poolKey(asset), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	pool, err := s.primary.GetPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	s.save(ctx, poolKey(asset), pool)
	return pool, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	var p model.Position
	if s.load(ctx, positionKey(key), &p) {
		return &p, nil
	}

	pos, err := s.primary.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	s.save(ctx, positionKey(key), pos)
	return pos, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, account string) ([]model.Position, error) {
	var positions []model.Position
	if s.load(ctx, positionsKey(account), &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx, account)
	if err != nil {
		return nil, err
	}
	s.save(ctx, positionsKey(account), positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	return s.primary.LoadSnapshot(ctx)
}

func (s *CachedStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, filter)
}

// --- Cache helpers ---

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) save(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func poolKey(asset string) string            { return fmt.Sprintf("vault:pool:%s", asset) }
func positionKey(k model.PositionKey) string { return fmt.Sprintf("vault:position:%s", k) }
func positionsKey(account string) string     { return fmt.Sprintf("vault:positions:%s", account) }
