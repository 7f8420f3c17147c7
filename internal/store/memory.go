package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ruscet/vault-engine/internal/model"
)

type balanceKey struct {
	token   string
	account string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	assets    map[string]model.AssetConfig
	pools     map[string]model.PoolState
	positions map[model.PositionKey]model.Position
	funding   map[string]model.FundingInfo
	shorts    map[string]model.GlobalShortState
	balances  map[balanceKey]model.TokenBalance
	settings  *model.Settings
	events    []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:    make(map[string]model.AssetConfig),
		pools:     make(map[string]model.PoolState),
		positions: make(map[model.PositionKey]model.Position),
		funding:   make(map[string]model.FundingInfo),
		shorts:    make(map[string]model.GlobalShortState),
		balances:  make(map[balanceKey]model.TokenBalance),
	}
}

func (s *MemoryStore) ApplyChangeSet(_ context.Context, cs *model.ChangeSet) error {
	if cs == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range cs.Assets {
		s.assets[a.Asset] = a
	}
	for _, p := range cs.Pools {
		s.pools[p.Asset] = p
	}
	for _, p := range cs.Positions {
		s.positions[p.Key] = p
	}
	for _, f := range cs.Funding {
		s.funding[f.Asset] = f
	}
	for _, g := range cs.Shorts {
		s.shorts[g.Asset] = g
	}
	for _, b := range cs.Balances {
		s.balances[balanceKey{b.Token, b.Account}] = b
	}
	if cs.Settings != nil {
		settings := cs.Settings.Clone()
		s.settings = &settings
	}
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &model.Snapshot{}
	for _, a := range s.assets {
		snap.Assets = append(snap.Assets, a)
	}
	for _, p := range s.pools {
		snap.Pools = append(snap.Pools, p)
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, p)
	}
	for _, f := range s.funding {
		snap.Funding = append(snap.Funding, f)
	}
	for _, g := range s.shorts {
		snap.Shorts = append(snap.Shorts, g)
	}
	for _, b := range s.balances {
		snap.Balances = append(snap.Balances, b)
	}
	if s.settings != nil {
		settings := s.settings.Clone()
		snap.Settings = &settings
	}
	sortSnapshot(snap)
	return snap, nil
}

func (s *MemoryStore) GetPool(_ context.Context, asset string) (*model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[asset]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", asset, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, key model.PositionKey) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, account string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for k, p := range s.positions {
		if k.Account == account && !p.IsEmpty() {
			result = append(result, p)
		}
	}
	sortPositions(result)
	return result, nil
}

func (s *MemoryStore) InsertEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if filter.match(e) {
			result = append(result, e)
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func sortPositions(ps []model.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Key.String() < ps[j].Key.String() })
}

// sortSnapshot orders every slice by key so snapshots compare stably.
func sortSnapshot(snap *model.Snapshot) {
	sort.Slice(snap.Assets, func(i, j int) bool { return snap.Assets[i].Asset < snap.Assets[j].Asset })
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].Asset < snap.Pools[j].Asset })
	sortPositions(snap.Positions)
	sort.Slice(snap.Funding, func(i, j int) bool { return snap.Funding[i].Asset < snap.Funding[j].Asset })
	sort.Slice(snap.Shorts, func(i, j int) bool { return snap.Shorts[i].Asset < snap.Shorts[j].Asset })
	sort.Slice(snap.Balances, func(i, j int) bool {
		a, b := snap.Balances[i], snap.Balances[j]
		if a.Token != b.Token {
			return a.Token < b.Token
		}
		return a.Account < b.Account
	})
}
