// Package store defines the persistence interface for the vault engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ruscet/vault-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Account string
	Type    string
	Limit   int
}

func (f EventFilter) match(e model.Event) bool {
	if f.Account != "" && e.Account != f.Account {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Vault state ---

	// ApplyChangeSet upserts every record of one committed operation
	// atomically.
	ApplyChangeSet(ctx context.Context, cs *model.ChangeSet) error

	// LoadSnapshot returns every persisted record, used to restore an
	// engine at start-up.
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)

	// GetPool retrieves the ledger row of one asset.
	GetPool(ctx context.Context, asset string) (*model.PoolState, error)

	// GetPosition retrieves one position by key.
	GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error)

	// ListPositions returns the open positions of an account.
	ListPositions(ctx context.Context, account string) ([]model.Position, error)

	// --- Immutable journal ---

	// InsertEvents appends event records.
	InsertEvents(ctx context.Context, events []model.Event) error

	// ListEvents returns events oldest first; with a Limit, the most
	// recent Limit events.
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)
}
