package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruscet/vault-engine/internal/metrics"
	"github.com/ruscet/vault-engine/internal/model"
	"github.com/ruscet/vault-engine/internal/store"
)

// Journal persists every committed operation to the store, then hands its
// events to the publisher. A store failure is returned; a publish failure
// is only logged since the store already holds the events.
type Journal struct {
	store   store.Store
	pub     Publisher
	timeout time.Duration
	log     *slog.Logger
}

// NewJournal creates a journal. pub may be nil.
func NewJournal(st store.Store, pub Publisher, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{store: st, pub: pub, timeout: 5 * time.Second, log: log}
}

func (j *Journal) Record(op string, changes *model.ChangeSet, events []model.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.store.ApplyChangeSet(ctx, changes); err != nil {
		return fmt.Errorf("persist %s: %w", op, err)
	}
	if err := j.store.InsertEvents(ctx, events); err != nil {
		return fmt.Errorf("journal %s events: %w", op, err)
	}
	metrics.ObserveChangeSet(changes, events)

	if j.pub != nil && len(events) > 0 {
		if err := j.pub.Publish(events); err != nil {
			j.log.Warn("event publish failed", "op", op, "events", len(events), "err", err)
		}
	}
	return nil
}
