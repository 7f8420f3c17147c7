// Package events fans committed vault events out to subscribers.
package events

import (
	"errors"

	"github.com/ruscet/vault-engine/internal/model"
)

// Publisher delivers committed events. Implementations must not block the
// engine for long; they run while the engine lock is held.
type Publisher interface {
	Publish(events []model.Event) error
}

// Fanout delivers to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(events []model.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []model.Event
}

func (r *Recorder) Publish(events []model.Event) error {
	r.Events = append(r.Events, events...)
	return nil
}
