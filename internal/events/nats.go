package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ruscet/vault-engine/internal/model"
)

// SubjectPrefix is prepended to the event type to form the NATS subject,
// e.g. vault.events.liquidate_position.
const SubjectPrefix = "vault.events."

// Subject returns the subject an event is published on.
func Subject(e model.Event) string {
	return SubjectPrefix + e.Type
}

// NATSPublisher publishes each event as JSON on its own subject.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(events []model.Event) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		// Publish only buffers; delivery failures surface through the
		// connection's async error handler.
		if err := p.conn.Publish(Subject(e), data); err != nil {
			return fmt.Errorf("publish %s: %w", Subject(e), err)
		}
	}
	return nil
}

// Close drains buffered messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
