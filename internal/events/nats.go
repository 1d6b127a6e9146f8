// Package events publishes settlement, liquidation and fee events to the
// audit stream. Subscribers (the WebSocket hub, external consumers) receive
// JSON payloads keyed by subject.
package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// subjectPrefix namespaces all pipeline events on the broker.
const subjectPrefix = "perpdex."

// NATSPublisher implements domain.EventPublisher over a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect dials the NATS server and returns a publisher.
func Connect(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends one event. The context is accepted for interface symmetry;
// NATS publishes are fire-and-forget buffered writes.
func (p *NATSPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	if err := p.conn.Publish(subjectPrefix+subject, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for a subject pattern, e.g. "settlement.*".
func (p *NATSPublisher) Subscribe(subject string, handler func(subject string, payload []byte)) (func(), error) {
	sub, err := p.conn.Subscribe(subjectPrefix+subject, func(msg *nats.Msg) {
		handler(msg.Subject[len(subjectPrefix):], msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

var _ domain.EventPublisher = (*NATSPublisher)(nil)
