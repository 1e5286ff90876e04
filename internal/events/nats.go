package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/atmx/futurebureau/internal/metrics"
)

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each envelope as JSON on {subject}.{event type},
// e.g. futurebureau.events.market.bet.
type NATSPublisher struct {
	conn    natsConn
	subject string
	nc      *nats.Conn
}

// DialNATS connects to url and returns a publisher rooted at subject.
func DialNATS(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("futurebureau"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	p := NewNATSPublisher(nc, subject)
	p.nc = nc
	return p, nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.subject + "." + eventType
}

func (p *NATSPublisher) Publish(_ context.Context, envs []Envelope) error {
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := p.conn.Publish(p.Subject(env.Type), data); err != nil {
			metrics.EventsPublished.WithLabelValues(env.Type, "error").Inc()
			return fmt.Errorf("publish %s: %w", env.Type, err)
		}
		metrics.EventsPublished.WithLabelValues(env.Type, "ok").Inc()
	}
	return nil
}

// Close drains the connection opened by DialNATS.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
