package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/tandemap/internal/core/domain"
	"github.com/samirrijal/tandemap/internal/pkg/metrics"
)

const presenceSubjectPrefix = "presence."

// PresenceEvent is the wire form of a presence change.
type PresenceEvent struct {
	UserID string                `json:"user_id"`
	State  domain.ViewerPresence `json:"state"`
	SentAt time.Time             `json:"sent_at"`
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the presence stream exists.
func NewPublisher(url, stream string) (*Publisher, error) {
	conn, err := Connect(url)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{presenceSubjectPrefix + ">"},
		Retention: nats.InterestPolicy,
		MaxAge:    2 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(cfg); err != nil {
		// already exists, bring it up to date
		if _, err := js.UpdateStream(cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishPresence announces a committed or cleared broadcast of userID.
func (p *Publisher) PublishPresence(ctx context.Context, userID string, state domain.ViewerPresence) error {
	data, err := json.Marshal(PresenceEvent{UserID: userID, State: state, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(presenceSubjectPrefix+userID, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish presence %s: %w", userID, err)
	}
	metrics.PresenceEventsPublished.Inc()
	return nil
}

// Ping reports whether the connection is up.
func (p *Publisher) Ping() error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats: %s", p.conn.Status())
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}
