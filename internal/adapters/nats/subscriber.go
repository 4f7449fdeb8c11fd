package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	durable string
	subs    []*nats.Subscription
}

// NewSubscriber creates a subscriber whose consumers are named after durable.
func NewSubscriber(url, durable string) (*Subscriber, error) {
	conn, err := Connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js, durable: durable}, nil
}

// SubscribePresence delivers presence events to handler. Failed handler
// calls are redelivered up to three times; malformed events are dropped.
func (s *Subscriber) SubscribePresence(ctx context.Context, handler func(ctx context.Context, userID string, state domain.ViewerPresence) error) error {
	sub, err := s.js.Subscribe(presenceSubjectPrefix+">", func(msg *nats.Msg) {
		var event PresenceEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			_ = msg.Term()
			return
		}
		if err := handler(ctx, event.UserID, event.State); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(s.durable+"-presence"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
		nats.DeliverNew(),
	)
	if err != nil {
		return fmt.Errorf("subscribe presence: %w", err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
