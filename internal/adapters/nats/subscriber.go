package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// Subscriber implements ports.LiveFeed using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js, subs: make(map[*nats.Subscription]struct{})}, nil
}

// SubscribeEntity delivers fixes published for entityID from now on.
// The subscription is ephemeral and ends when cancel is called.
func (s *Subscriber) SubscribeEntity(ctx context.Context, entityID string, handler func(ctx context.Context, fix domain.Fix)) (func(), error) {
	sub, err := s.js.Subscribe(FixSubject(entityID), func(msg *nats.Msg) {
		var fix domain.Fix
		if err := json.Unmarshal(msg.Data, &fix); err != nil {
			slog.Warn("undecodable live fix", "subject", msg.Subject, "error", err)
			return
		}
		if fix.EntityID != entityID {
			return
		}
		handler(ctx, fix)
	},
		nats.DeliverNew(),
		nats.AckNone(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", entityID, err)
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			_ = sub.Unsubscribe()
		})
	}, nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	s.mu.Lock()
	for sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = map[*nats.Subscription]struct{}{}
	s.mu.Unlock()
	_ = s.conn.Drain()
}
