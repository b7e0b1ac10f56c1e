package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

const (
	// FixStream retains published fixes briefly so late live subscribers
	// and the WebSocket relay can catch up.
	FixStream = "FIXES"
	// FixSubjectPrefix is followed by the sanitised entity ID.
	FixSubjectPrefix = "pathkeeper.fix."
	// FixSubjectAll matches every entity.
	FixSubjectAll = FixSubjectPrefix + ">"
)

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// FixSubject returns the subject fixes of entityID are published on.
func FixSubject(entityID string) string {
	return FixSubjectPrefix + subjectReplacer.Replace(entityID)
}

// Publisher implements ports.FixPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStream(js); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	cfg := nats.StreamConfig{
		Name:      FixStream,
		Subjects:  []string{FixSubjectAll},
		Retention: nats.LimitsPolicy,
		MaxAge:    1 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// The stream may already exist; update it instead.
		if _, err := js.UpdateStream(&cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// PublishFix publishes an accepted fix on its entity subject.
func (p *Publisher) PublishFix(ctx context.Context, fix *domain.Fix) error {
	data, err := json.Marshal(fix)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(FixSubject(fix.EntityID), data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection for health checks.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
