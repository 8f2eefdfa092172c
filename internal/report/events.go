package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// EventSink publishes every record as JSON on
// <prefix>.<status>.<variant id>.
type EventSink struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
}

// NewEventSink connects to NATS.
func NewEventSink(url, prefix string) (*EventSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("imgpub"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS event sink connected", "url", url, "subject_prefix", prefix)
	return &EventSink{conn: conn, pub: conn, prefix: prefix}, nil
}

func (e *EventSink) Name() string { return "events" }

// Subject returns the subject a record is published on.
func (e *EventSink) Subject(r Record) string {
	prefix := strings.Trim(e.prefix, ".")
	if prefix == "" {
		prefix = "imgpub.outcomes"
	}
	// '.' separates subject tokens
	return prefix + "." + r.Status + "." + strings.ReplaceAll(r.VariantID, ".", "_")
}

func (e *EventSink) Write(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := e.pub.Publish(e.Subject(r), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (e *EventSink) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Drain()
}
