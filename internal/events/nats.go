package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "audiobook.events"

// ErrNATSURLRequired is returned when no server URL is configured.
var ErrNATSURLRequired = errors.New("events: NATS URL is required")

// NATSSink publishes events as JSON to "<prefix>.<type>".
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *slog.Logger
}

// ConnectNATS dials url and returns a sink owning the connection.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	if url == "" {
		return nil, ErrNATSURLRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("audiobook-builder"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to NATS", slog.String("url", conn.ConnectedUrl()))

	s := NewNATSSink(conn, prefix, logger)
	s.owned = true
	return s, nil
}

// NewNATSSink wraps an existing connection. The caller keeps ownership of conn.
func NewNATSSink(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t Type) string {
	return s.prefix + "." + string(t)
}

// Publish sends e without waiting for delivery.
func (s *NATSSink) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Publish(s.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close drains the connection if the sink created it.
func (s *NATSSink) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	s.logger.Info("closing NATS connection")
	return s.conn.Drain()
}

var _ Sink = (*NATSSink)(nil)
