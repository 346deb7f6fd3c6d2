package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes each line to a subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSSink connects to the server at url.
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("formlog"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from nats", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to nats", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	logger.Info("connected to nats", "url", url, "subject", subject)

	return &NATSSink{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Name returns "nats".
func (s *NATSSink) Name() string {
	return "nats"
}

// Append publishes line, without its trailing newline.
func (s *NATSSink) Append(ctx context.Context, line []byte) error {
	if err := s.conn.Publish(s.subject, bytes.TrimSuffix(line, []byte("\n"))); err != nil {
		return fmt.Errorf("publishing line to %s: %w", s.subject, err)
	}
	return nil
}

// Ping round-trips to the server.
func (s *NATSSink) Ping(ctx context.Context) error {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return s.conn.FlushTimeout(timeout)
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
