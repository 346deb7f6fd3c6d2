// Package sink provides the append-only destinations for recorded lines.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/narvanalabs/formlog/pkg/config"
)

// Sink receives encoded lines. Lines are only ever appended.
type Sink interface {
	// Name identifies the sink in logs and health output.
	Name() string
	// Append writes one encoded line, including its trailing newline.
	Append(ctx context.Context, line []byte) error
	// Ping reports whether the sink is reachable.
	Ping(ctx context.Context) error
	// Close releases resources held by the sink.
	Close() error
}

// Multi appends every line to each child sink in order.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a sink that fans out to sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Name returns the child names joined with '+'.
func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Append writes line to every child. A failing child does not stop the others.
func (m *Multi) Append(ctx context.Context, line []byte) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, line); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Ping pings every child.
func (m *Multi) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every child.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// New builds the sinks named in cfg.Sinks. A single sink is returned as-is.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var built []Sink
	closeBuilt := func() {
		for _, s := range built {
			_ = s.Close()
		}
	}

	for _, name := range cfg.Sinks {
		var (
			s   Sink
			err error
		)
		switch name {
		case config.SinkFile:
			s = NewFileSink(cfg.LogPath)
		case config.SinkRedis:
			s, err = NewRedisSink(ctx, &RedisConfig{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				Key:      cfg.Redis.Key,
			}, logger)
		case config.SinkPostgres:
			s, err = NewPostgresSink(ctx, DefaultPostgresConfig(cfg.Postgres.DSN, cfg.Postgres.Table), logger)
		case config.SinkNATS:
			s, err = NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject, logger)
		default:
			err = fmt.Errorf("%w: %q", config.ErrUnknownSink, name)
		}
		if err != nil {
			closeBuilt()
			return nil, fmt.Errorf("creating %s sink: %w", name, err)
		}
		logger.Info("sink configured", "sink", s.Name())
		built = append(built, s)
	}

	if len(built) == 1 {
		return built[0], nil
	}
	return NewMulti(built...), nil
}
