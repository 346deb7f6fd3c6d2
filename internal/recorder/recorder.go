// Package recorder turns submitted form fields into appended log lines.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/formlog/internal/form"
	"github.com/narvanalabs/formlog/internal/models"
	"github.com/narvanalabs/formlog/internal/sink"
)

// Publisher receives each appended line, without its trailing newline.
type Publisher interface {
	Publish(line string)
}

// Recorder builds a LogLine per submission and appends it to a sink.
type Recorder struct {
	sink      sink.Sink
	encoder   models.Encoder
	now       func() time.Time
	publisher Publisher
	logger    *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the time source. Timestamps use the returned time's location.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithEncoder sets the line encoder.
func WithEncoder(enc models.Encoder) Option {
	return func(r *Recorder) {
		r.encoder = enc
	}
}

// WithPublisher sets where appended lines are announced.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) {
		r.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// New creates a Recorder that appends to s.
func New(s sink.Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:   s,
		now:    time.Now,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Record appends one line for fields. With no fields nothing is written and
// recorded is false. A sink failure is returned with recorded still true:
// the line was built and an append was attempted.
func (r *Recorder) Record(ctx context.Context, fields []form.Field) (line *models.LogLine, recorded bool, err error) {
	if len(fields) == 0 {
		return nil, false, nil
	}

	line = models.NewLogLine(r.now(), form.Values(fields))
	encoded := r.encoder.Encode(line)

	if err := r.sink.Append(ctx, encoded); err != nil {
		return line, true, fmt.Errorf("appending to %s sink: %w", r.sink.Name(), err)
	}

	r.logger.Debug("line appended",
		"sink", r.sink.Name(),
		"fields", len(fields),
		"bytes", len(encoded),
	)

	if r.publisher != nil {
		r.publisher.Publish(string(encoded[:len(encoded)-1]))
	}

	return line, true, nil
}
