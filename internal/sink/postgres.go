package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// PostgresConfig holds PostgreSQL connection configuration for the sink.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPostgresConfig returns a PostgresConfig with sensible pool defaults.
func DefaultPostgresConfig(dsn, table string) *PostgresConfig {
	return &PostgresConfig{
		DSN:             dsn,
		Table:           table,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// PostgresSink inserts each line as a row.
type PostgresSink struct {
	db     *sql.DB
	table  string
	insert string
	logger *slog.Logger
}

// NewPostgresSink opens the database, verifies the connection and creates
// the table if it does not exist.
func NewPostgresSink(ctx context.Context, cfg *PostgresConfig, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := newPostgresSink(db, cfg.Table, logger)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func newPostgresSink(db *sql.DB, table string, logger *slog.Logger) *PostgresSink {
	quoted := quoteTable(table)
	return &PostgresSink{
		db:     db,
		table:  quoted,
		insert: fmt.Sprintf(`INSERT INTO %s (id, line, logged_at) VALUES ($1, $2, $3)`, quoted),
		logger: logger,
	}
}

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			line TEXT NOT NULL,
			logged_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// Name returns "postgres".
func (s *PostgresSink) Name() string {
	return "postgres"
}

// Append inserts line, without its trailing newline, as a new row.
func (s *PostgresSink) Append(ctx context.Context, line []byte) error {
	text := strings.TrimSuffix(string(line), "\n")
	if _, err := s.db.ExecContext(ctx, s.insert, uuid.New(), text, time.Now().UTC()); err != nil {
		return fmt.Errorf("inserting log line: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
