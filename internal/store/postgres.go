// Package store provides delivery audit-log backends for the notification engine.
//
// This file implements the PostgreSQL-backed audit repository.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/garagedesk/notify/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed AuditRepo.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the message_records table exists
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// LogMessage inserts a new message record.
func (s *PostgresStore) LogMessage(rec models.MessageRecord) (models.MessageRecord, error) {
	rec = prepareRecord(rec)
	_, err := s.db.Exec(`
		INSERT INTO message_records
			(id, recipient, channel, kind, content, status, retry_count, last_retry_at, failure_reason, provider_response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Recipient, rec.Channel, rec.Kind, rec.Content, rec.Status, rec.RetryCount,
		nullableTime(rec.LastRetryAt), nilIfEmpty(rec.FailureReason), nilIfEmpty(rec.ProviderResponse),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore LogMessage failed", "error", err, "recipient", rec.Recipient)
		return models.MessageRecord{}, fmt.Errorf("failed to insert message record for %s: %w", rec.Recipient, err)
	}
	slog.Debug("PostgresStore LogMessage succeeded", "id", rec.ID, "recipient", rec.Recipient, "status", rec.Status)
	return rec, nil
}

// UpdateMessage applies a partial update to an existing record.
func (s *PostgresStore) UpdateMessage(id string, update models.MessageUpdate) error {
	query, args := buildUpdate(id, update, "$")
	if query == "" {
		return nil
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		slog.Error("PostgresStore UpdateMessage failed", "error", err, "id", id)
		return fmt.Errorf("failed to update message record %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMessageNotFound
	}
	slog.Debug("PostgresStore UpdateMessage succeeded", "id", id)
	return nil
}

// GetMessageHistory returns the most recent records for a recipient, newest first.
func (s *PostgresStore) GetMessageHistory(recipient string, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.Query(`
		SELECT id, recipient, channel, kind, content, status, retry_count, last_retry_at, failure_reason, provider_response, created_at, updated_at
		FROM message_records WHERE recipient = $1 ORDER BY created_at DESC LIMIT $2`, recipient, limit)
	if err != nil {
		slog.Error("PostgresStore GetMessageHistory query failed", "error", err, "recipient", recipient)
		return nil, fmt.Errorf("failed to query message history: %w", err)
	}
	defer rows.Close()

	var records []models.MessageRecord
	for rows.Next() {
		rec, err := scanMessageRecord(rows)
		if err != nil {
			slog.Error("PostgresStore GetMessageHistory scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetMessageHistory rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message records: %w", err)
	}
	return records, nil
}

// ClearMessages deletes all message records (for tests).
func (s *PostgresStore) ClearMessages() error {
	_, err := s.db.Exec("DELETE FROM message_records")
	if err != nil {
		slog.Error("PostgresStore ClearMessages failed", "error", err)
		return err
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
