// Package store provides delivery audit-log backends for the notification engine.
//
// This file implements the SQLite-backed audit repository.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/garagedesk/notify/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a SQLite-backed AuditRepo.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// LogMessage inserts a new message record.
func (s *SQLiteStore) LogMessage(rec models.MessageRecord) (models.MessageRecord, error) {
	rec = prepareRecord(rec)
	_, err := s.db.Exec(`
		INSERT INTO message_records
			(id, recipient, channel, kind, content, status, retry_count, last_retry_at, failure_reason, provider_response, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Recipient, rec.Channel, rec.Kind, rec.Content, rec.Status, rec.RetryCount,
		nullableTime(rec.LastRetryAt), nilIfEmpty(rec.FailureReason), nilIfEmpty(rec.ProviderResponse),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore LogMessage failed", "error", err, "recipient", rec.Recipient)
		return models.MessageRecord{}, fmt.Errorf("failed to insert message record for %s: %w", rec.Recipient, err)
	}
	slog.Debug("SQLiteStore LogMessage succeeded", "id", rec.ID, "recipient", rec.Recipient, "status", rec.Status)
	return rec, nil
}

// UpdateMessage applies a partial update to an existing record.
func (s *SQLiteStore) UpdateMessage(id string, update models.MessageUpdate) error {
	query, args := buildUpdate(id, update, "?")
	if query == "" {
		return nil
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		slog.Error("SQLiteStore UpdateMessage failed", "error", err, "id", id)
		return fmt.Errorf("failed to update message record %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMessageNotFound
	}
	slog.Debug("SQLiteStore UpdateMessage succeeded", "id", id)
	return nil
}

// GetMessageHistory returns the most recent records for a recipient, newest first.
func (s *SQLiteStore) GetMessageHistory(recipient string, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.Query(`
		SELECT id, recipient, channel, kind, content, status, retry_count, last_retry_at, failure_reason, provider_response, created_at, updated_at
		FROM message_records WHERE recipient = ? ORDER BY created_at DESC LIMIT ?`, recipient, limit)
	if err != nil {
		slog.Error("SQLiteStore GetMessageHistory query failed", "error", err, "recipient", recipient)
		return nil, fmt.Errorf("failed to query message history: %w", err)
	}
	defer rows.Close()

	var records []models.MessageRecord
	for rows.Next() {
		rec, err := scanMessageRecord(rows)
		if err != nil {
			slog.Error("SQLiteStore GetMessageHistory scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetMessageHistory rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message records: %w", err)
	}
	slog.Debug("SQLiteStore GetMessageHistory succeeded", "recipient", recipient, "count", len(records))
	return records, nil
}

// ClearMessages deletes all message records (for tests).
func (s *SQLiteStore) ClearMessages() error {
	_, err := s.db.Exec("DELETE FROM message_records")
	if err != nil {
		slog.Error("SQLiteStore ClearMessages failed", "error", err)
		return err
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
