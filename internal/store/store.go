// Package store provides delivery audit-log backends for the notification
// engine.
//
// It includes an in-memory store for tests plus SQLite and PostgreSQL
// implementations for persistent message records.
package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garagedesk/notify/internal/models"
)

// ErrMessageNotFound is returned when updating a record that does not exist.
var ErrMessageNotFound = errors.New("message record not found")

// AuditRepo records each delivery attempt's outcome. Records are created
// when a send is initiated and updated exactly once on completion; the
// engine never deletes them.
type AuditRepo interface {
	// LogMessage persists a new message record. A missing ID or CreatedAt
	// is filled in; the stored record is returned.
	LogMessage(rec models.MessageRecord) (models.MessageRecord, error)

	// UpdateMessage applies a partial update to an existing record.
	UpdateMessage(id string, update models.MessageUpdate) error

	// GetMessageHistory returns the most recent records for a recipient,
	// newest first, capped at limit (0 means a default cap).
	GetMessageHistory(recipient string, limit int) ([]models.MessageRecord, error)
}

// DefaultHistoryLimit caps GetMessageHistory when no limit is given.
const DefaultHistoryLimit = 50

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-looking connection strings
// and "sqlite3" otherwise (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// prepareRecord fills generated fields on a new message record.
func prepareRecord(rec models.MessageRecord) models.MessageRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = models.MessageStatusPending
	}
	return rec
}

// InMemoryStore is a mutex-guarded in-memory AuditRepo for tests and
// storage-less operation.
type InMemoryStore struct {
	mu      sync.Mutex
	records []models.MessageRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// LogMessage appends a record.
func (s *InMemoryStore) LogMessage(rec models.MessageRecord) (models.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec = prepareRecord(rec)
	s.records = append(s.records, rec)
	return rec, nil
}

// UpdateMessage applies a partial update to the record with the given ID.
func (s *InMemoryStore) UpdateMessage(id string, update models.MessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID != id {
			continue
		}
		applyUpdate(&s.records[i], update)
		return nil
	}
	return ErrMessageNotFound
}

// GetMessageHistory returns records for a recipient, newest first.
func (s *InMemoryStore) GetMessageHistory(recipient string, limit int) ([]models.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var out []models.MessageRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].Recipient == recipient {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func applyUpdate(rec *models.MessageRecord, update models.MessageUpdate) {
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.RetryCount != nil {
		rec.RetryCount = *update.RetryCount
	}
	if update.LastRetryAt != nil {
		rec.LastRetryAt = *update.LastRetryAt
	}
	if update.FailureReason != nil {
		rec.FailureReason = *update.FailureReason
	}
	if update.ProviderResponse != nil {
		rec.ProviderResponse = *update.ProviderResponse
	}
	rec.UpdatedAt = time.Now().UTC()
}
