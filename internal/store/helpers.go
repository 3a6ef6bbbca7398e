package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garagedesk/notify/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime returns nil for a zero time. Used for nullable timestamp columns.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanMessageRecord scans a MessageRecord from sql.Rows.
func scanMessageRecord(rows *sql.Rows) (models.MessageRecord, error) {
	var rec models.MessageRecord
	var failureReason, providerResponse sql.NullString
	var lastRetryAt sql.NullTime
	err := rows.Scan(
		&rec.ID, &rec.Recipient, &rec.Channel, &rec.Kind, &rec.Content, &rec.Status,
		&rec.RetryCount, &lastRetryAt, &failureReason, &providerResponse,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan message record failed: %w", err)
	}
	rec.FailureReason = failureReason.String
	rec.ProviderResponse = providerResponse.String
	if lastRetryAt.Valid {
		rec.LastRetryAt = lastRetryAt.Time
	}
	return rec, nil
}

// buildUpdate assembles an UPDATE statement for the non-nil fields of a
// MessageUpdate. placeholder is "?" for SQLite; Postgres placeholders are
// numbered from it. Returns an empty query when there is nothing to set.
func buildUpdate(id string, update models.MessageUpdate, placeholder string) (string, []interface{}) {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		if placeholder == "?" {
			sets = append(sets, fmt.Sprintf("%s = ?", column))
		} else {
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
		}
		args = append(args, value)
	}

	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.RetryCount != nil {
		add("retry_count", *update.RetryCount)
	}
	if update.LastRetryAt != nil {
		add("last_retry_at", *update.LastRetryAt)
	}
	if update.FailureReason != nil {
		add("failure_reason", nilIfEmpty(*update.FailureReason))
	}
	if update.ProviderResponse != nil {
		add("provider_response", nilIfEmpty(*update.ProviderResponse))
	}
	if len(sets) == 0 {
		return "", nil
	}
	add("updated_at", time.Now().UTC())

	var where string
	if placeholder == "?" {
		where = "id = ?"
	} else {
		where = fmt.Sprintf("id = $%d", len(args)+1)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE message_records SET %s WHERE %s", strings.Join(sets, ", "), where)
	return query, args
}
