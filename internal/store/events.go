// ABOUTME: Audit event store for authentication outcomes and administrative actions
// ABOUTME: Batch append in a single transaction plus filtered, cursor-paginated listing

package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType categorizes an audit event
type EventType string

const (
	EventApiAuthFailed           EventType = "api_auth_failed"
	EventRegisterTokenCreated    EventType = "register_token_created"
	EventSignInTokenCreated      EventType = "sign_in_token_created"
	EventRegisterCompleted       EventType = "register_completed"
	EventRegisterFailed          EventType = "register_failed"
	EventSignInSucceeded         EventType = "sign_in_succeeded"
	EventSignInFailed            EventType = "sign_in_failed"
	EventSignInTokenVerified     EventType = "sign_in_token_verified"
	EventTokenVerificationFailed EventType = "token_verification_failed"
	EventStepUpVerified          EventType = "step_up_verified"
	EventApiKeyCreated           EventType = "api_key_created"
	EventApiKeyLocked            EventType = "api_key_locked"
	EventApiKeyUnlocked          EventType = "api_key_unlocked"
	EventApiKeyScopesAdded       EventType = "api_key_scopes_added"
	EventSigningKeyRotated       EventType = "signing_key_rotated"
	EventSigningKeysPurged       EventType = "signing_keys_purged"
	EventCredentialReport        EventType = "credential_report"
	EventTenantCreated           EventType = "tenant_created"
	EventFeatureFlagsUpdated     EventType = "feature_flags_updated"
)

// Severity of an audit event
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is an append-only audit record.
type Event struct {
	ID             string
	PerformedAt    time.Time
	EventType      EventType
	Message        string
	Severity       Severity
	PerformedBy    string // user ID, "api-key", "admin" or "system"
	Subject        string // what the event is about, e.g. a user or key ID
	Tenant         string
	AbbreviatedKey string
}

// ErrInvalidCursor is returned when a pagination cursor cannot be decoded
var ErrInvalidCursor = errors.New("invalid cursor")

// EventFilter narrows ListEvents.
type EventFilter struct {
	Tenant    string
	EventType EventType
	Since     *time.Time
	Until     *time.Time
	Limit     int    // 1-500, defaults to 50
	Cursor    string // opaque cursor from a previous page
}

// AppendEvents writes all events in one transaction.
// An empty slice is a no-op.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, performed_at, event_type, message, severity, performed_by, subject, tenant, abbreviated_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID,
			formatTime(e.PerformedAt),
			string(e.EventType),
			e.Message,
			string(e.Severity),
			e.PerformedBy,
			e.Subject,
			e.Tenant,
			e.AbbreviatedKey,
		); err != nil {
			return fmt.Errorf("inserting event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing events: %w", err)
	}

	s.logger.Debug("appended events", "count", len(events))
	return nil
}

// encodeCursor creates an opaque cursor string from a timestamp and event ID.
func encodeCursor(ts time.Time, id string) string {
	data := formatTime(ts) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(data))
}

// decodeCursor parses an opaque cursor string into a timestamp and event ID.
func decodeCursor(cursor string) (string, string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad encoding: %v", ErrInvalidCursor, err)
	}

	ts, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return "", "", fmt.Errorf("%w: expected timestamp|event_id", ErrInvalidCursor)
	}
	if _, err := parseTime(ts); err != nil {
		return "", "", fmt.Errorf("%w: bad timestamp: %v", ErrInvalidCursor, err)
	}
	return ts, id, nil
}

// EventPage is one page of ListEvents results.
type EventPage struct {
	Events     []*Event
	NextCursor string // empty when there are no more events
}

// ListEvents returns events newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	page, err := s.ListEventsPage(ctx, f)
	if err != nil {
		return nil, err
	}
	return page.Events, nil
}

// ListEventsPage returns events newest first with a cursor for the next page.
func (s *SQLiteStore) ListEventsPage(ctx context.Context, f EventFilter) (*EventPage, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	var args []any
	query := `
		SELECT id, performed_at, event_type, message, severity, performed_by, subject, tenant, abbreviated_key
		FROM events
		WHERE 1 = 1
	`

	if f.Tenant != "" {
		query += ` AND tenant = ?`
		args = append(args, f.Tenant)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(f.EventType))
	}
	if f.Since != nil {
		query += ` AND performed_at >= ?`
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		query += ` AND performed_at <= ?`
		args = append(args, formatTime(*f.Until))
	}
	if f.Cursor != "" {
		ts, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (performed_at < ? OR (performed_at = ? AND id < ?))`
		args = append(args, ts, ts, id)
	}

	// Fetch limit+1 to detect if there are more results
	query += ` ORDER BY performed_at DESC, id DESC LIMIT ?`
	args = append(args, f.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var performedAt, eventType, severity string
		if err := rows.Scan(
			&e.ID,
			&performedAt,
			&eventType,
			&e.Message,
			&severity,
			&e.PerformedBy,
			&e.Subject,
			&e.Tenant,
			&e.AbbreviatedKey,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Severity = Severity(severity)
		e.PerformedAt, err = parseTime(performedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing performed_at: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	page := &EventPage{Events: events}
	if len(events) > f.Limit {
		page.Events = events[:f.Limit]
		last := page.Events[len(page.Events)-1]
		page.NextCursor = encodeCursor(last.PerformedAt, last.ID)
	}
	return page, nil
}
