// ABOUTME: Credential report persistence for the SQLite store
// ABOUTME: Counts users and passkeys per tenant and upserts daily snapshots

package store

import (
	"context"
	"fmt"
	"time"
)

// CountCredentials returns the number of distinct users and passkeys for a tenant.
func (s *SQLiteStore) CountCredentials(ctx context.Context, tenant string) (users, credentials int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id), COUNT(*) FROM credentials WHERE tenant = ?
	`, tenant).Scan(&users, &credentials)
	if err != nil {
		return 0, 0, fmt.Errorf("counting credentials: %w", err)
	}
	return users, credentials, nil
}

// UpsertCredentialReport writes the snapshot for (tenant, date), replacing an earlier one.
func (s *SQLiteStore) UpsertCredentialReport(ctx context.Context, r *CredentialReport) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_reports (tenant, date, users, credentials, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant, date) DO UPDATE SET
			users = excluded.users,
			credentials = excluded.credentials,
			updated_at = excluded.updated_at
	`, r.Tenant, r.Date, r.Users, r.Credentials, formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting credential report: %w", err)
	}
	return nil
}

// ListCredentialReports returns a tenant's reports, most recent date first.
func (s *SQLiteStore) ListCredentialReports(ctx context.Context, tenant string, limit int) ([]*CredentialReport, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, date, users, credentials, updated_at
		FROM credential_reports
		WHERE tenant = ?
		ORDER BY date DESC
		LIMIT ?
	`, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("querying credential reports: %w", err)
	}
	defer rows.Close()

	var reports []*CredentialReport
	for rows.Next() {
		var r CredentialReport
		var updatedAt string
		if err := rows.Scan(&r.Tenant, &r.Date, &r.Users, &r.Credentials, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning credential report: %w", err)
		}
		r.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		reports = append(reports, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential reports: %w", err)
	}
	return reports, nil
}
