// ABOUTME: Tenant persistence for the SQLite store
// ABOUTME: Creates tenants and reads or updates their feature flags

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTenant inserts a new tenant.
// Returns ErrDuplicateTenant if the name is taken.
func (s *SQLiteStore) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (name, created_at, event_logging, allow_attestation, generate_sign_in_token)
		VALUES (?, ?, ?, ?, ?)
	`,
		t.Name,
		formatTime(t.CreatedAt),
		boolToInt(t.Features.EventLogging),
		boolToInt(t.Features.AllowAttestation),
		boolToInt(t.Features.GenerateSignInToken),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateTenant
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}

	s.logger.Debug("created tenant", "tenant", t.Name)
	return nil
}

const tenantColumns = `name, created_at, event_logging, allow_attestation, generate_sign_in_token`

func scanTenant(scanner interface{ Scan(dest ...any) error }) (*Tenant, error) {
	var t Tenant
	var createdAt string
	if err := scanner.Scan(
		&t.Name,
		&createdAt,
		&t.Features.EventLogging,
		&t.Features.AllowAttestation,
		&t.Features.GenerateSignInToken,
	); err != nil {
		return nil, err
	}

	var err error
	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &t, nil
}

// GetTenant retrieves a tenant by name.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetTenant(ctx context.Context, name string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE name = ?`, name)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns all tenants ordered by name.
func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}
	return tenants, nil
}

// UpdateFeatures replaces a tenant's feature flags.
func (s *SQLiteStore) UpdateFeatures(ctx context.Context, name string, f Features) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET event_logging = ?, allow_attestation = ?, generate_sign_in_token = ?
		WHERE name = ?
	`, boolToInt(f.EventLogging), boolToInt(f.AllowAttestation), boolToInt(f.GenerateSignInToken), name)
	if err != nil {
		return fmt.Errorf("updating features: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
