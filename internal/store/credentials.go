// ABOUTME: Passkey credential persistence for the SQLite store
// ABOUTME: Registration, lookup by credential ID and sign-count updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateCredential stores a newly registered passkey.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) CreateCredential(ctx context.Context, c *Credential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, tenant, user_id, credential_id, public_key, attestation_type, transports, aaguid, sign_count, backup_eligible, backup_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Tenant,
		c.UserID,
		c.CredentialID,
		c.PublicKey,
		c.AttestationType,
		strings.Join(c.Transports, ","),
		c.AAGUID,
		c.SignCount,
		boolToInt(c.BackupEligible),
		boolToInt(c.BackupState),
		formatTime(c.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	s.logger.Debug("created credential", "tenant", c.Tenant, "user_id", c.UserID)
	return nil
}

const credentialColumns = `id, tenant, user_id, credential_id, public_key, attestation_type, transports, aaguid, sign_count, backup_eligible, backup_state, created_at, last_used_at`

func scanCredential(scanner interface{ Scan(dest ...any) error }) (*Credential, error) {
	var c Credential
	var transports, createdAt string
	var lastUsedAt sql.NullString
	if err := scanner.Scan(
		&c.ID,
		&c.Tenant,
		&c.UserID,
		&c.CredentialID,
		&c.PublicKey,
		&c.AttestationType,
		&transports,
		&c.AAGUID,
		&c.SignCount,
		&c.BackupEligible,
		&c.BackupState,
		&createdAt,
		&lastUsedAt,
	); err != nil {
		return nil, err
	}

	if transports != "" {
		c.Transports = strings.Split(transports, ",")
	}

	var err error
	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastUsedAt.Valid {
		t, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		c.LastUsedAt = &t
	}
	return &c, nil
}

// GetCredential looks up a credential by its authenticator-assigned ID.
func (s *SQLiteStore) GetCredential(ctx context.Context, tenant string, credentialID []byte) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE tenant = ? AND credential_id = ?
	`, tenant, credentialID)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return c, nil
}

// ListUserCredentials returns a user's passkeys, oldest first.
func (s *SQLiteStore) ListUserCredentials(ctx context.Context, tenant, userID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE tenant = ? AND user_id = ?
		ORDER BY created_at, id
	`, tenant, userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// UpdateCredentialUsage records a successful assertion.
func (s *SQLiteStore) UpdateCredentialUsage(ctx context.Context, tenant string, credentialID []byte, signCount uint32, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET sign_count = ?, last_used_at = ?
		WHERE tenant = ? AND credential_id = ?
	`, signCount, formatTime(usedAt), tenant, credentialID)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
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
