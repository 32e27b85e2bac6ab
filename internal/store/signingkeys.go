// ABOUTME: Signing key persistence for the SQLite store
// ABOUTME: Newest-key lookup, insert with unique (tenant, key_id) and batched purge

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const signingKeyColumns = `tenant, key_id, material, created_at`

func scanSigningKey(scanner interface{ Scan(dest ...any) error }) (*SigningKey, error) {
	var k SigningKey
	var createdAt string
	if err := scanner.Scan(&k.Tenant, &k.KeyID, &k.Material, &createdAt); err != nil {
		return nil, err
	}
	var err error
	k.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &k, nil
}

// LatestSigningKey returns the tenant's key with the highest KeyID.
// Returns ErrNotFound if the tenant has no keys yet.
func (s *SQLiteStore) LatestSigningKey(ctx context.Context, tenant string) (*SigningKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE tenant = ?
		ORDER BY key_id DESC
		LIMIT 1
	`, tenant)
	k, err := scanSigningKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest signing key: %w", err)
	}
	return k, nil
}

// GetSigningKey returns a specific key.
func (s *SQLiteStore) GetSigningKey(ctx context.Context, tenant string, keyID int64) (*SigningKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE tenant = ? AND key_id = ?
	`, tenant, keyID)
	k, err := scanSigningKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying signing key: %w", err)
	}
	return k, nil
}

// InsertSigningKey stores a new key.
// Returns ErrDuplicateSigningKey when another writer already inserted the same KeyID.
func (s *SQLiteStore) InsertSigningKey(ctx context.Context, k *SigningKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_keys (tenant, key_id, material, created_at)
		VALUES (?, ?, ?, ?)
	`, k.Tenant, k.KeyID, k.Material, formatTime(k.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSigningKey
		}
		return fmt.Errorf("inserting signing key: %w", err)
	}

	s.logger.Debug("inserted signing key", "tenant", k.Tenant, "key_id", k.KeyID)
	return nil
}

// ListSigningKeys returns a tenant's keys, newest first.
func (s *SQLiteStore) ListSigningKeys(ctx context.Context, tenant string) ([]*SigningKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE tenant = ?
		ORDER BY key_id DESC
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("querying signing keys: %w", err)
	}
	defer rows.Close()

	var keys []*SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning signing key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signing keys: %w", err)
	}
	return keys, nil
}

// purgeBatchQuery deletes up to ? keys created before the cutoff.
// The newest key of each tenant is never selected, whatever its age.
const purgeBatchQuery = `
	DELETE FROM signing_keys
	WHERE rowid IN (
		SELECT sk.rowid FROM signing_keys sk
		WHERE sk.created_at < ?
		  AND sk.key_id < (
			SELECT MAX(newest.key_id) FROM signing_keys newest
			WHERE newest.tenant = sk.tenant
		  )
		LIMIT ?
	)
`

// PurgeSigningKeys runs a single purge batch and returns the number of deleted keys.
// Each call is one self-contained statement; callers loop until it returns fewer than limit.
func (s *SQLiteStore) PurgeSigningKeys(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx, purgeBatchQuery, formatTime(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("purging signing keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
