// ABOUTME: API key persistence for the SQLite store
// ABOUTME: Lookup by abbreviated key, lock/unlock and scope additions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/2389/passkey-gateway/internal/apikey"
)

// CreateApiKey inserts a new API key.
// Returns ErrDuplicateApiKey if the tenant already has a key of the same kind with this abbreviation.
func (s *SQLiteStore) CreateApiKey(ctx context.Context, k *apikey.ApiKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant, kind, material, hash, abbreviated_key, scopes, is_locked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		k.ID,
		k.Tenant,
		string(k.Kind),
		nullString(k.Material),
		nullString(k.Hash),
		k.AbbreviatedKey,
		apikey.JoinScopes(k.Scopes),
		boolToInt(k.IsLocked),
		formatTime(k.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateApiKey
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Debug("created api key", "tenant", k.Tenant, "kind", k.Kind, "abbreviated", k.AbbreviatedKey)
	return nil
}

const apiKeyColumns = `id, tenant, kind, material, hash, abbreviated_key, scopes, is_locked, created_at`

func scanApiKey(scanner interface{ Scan(dest ...any) error }) (*apikey.ApiKey, error) {
	var k apikey.ApiKey
	var kind, scopes, createdAt string
	var material, hash sql.NullString

	if err := scanner.Scan(
		&k.ID,
		&k.Tenant,
		&kind,
		&material,
		&hash,
		&k.AbbreviatedKey,
		&scopes,
		&k.IsLocked,
		&createdAt,
	); err != nil {
		return nil, err
	}

	k.Kind = apikey.Kind(kind)
	k.Material = material.String
	k.Hash = hash.String
	k.Scopes = apikey.ParseScopes(scopes)

	var err error
	k.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &k, nil
}

// GetApiKey retrieves a key by ID.
func (s *SQLiteStore) GetApiKey(ctx context.Context, id string) (*apikey.ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanApiKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return k, nil
}

// FindApiKeys returns the candidate keys for a presented key.
// The result may be empty; callers compare the full material themselves.
func (s *SQLiteStore) FindApiKeys(ctx context.Context, tenant string, kind apikey.Kind, abbreviated string) ([]*apikey.ApiKey, error) {
	return s.queryApiKeys(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE tenant = ? AND kind = ? AND abbreviated_key = ?
	`, tenant, string(kind), abbreviated)
}

// ListApiKeys returns all keys of a tenant, oldest first.
func (s *SQLiteStore) ListApiKeys(ctx context.Context, tenant string) ([]*apikey.ApiKey, error) {
	return s.queryApiKeys(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE tenant = ?
		ORDER BY created_at, id
	`, tenant)
}

func (s *SQLiteStore) queryApiKeys(ctx context.Context, query string, args ...any) ([]*apikey.ApiKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*apikey.ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}
	return keys, nil
}

// SetApiKeyLocked locks or unlocks a key.
func (s *SQLiteStore) SetApiKeyLocked(ctx context.Context, id string, locked bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_locked = ? WHERE id = ?`, boolToInt(locked), id)
	if err != nil {
		return fmt.Errorf("updating api key lock: %w", err)
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

// AddApiKeyScopes merges scopes into a key, validating them against its kind.
func (s *SQLiteStore) AddApiKeyScopes(ctx context.Context, id string, scopes []apikey.Scope) (*apikey.ApiKey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanApiKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}

	if err := apikey.ValidateScopes(k.Kind, scopes); err != nil {
		return nil, err
	}
	k.Scopes = apikey.MergeScopes(k.Scopes, scopes)

	if _, err := tx.ExecContext(ctx, `UPDATE api_keys SET scopes = ? WHERE id = ?`, apikey.JoinScopes(k.Scopes), id); err != nil {
		return nil, fmt.Errorf("updating scopes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return k, nil
}
