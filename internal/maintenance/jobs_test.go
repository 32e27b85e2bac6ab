// ABOUTME: Tests for the built-in maintenance jobs
// ABOUTME: Runs purge and credential report against a real SQLite store

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-gateway/internal/signingkey"
	"github.com/2389/passkey-gateway/internal/store"
)

func setupStore(t *testing.T, tenants ...string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, name := range tenants {
		require.NoError(t, s.CreateTenant(context.Background(), &store.Tenant{
			Name:     name,
			Features: store.DefaultFeatures(),
		}))
	}
	return s
}

func listEvents(t *testing.T, s *store.SQLiteStore, typ store.EventType) []*store.Event {
	t.Helper()
	events, err := s.ListEvents(context.Background(), store.EventFilter{EventType: typ})
	require.NoError(t, err)
	return events
}

func TestPurgeSigningKeys(t *testing.T) {
	s := setupStore(t, "acme")
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	for id, age := range map[int64]time.Duration{1: 40 * 24 * time.Hour, 2: 35 * 24 * time.Hour, 3: 5 * 24 * time.Hour} {
		require.NoError(t, s.InsertSigningKey(ctx, &store.SigningKey{
			Tenant:    "acme",
			KeyID:     id,
			Material:  make([]byte, signingkey.KeyLength),
			CreatedAt: now.Add(-age),
		}))
	}

	var purged int64
	run := PurgeSigningKeys(signingkey.New(s, signingkey.Options{}), s,
		func() time.Duration { return 30 * 24 * time.Hour },
		func() time.Time { return now },
		func(n int64) { purged = n }, nil)

	require.NoError(t, run(ctx))
	assert.Equal(t, int64(2), purged)

	keys, err := s.ListSigningKeys(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(3), keys[0].KeyID)

	events := listEvents(t, s, store.EventSigningKeysPurged)
	require.Len(t, events, 1)
	assert.Equal(t, store.SeverityInfo, events[0].Severity)
	assert.Equal(t, "system", events[0].PerformedBy)
	assert.Contains(t, events[0].Message, "purged 2 signing keys")
}

type recordingPurger struct {
	retention time.Duration
	now       time.Time
}

func (r *recordingPurger) PurgeExpired(_ context.Context, retention time.Duration, now time.Time) (int64, error) {
	r.retention, r.now = retention, now
	return 0, nil
}

func TestPurgeSigningKeys_UsesInjectedClock(t *testing.T) {
	s := setupStore(t)
	clock := time.Date(2030, 1, 2, 3, 0, 0, 0, time.UTC)
	purger := &recordingPurger{}

	run := PurgeSigningKeys(purger, s, func() time.Duration { return 48 * time.Hour },
		func() time.Time { return clock }, nil, nil)
	require.NoError(t, run(context.Background()))

	assert.Equal(t, clock, purger.now)
	assert.Equal(t, 48*time.Hour, purger.retention)
}

type failingPurger struct{ err error }

func (f failingPurger) PurgeExpired(context.Context, time.Duration, time.Time) (int64, error) {
	return 0, f.err
}

func TestPurgeSigningKeys_MissingTableIsTolerated(t *testing.T) {
	s := setupStore(t)
	missing := fmt.Errorf("purging signing keys: %w", errors.New("SQL logic error: no such table: signing_keys (1)"))

	run := PurgeSigningKeys(failingPurger{err: missing}, s, func() time.Duration { return time.Hour }, nil, nil, nil)
	assert.NoError(t, run(context.Background()))
	assert.Empty(t, listEvents(t, s, store.EventSigningKeysPurged))
}

func TestPurgeSigningKeys_OtherErrorsAreReported(t *testing.T) {
	s := setupStore(t)
	boom := errors.New("disk I/O error")

	run := PurgeSigningKeys(failingPurger{err: boom}, s, func() time.Duration { return time.Hour }, nil, nil, nil)
	assert.ErrorIs(t, run(context.Background()), boom)

	events := listEvents(t, s, store.EventSigningKeysPurged)
	require.Len(t, events, 1)
	assert.Equal(t, store.SeverityError, events[0].Severity)
}

func TestCredentialReport(t *testing.T) {
	s := setupStore(t, "acme", "globex")
	ctx := context.Background()

	for i, userID := range []string{"alice", "alice", "bob"} {
		require.NoError(t, s.CreateCredential(ctx, &store.Credential{
			Tenant:       "acme",
			UserID:       userID,
			CredentialID: []byte{byte(i + 1)},
			PublicKey:    []byte{1},
		}))
	}

	day := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)
	run := CredentialReport(s, s, func() time.Time { return day }, nil)
	require.NoError(t, run(ctx))

	reports, err := s.ListCredentialReports(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "2024-06-01", reports[0].Date)
	assert.Equal(t, 2, reports[0].Users)
	assert.Equal(t, 3, reports[0].Credentials)

	reports, err = s.ListCredentialReports(ctx, "globex", 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].Credentials)

	// A second run the same day overwrites instead of duplicating.
	require.NoError(t, run(ctx))
	reports, err = s.ListCredentialReports(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	events := listEvents(t, s, store.EventCredentialReport)
	assert.Len(t, events, 4)
	for _, e := range events {
		assert.Contains(t, []string{"acme", "globex"}, e.Tenant)
	}
}
