// ABOUTME: Built-in maintenance jobs: signing key purge and daily credential report
// ABOUTME: Each run records a system audit event through its own event buffer

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/passkey-gateway/internal/eventlog"
	"github.com/2389/passkey-gateway/internal/store"
)

const (
	PurgeSigningKeysJob = "purge-signing-keys"
	CredentialReportJob = "credential-report"
)

// KeyPurger deletes expired signing keys. *signingkey.KeyStore implements it.
type KeyPurger interface {
	PurgeExpired(ctx context.Context, retention time.Duration, now time.Time) (int64, error)
}

// PurgeSigningKeys returns a job body that deletes signing keys older than
// retention() as of now(). A database without the signing_keys table is logged and skipped.
func PurgeSigningKeys(keys KeyPurger, sink eventlog.Sink, retention func() time.Duration, now func() time.Time, onPurged func(int64), logger *slog.Logger) func(context.Context) error {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	logger = logger.With("job", PurgeSigningKeysJob)

	return func(ctx context.Context) error {
		r := retention()
		n, err := keys.PurgeExpired(ctx, r, now())
		if onPurged != nil {
			onPurged(n)
		}

		buf := eventlog.NewBuffer(sink)
		switch {
		case store.IsMissingTable(err):
			logger.Warn("signing key table missing, skipping purge", "error", err)
			return nil
		case err != nil:
			buf.Add(eventlog.NewEvent(store.EventSigningKeysPurged, store.SeverityError,
				fmt.Sprintf("signing key purge stopped after %d keys: %v", n, err)))
		default:
			buf.Add(eventlog.NewEvent(store.EventSigningKeysPurged, store.SeverityInfo,
				fmt.Sprintf("purged %d signing keys older than %s", n, r)))
		}

		if ferr := buf.Flush(ctx); ferr != nil {
			logger.Error("failed to record purge event", "error", ferr)
		}
		return err
	}
}

// ReportSource is the storage the credential report reads and writes.
type ReportSource interface {
	ListTenants(ctx context.Context) ([]*store.Tenant, error)
	CountCredentials(ctx context.Context, tenant string) (users, credentials int, err error)
	UpsertCredentialReport(ctx context.Context, r *store.CredentialReport) error
}

// CredentialReport returns a job body that upserts today's users and
// credentials snapshot for every tenant. A failing tenant does not stop the others.
func CredentialReport(src ReportSource, sink eventlog.Sink, now func() time.Time, logger *slog.Logger) func(context.Context) error {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	logger = logger.With("job", CredentialReportJob)

	return func(ctx context.Context) error {
		tenants, err := src.ListTenants(ctx)
		if err != nil {
			return fmt.Errorf("listing tenants: %w", err)
		}

		ts := now().UTC()
		date := ts.Format("2006-01-02")
		buf := eventlog.NewBuffer(sink)

		var errs []error
		for _, t := range tenants {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}

			users, creds, err := src.CountCredentials(ctx, t.Name)
			if err != nil {
				errs = append(errs, fmt.Errorf("counting credentials for %s: %w", t.Name, err))
				continue
			}
			report := &store.CredentialReport{
				Tenant:      t.Name,
				Date:        date,
				Users:       users,
				Credentials: creds,
				UpdatedAt:   ts,
			}
			if err := src.UpsertCredentialReport(ctx, report); err != nil {
				errs = append(errs, fmt.Errorf("saving report for %s: %w", t.Name, err))
				continue
			}

			e := eventlog.NewEvent(store.EventCredentialReport, store.SeverityInfo,
				fmt.Sprintf("%d users with %d passkeys on %s", users, creds, date))
			e.Tenant = t.Name
			buf.Add(e)
		}

		if ferr := buf.Flush(ctx); ferr != nil {
			logger.Error("failed to record report events", "error", ferr)
		}
		logger.Debug("credential report complete", "tenants", len(tenants), "failures", len(errs))
		return errors.Join(errs...)
	}
}
