// ABOUTME: Signing key and report commands of the admin CLI
// ABOUTME: Rotates keys and runs the maintenance jobs on demand

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/passkey-gateway/internal/maintenance"
)

func (a *app) signingKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "signing-key",
		Aliases: []string{"signing-keys"},
		Short:   "Manage token signing keys",
	}
	cmd.AddCommand(a.signingKeyRotateCmd(), a.signingKeyListCmd(), a.signingKeyPurgeCmd())
	return cmd
}

func (a *app) signingKeyRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <tenant>",
		Short: "Start signing new tokens with a fresh key",
		Long: `Create a new signing key for the tenant. Tokens signed with older keys stay
valid until they expire or their key is purged.

Running gateways cache the active key for signing_keys.cache_ttl.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				key, err := e.svc.RotateSigningKey(ctx, e.actor, args[0])
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), map[string]any{
						"tenant": key.Tenant, "key_id": key.KeyID, "created_at": key.CreatedAt,
					})
				}
				success(cmd.OutOrStdout(), "tenant %s now signs with key %d", key.Tenant, key.KeyID)
				return nil
			})
		},
	}
}

func (a *app) signingKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tenant>",
		Short: "List a tenant's signing keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				keys, err := e.store.ListSigningKeys(ctx, args[0])
				if err != nil {
					return err
				}
				type view struct {
					KeyID     int64     `json:"key_id"`
					CreatedAt time.Time `json:"created_at"`
				}
				views := make([]view, len(keys))
				rows := make([][]string, len(keys))
				for i, k := range keys {
					views[i] = view{KeyID: k.KeyID, CreatedAt: k.CreatedAt}
					rows[i] = []string{strconv.FormatInt(k.KeyID, 10), stamp(k.CreatedAt)}
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), views)
				}
				return table(cmd.OutOrStdout(), "KEY ID\tCREATED", rows)
			})
		},
	}
}

func (a *app) signingKeyPurgeCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete signing keys older than the retention period",
		Long: `Run the signing key purge job once. Tokens signed with a purged key fail
validation with unknown_key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				r := e.cfg.SigningKeys.Retention
				if cmd.Flags().Changed("retention") {
					r = retention
				}
				if r <= 0 {
					return fmt.Errorf("retention must be positive, got %s", r)
				}

				var purged int64
				job := maintenance.PurgeSigningKeys(e.keys, e.store,
					func() time.Duration { return r },
					time.Now,
					func(n int64) { purged = n },
					e.logger)
				if err := job(ctx); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "purged %d signing keys older than %s", purged, r)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override signing_keys.retention")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Daily credential reports",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Update today's credential report for every tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := maintenance.CredentialReport(e.store, e.store, time.Now, e.logger)(ctx); err != nil {
					return err
				}
				success(cmd.OutOrStdout(), "credential reports updated for %s", time.Now().UTC().Format(time.DateOnly))
				return nil
			})
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list <tenant>",
		Short: "Show a tenant's most recent reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				reports, err := e.store.ListCredentialReports(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), reports)
				}
				rows := make([][]string, len(reports))
				for i, r := range reports {
					rows[i] = []string{r.Date, strconv.Itoa(r.Users), strconv.Itoa(r.Credentials)}
				}
				return table(cmd.OutOrStdout(), "DATE\tUSERS\tCREDENTIALS", rows)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 30, "number of days to show")

	cmd.AddCommand(run, list)
	return cmd
}
