// ABOUTME: Audit log and admin token commands of the admin CLI
// ABOUTME: Pages through recorded events and mints bearer tokens for the admin API

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/passkey-gateway/internal/auth"
	"github.com/2389/passkey-gateway/internal/store"
)

func (a *app) eventsCmd() *cobra.Command {
	var (
		filter store.EventFilter
		since  time.Duration
		tenant string
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events, newest first",
		Example: `  passkey-admin events --tenant acme --since 24h
  passkey-admin events --type api_auth_failed --limit 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				filter.Tenant = tenant
				filter.EventType = store.EventType(kind)
				if since > 0 {
					t := time.Now().Add(-since)
					filter.Since = &t
				}

				page, err := e.store.ListEventsPage(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					return a.printJSON(out, page)
				}

				rows := make([][]string, len(page.Events))
				for i, ev := range page.Events {
					rows[i] = []string{stamp(ev.PerformedAt), string(ev.Severity), string(ev.EventType), ev.Tenant, ev.PerformedBy, ev.Message}
				}
				if err := table(out, "TIME\tSEVERITY\tTYPE\tTENANT\tBY\tMESSAGE", rows); err != nil {
					return err
				}
				if page.NextCursor != "" {
					fmt.Fprintf(out, "\nmore: --cursor %s\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "only events of this tenant")
	cmd.Flags().StringVar(&kind, "type", "", "only events of this type")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "page size (max 500)")
	cmd.Flags().StringVar(&filter.Cursor, "cursor", "", "continue from a previous page")
	return cmd
}

func (a *app) adminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the /admin HTTP API",
		Long: `Sign a token with auth.admin_jwt_secret. Anyone holding it has full admin
access until it expires.`,
		Example: "  passkey-admin admin-token --subject deploy-bot --ttl 1h",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.AdminJWTSecret))
			if err != nil {
				return err
			}
			tok, err := verifier.Generate(subject, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is for, recorded with every change")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
