// ABOUTME: API key commands of the admin CLI
// ABOUTME: Creates, lists, locks, unlocks and extends the scopes of tenant API keys

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/passkey-gateway/internal/apikey"
)

func toScopes(raw []string) []apikey.Scope {
	scopes := make([]apikey.Scope, len(raw))
	for i, s := range raw {
		scopes[i] = apikey.Scope(s)
	}
	return scopes
}

func (a *app) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage tenant API keys",
	}
	cmd.AddCommand(
		a.keyCreateCmd(),
		a.keyListCmd(),
		a.keyLockCmd("lock", true),
		a.keyLockCmd("unlock", false),
		a.keyAddScopesCmd(),
	)
	return cmd
}

func (a *app) keyCreateCmd() *cobra.Command {
	var (
		kind   string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "create <tenant>",
		Short: "Create an API key",
		Long: `Create an API key for a tenant. The key is printed once and cannot be
recovered later.

Public keys accept the scopes register and login. Secret keys accept
token_register and token_verify.`,
		Example: `  passkey-admin key create acme --kind public --scope register --scope login
  passkey-admin key create acme --kind secret --scope token_register,token_verify`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				created, err := e.svc.CreateApiKey(ctx, e.actor, args[0], apikey.Kind(kind), toScopes(scopes))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOutput {
					v := newKeyView(created.Key)
					v.Key = created.Raw
					return a.printJSON(out, v)
				}
				success(out, "created %s key %s for %s", created.Key.Kind, created.Key.ID, created.Key.Tenant)
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  "+color.New(color.Bold).Sprint(created.Raw))
				fmt.Fprintln(out)
				color.New(color.FgYellow).Fprintln(out, "  Store this key now. It will not be shown again.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(apikey.KindPublic), "key kind: public or secret")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scope to grant (repeatable or comma separated)")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func (a *app) keyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tenant>",
		Short: "List a tenant's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				if _, err := e.store.GetTenant(ctx, args[0]); err != nil {
					return err
				}
				keys, err := e.store.ListApiKeys(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printKeys(cmd.OutOrStdout(), keys)
			})
		},
	}
}

func (a *app) keyLockCmd(use string, locked bool) *cobra.Command {
	short := "Lock an API key so it is rejected"
	if !locked {
		short = "Unlock a locked API key"
	}
	return &cobra.Command{
		Use:   use + " <key-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				key, err := e.svc.SetApiKeyLocked(ctx, e.actor, args[0], locked)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), newKeyView(key))
				}
				success(cmd.OutOrStdout(), "%sed key %s (%s)", use, key.ID, key.AbbreviatedKey)
				return nil
			})
		},
	}
}

func (a *app) keyAddScopesCmd() *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "add-scopes <key-id>",
		Short: "Grant additional scopes to an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				key, err := e.svc.AddApiKeyScopes(ctx, e.actor, args[0], toScopes(scopes))
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), newKeyView(key))
				}
				success(cmd.OutOrStdout(), "key %s scopes: %s", key.ID, scopeList(key.Scopes))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scope to add (repeatable or comma separated)")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}
