// ABOUTME: Tenant commands of the admin CLI
// ABOUTME: Creates and lists tenants and toggles their feature flags

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/2389/passkey-gateway/internal/store"
)

// featureFlags binds the feature flag switches shared by create and features.
type featureFlags struct {
	eventLogging        bool
	allowAttestation    bool
	generateSignInToken bool
}

func (f *featureFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.eventLogging, "event-logging", false, "record audit events for the tenant's requests")
	cmd.Flags().BoolVar(&f.allowAttestation, "allow-attestation", false, "honour attestation conveyance requests")
	cmd.Flags().BoolVar(&f.generateSignInToken, "generate-sign-in-token", false, "allow minting sign-in tokens without a ceremony")
}

// apply overrides base with the flags given on the command line.
func (f *featureFlags) apply(cmd *cobra.Command, base store.Features) store.Features {
	if cmd.Flags().Changed("event-logging") {
		base.EventLogging = f.eventLogging
	}
	if cmd.Flags().Changed("allow-attestation") {
		base.AllowAttestation = f.allowAttestation
	}
	if cmd.Flags().Changed("generate-sign-in-token") {
		base.GenerateSignInToken = f.generateSignInToken
	}
	return base
}

func (a *app) tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	cmd.AddCommand(a.tenantCreateCmd(), a.tenantListCmd(), a.tenantFeaturesCmd())
	return cmd
}

func (a *app) tenantCreateCmd() *cobra.Command {
	var flags featureFlags
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a tenant",
		Long: `Create a tenant. Names are lowercase letters, digits, '-' and '_',
starting with a letter or digit, at most 63 characters.

Event logging is on by default; the other features are off.`,
		Example: "  passkey-admin tenant create acme --generate-sign-in-token",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				features := flags.apply(cmd, store.DefaultFeatures())
				t, err := e.svc.CreateTenant(ctx, e.actor, args[0], &features)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), t)
				}
				success(cmd.OutOrStdout(), "created tenant %s (%s)", t.Name, featureList(t.Features))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				tenants, err := e.store.ListTenants(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), tenants)
				}
				rows := make([][]string, 0, len(tenants))
				for _, t := range tenants {
					rows = append(rows, []string{t.Name, featureList(t.Features), stamp(t.CreatedAt)})
				}
				return table(cmd.OutOrStdout(), "NAME\tFEATURES\tCREATED", rows)
			})
		},
	}
}

func (a *app) tenantFeaturesCmd() *cobra.Command {
	var flags featureFlags
	cmd := &cobra.Command{
		Use:     "features <name>",
		Short:   "Change a tenant's feature flags",
		Example: "  passkey-admin tenant features acme --event-logging=false",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(ctx context.Context, e *env) error {
				t, err := e.store.GetTenant(ctx, args[0])
				if err != nil {
					return err
				}
				features := flags.apply(cmd, t.Features)
				if err := e.svc.UpdateFeatures(ctx, e.actor, t.Name, features); err != nil {
					return err
				}
				if a.jsonOutput {
					return a.printJSON(cmd.OutOrStdout(), features)
				}
				success(cmd.OutOrStdout(), "tenant %s features: %s", t.Name, featureList(features))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}
