package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/bootstrap"
)

func newSeedCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed system roles, the permission catalogue and the configured administrator",
		Long: `Creates the admin and user system roles and every core permission when
missing. When BOOTSTRAP_ADMIN_EMAIL is set the administrator account is
provisioned as well. Running seed repeatedly is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), rt, cmd.OutOrStdout(), rt.cfg.SeedOptions())
		},
	}
}

func newBootstrapAdminCmd(rt *runtime) *cobra.Command {
	var (
		email    string
		password string
		reset    bool
	)
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Provision or repair the bootstrap administrator",
		Long: `Ensures the given account exists, is active, is an administrator and holds
the admin role. An existing password is only replaced with --reset.

Example:
  iamctl bootstrap-admin --email admin@example.com --password 's3cret-pass'
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			return runSeed(cmd.Context(), rt, cmd.OutOrStdout(), bootstrap.Options{
				AdminEmail:         email,
				AdminPassword:      password,
				ResetAdminPassword: reset,
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Administrator email")
	cmd.Flags().StringVar(&password, "password", "", "Administrator password, required when the account does not exist")
	cmd.Flags().BoolVar(&reset, "reset", false, "Replace the password of an existing account")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runSeed(ctx context.Context, rt *runtime, out io.Writer, opts bootstrap.Options) error {
	st, closeStore, err := app.OpenStore(ctx, rt.cfg, rt.cfg.AutoMigrate, rt.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	deps := app.Deps{Store: st, Logger: rt.logger}
	redisClient, err := app.OpenRedis(ctx, rt.cfg)
	switch {
	case err != nil:
		rt.logger.Warn("redis unavailable, permission cache not invalidated", slog.Any("error", err))
	case redisClient != nil:
		defer redisClient.Close()
		deps.Redis = redisClient
	}

	services, err := app.NewServices(rt.cfg, deps)
	if err != nil {
		return err
	}
	report, err := services.Seeder.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	printf(out, "permissions created: %d\n", report.PermissionsCreated)
	printf(out, "roles created: %d\n", report.RolesCreated)
	switch {
	case report.AdminCreated:
		printf(out, "administrator created: %s\n", opts.AdminEmail)
	case report.AdminPasswordReset:
		printf(out, "administrator password reset: %s\n", opts.AdminEmail)
	case opts.AdminEmail != "":
		printf(out, "administrator ensured: %s\n", opts.AdminEmail)
	}
	return nil
}
