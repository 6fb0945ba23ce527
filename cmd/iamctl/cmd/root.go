package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
)

// runtime carries what PersistentPreRunE loaded for the subcommands.
type runtime struct {
	cfg    *app.Config
	logger *slog.Logger
}

// NewRootCmd builds the iamctl command tree.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}
	root := &cobra.Command{
		Use:   "iamctl",
		Short: "Administrative tooling for the Odyssey IAM service",
		Long: `iamctl manages the IAM schema, seeds the system roles and permission
catalogue, provisions the bootstrap administrator and inspects the mail queue.

Configuration is read from the same environment variables as iamd.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.LogLevel = "debug"
			}
			rt.cfg = cfg
			rt.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: levelFor(cfg)}))
			return nil
		},
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(newMigrateCmd(rt))
	root.AddCommand(newSeedCmd(rt))
	root.AddCommand(newBootstrapAdminCmd(rt))
	root.AddCommand(newJobsCmd(rt))
	return root
}

func levelFor(cfg *app.Config) slog.Level {
	if cfg.LogLevel == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
