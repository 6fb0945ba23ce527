package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
)

func newMigrateCmd(rt *runtime) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Applies the embedded schema migrations under an advisory lock. Migrations
only create objects; existing data is never dropped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				migrations, err := db.Migrations()
				if err != nil {
					return err
				}
				for _, m := range migrations {
					printf(out, "%s\n", m.Version)
				}
				return nil
			}
			if rt.cfg.StoreDriver != app.StoreDriverPostgres {
				return errors.New("migrate requires STORE_DRIVER=postgres")
			}
			pool, err := db.New(cmd.Context(), rt.cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			applied, err := db.Migrate(cmd.Context(), pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if len(applied) == 0 {
				printf(out, "No new migrations to apply\n")
				return nil
			}
			for _, v := range applied {
				printf(out, "Applied %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List embedded migrations without connecting")
	return cmd
}
