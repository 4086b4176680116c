package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JackTn/azure-sdk-usage-agent/internal/alias"
	"github.com/JackTn/azure-sdk-usage-agent/internal/config"
	"github.com/JackTn/azure-sdk-usage-agent/internal/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the alias document store schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrateSteps(cmd, 0)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return migrateSteps(cmd, -steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	root.AddCommand(down)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := databaseURL(cmd.Context())
			if err != nil {
				return err
			}
			v, dirty, err := database.Version(url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	})

	return root
}

func migrateSteps(cmd *cobra.Command, steps int) error {
	url, err := databaseURL(cmd.Context())
	if err != nil {
		return err
	}

	if err := database.RunMigrations(database.MigrationConfig{DatabaseURL: url, Steps: steps}); err != nil {
		return err
	}

	v, dirty, err := database.Version(url)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ migrated to version %d (dirty: %t)\n", v, dirty)
	return nil
}

func databaseURL(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return "", err
	}

	pg := alias.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}
	fmt.Fprintf(os.Stderr, "Connecting to database: %s@%s:%s/%s\n", pg.Username, pg.Host, pg.Port, pg.Database)
	return pg.URL(), nil
}
