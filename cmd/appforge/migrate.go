package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codefionn/appforge/internal/store"
)

// migrateCmd creates or upgrades the database schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Open migrates
		db, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.Database.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
