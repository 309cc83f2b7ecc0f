package main

import (
	"fmt"

	"github.com/painjournal/vaultkit/pkg/migrate"

	"github.com/spf13/cobra"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Re-encrypt legacy records under the current format",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		key, err := ctl.SessionKey()
		if err != nil {
			return err
		}

		tool := migrate.New(registry, ctl.AuditLogger())
		report, err := tool.Run(cmd.Context(), key, migrate.Options{
			DryRun:    migrateDryRun,
			Checksums: cfg.IntegrityChecksums,
		})
		if err != nil {
			return fmt.Errorf("migration aborted: %w", err)
		}

		verb := "Migrated"
		if report.DryRun {
			verb = "Would migrate"
		}
		fmt.Printf("%s %d of %d records (%d already current)\n",
			verb, report.Migrated, report.Scanned, report.Skipped)
		for _, f := range report.Failures {
			fmt.Printf("  FAILED %s on %s: %s\n", f.Key, f.Surface, f.Reason)
		}
		if len(report.Failures) > 0 {
			return fmt.Errorf("%d records could not be migrated", len(report.Failures))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report without rewriting records")

	rootCmd.AddCommand(migrateCmd)
}
