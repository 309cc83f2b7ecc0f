package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	auditLimit int
	auditJSON  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the tamper-evident audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := ctl.AuditLogger().ListEvents(auditLimit)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events recorded")
			return nil
		}

		if auditJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}

		for _, e := range events {
			line := fmt.Sprintf("%s  %-22s %s", e.Timestamp, e.Operation, e.Result)
			if e.Error != nil {
				line += fmt.Sprintf("  (%s)", e.Error.Code)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Chain verification needs the working key for the HMACs.
		if err := ensureUnlocked(); err != nil {
			return err
		}

		result, err := ctl.AuditLogger().Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		fmt.Printf("Records checked: %d\n", result.RecordsTotal)
		if result.Valid {
			fmt.Println("Audit log chain is intact")
			return nil
		}
		for _, msg := range result.Errors {
			fmt.Printf("  %s\n", msg)
		}
		return fmt.Errorf("audit log verification failed")
	},
}

func init() {
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum events to show (0 = all)")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "output as JSON")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
