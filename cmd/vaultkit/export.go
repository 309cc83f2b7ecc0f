package main

import (
	"fmt"
	"os"

	"github.com/painjournal/vaultkit/pkg/export"

	"github.com/spf13/cobra"
)

var (
	exportKeyFile string
	importDryRun  bool
)

// exportOptions builds the shared crypto options for the export
// commands: a key file when given, otherwise a prompted passphrase.
func exportOptions(newSecret bool) (export.Options, error) {
	opts := export.Options{KeyFile: exportKeyFile, KDF: cfg.KDF}
	if exportKeyFile != "" {
		return opts, nil
	}

	var passphrase []byte
	var err error
	if newSecret {
		passphrase, err = promptNewPassphrase()
	} else {
		passphrase, err = promptPassphrase("Enter export passphrase: ")
	}
	if err != nil {
		return export.Options{}, err
	}
	opts.Passphrase = passphrase
	return opts, nil
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write an encrypted export of the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := exportOptions(true)
		if err != nil {
			return err
		}

		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()

		if err := export.Export(registry, f, opts); err != nil {
			os.Remove(args[0])
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported vault to %s\n", args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore vault data from an encrypted export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read export file: %w", err)
		}

		opts, err := exportOptions(false)
		if err != nil {
			return err
		}
		opts.DryRun = importDryRun

		result, err := export.Import(registry, data, opts)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		if result.DryRun {
			fmt.Printf("Would import %d records and %d metadata entries\n",
				result.RecordsImported, result.MetaImported)
			return nil
		}
		fmt.Printf("Imported %d records and %d metadata entries\n",
			result.RecordsImported, result.MetaImported)
		fmt.Println("Unlock with the vault passphrase to read the restored records")
		return nil
	},
}

var verifyExportCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check an export file without importing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read export file: %w", err)
		}

		opts, err := exportOptions(false)
		if err != nil {
			return err
		}

		result := export.Verify(data, opts)
		if !result.Valid {
			return fmt.Errorf("export is not valid: %s", result.Error)
		}
		fmt.Printf("Export is valid\n")
		fmt.Printf("  Version:  %d\n", result.Version)
		fmt.Printf("  Created:  %s\n", result.CreatedAt.Format("2006-01-02 15:04:05"))
		if result.VaultID != "" {
			fmt.Printf("  Vault ID: %s\n", result.VaultID)
		}
		fmt.Printf("  Records:  %d\n", result.RecordCount)
		return nil
	},
}

var keyfileCmd = &cobra.Command{
	Use:   "keyfile <path>",
	Short: "Generate a random export key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := export.GenerateKeyFile(args[0]); err != nil {
			return fmt.Errorf("failed to generate key file: %w", err)
		}
		fmt.Printf("Key file written to %s\n", args[0])
		fmt.Println("Keep it offline: anyone holding it can open exports made with it")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{exportCmd, importCmd, verifyExportCmd} {
		cmd.Flags().StringVar(&exportKeyFile, "key-file", "", "use a raw key file instead of a passphrase")
	}
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "preview the import without writing")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(verifyExportCmd)
	rootCmd.AddCommand(keyfileCmd)
}
