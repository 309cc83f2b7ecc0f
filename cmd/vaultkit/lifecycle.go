package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/painjournal/vaultkit/pkg/vault"

	"github.com/spf13/cobra"
)

var statusJSON bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ctl.CurrentState() == vault.StateLocked || ctl.CurrentState() == vault.StateUnlocked {
			return vault.ErrVaultExists
		}

		passphrase, err := promptNewPassphrase()
		if err != nil {
			return err
		}
		if err := ctl.Setup(passphrase); err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}

		status := ctl.Status()
		fmt.Printf("Vault initialized at %s\n", vaultDir)
		fmt.Printf("Vault ID: %s\n", status.VaultID)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ctl.CurrentState() == vault.StateUnlocked {
			fmt.Println("Vault is already unlocked")
			return nil
		}

		passphrase, err := promptPassphrase("Enter passphrase: ")
		if err != nil {
			return err
		}
		if err := ctl.Unlock(passphrase); err != nil {
			switch {
			case errors.Is(err, vault.ErrInvalidPassphrase):
				status := ctl.Status()
				return fmt.Errorf("invalid passphrase (%d/%d failed attempts)",
					status.FailedAttempts, cfg.MaxFailedAttempts)
			case errors.Is(err, vault.ErrLockedOut):
				return fmt.Errorf("too many failed attempts, vault has been wiped")
			}
			return err
		}

		fmt.Println("Vault unlocked")
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the vault and drop the session key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl.Lock()
		fmt.Println("Vault locked")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the vault state",
	RunE: func(cmd *cobra.Command, args []string) error {
		// A persisted session can resume silently; reflect that in
		// the reported state without prompting.
		if ctl.CurrentState() == vault.StateLocked {
			_ = ctl.ResumeSession()
		}
		status := ctl.Status()

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}

		fmt.Printf("State:           %s\n", status.State)
		if status.VaultID != "" {
			fmt.Printf("Vault ID:        %s\n", status.VaultID)
		}
		fmt.Printf("Failed attempts: %d/%d\n", status.FailedAttempts, cfg.MaxFailedAttempts)
		fmt.Printf("Key persisted:   %v\n", status.KeyPersisted)
		fmt.Printf("Directory:       %s\n", vaultDir)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(statusCmd)
}
