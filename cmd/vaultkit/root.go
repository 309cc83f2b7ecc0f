package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/painjournal/vaultkit/internal/config"
	"github.com/painjournal/vaultkit/pkg/storage"
	"github.com/painjournal/vaultkit/pkg/vault"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	vaultDir string

	cfg      config.Config
	registry *storage.Registry
	ctl      *vault.Controller
)

var rootCmd = &cobra.Command{
	Use:   "vaultkit",
	Short: "vaultkit manages the encrypted local journal vault",
	Long:  `Local-first encrypted storage for journal records, with migration and wipe tooling.`,
	// PersistentPreRunE runs before every subcommand and wires the
	// storage surfaces and the vault controller.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return openVault()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if registry != nil {
			return registry.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&vaultDir, "dir", "", "vault directory (default ~/.vaultkit)")
}

// openVault resolves the vault directory, loads configuration, opens
// every storage surface, and builds the controller. The durable kv
// surface is mandatory; db and cache are opened when their files can
// be created.
func openVault() error {
	if vaultDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		vaultDir = filepath.Join(home, ".vaultkit")
	}
	if err := os.MkdirAll(vaultDir, 0700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	var err error
	cfg, err = config.Load(vaultDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	kv, err := storage.OpenKV(filepath.Join(vaultDir, "vault.db"))
	if err != nil {
		return fmt.Errorf("failed to open kv surface: %w", err)
	}
	registry = storage.NewRegistry(kv, storage.NewMemorySurface())

	if db, err := storage.OpenDB(filepath.Join(vaultDir, "records.sqlite")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: db surface unavailable: %v\n", err)
	} else {
		registry.Register(db)
	}
	if cache, err := storage.OpenCache(filepath.Join(vaultDir, "cache.json")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cache surface unavailable: %v\n", err)
	} else {
		registry.Register(cache)
	}

	ctl, err = vault.New(cfg, registry, nil)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	return nil
}

// ensureUnlocked makes sure a session key is available, first via the
// persisted keyring copy and otherwise by prompting for the passphrase.
func ensureUnlocked() error {
	switch ctl.CurrentState() {
	case vault.StateUnlocked:
		return nil
	case vault.StateUninitialized:
		return fmt.Errorf("vault not initialized, run 'vaultkit init' first")
	case vault.StateWiped:
		return vault.ErrAlreadyWiped
	}

	if err := ctl.ResumeSession(); err == nil {
		return nil
	}

	passphrase, err := promptPassphrase("Enter passphrase: ")
	if err != nil {
		return err
	}
	if err := ctl.Unlock(passphrase); err != nil {
		if errors.Is(err, vault.ErrInvalidPassphrase) {
			status := ctl.Status()
			return fmt.Errorf("invalid passphrase (%d/%d failed attempts)",
				status.FailedAttempts, cfg.MaxFailedAttempts)
		}
		return err
	}
	return nil
}

// promptPassphrase reads a passphrase without echo.
func promptPassphrase(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// promptNewPassphrase reads and confirms a new passphrase.
func promptNewPassphrase() ([]byte, error) {
	passphrase, err := promptPassphrase("Enter new passphrase: ")
	if err != nil {
		return nil, err
	}
	confirm, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return nil, err
	}
	if string(passphrase) != string(confirm) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	return passphrase, nil
}

// confirmPrompt asks a yes/no question and defaults to no.
func confirmPrompt(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return response == "y" || response == "Y"
}
