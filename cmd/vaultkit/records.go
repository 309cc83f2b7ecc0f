package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/painjournal/vaultkit/pkg/storage"

	"github.com/spf13/cobra"
)

var putFile string

var putCmd = &cobra.Command{
	Use:   "put <id> [value]",
	Short: "Encrypt and store a record",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		var plaintext []byte
		switch {
		case len(args) == 2:
			plaintext = []byte(args[1])
		case putFile != "":
			data, err := os.ReadFile(putFile)
			if err != nil {
				return fmt.Errorf("failed to read input file: %w", err)
			}
			plaintext = data
		default:
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			plaintext = data
		}

		if err := ctl.PutRecord(args[0], plaintext); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		fmt.Printf("Stored record '%s'\n", args[0])
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Decrypt and print a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		plaintext, err := ctl.GetRecord(args[0])
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("record '%s' not found", args[0])
			}
			return fmt.Errorf("failed to read record: %w", err)
		}

		// No trailing newline so binary payloads survive a pipe.
		_, err = os.Stdout.Write(plaintext)
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		if err := ctl.DeleteRecord(args[0]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("record '%s' not found", args[0])
			}
			return fmt.Errorf("failed to delete record: %w", err)
		}
		fmt.Printf("Deleted record '%s'\n", args[0])
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List record IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		ids, err := ctl.ListRecords()
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		if len(ids) == 0 {
			fmt.Println("No records stored")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putFile, "file", "", "read the record body from a file")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
}
