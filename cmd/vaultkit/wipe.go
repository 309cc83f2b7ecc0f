package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/painjournal/vaultkit/pkg/wipe"

	"github.com/spf13/cobra"
)

var (
	clearScope  string
	clearWindow time.Duration
	wipeForce   bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear vault data after a cancelable grace window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		var prefixes []string
		switch clearScope {
		case "records":
			prefixes = wipe.ScopeRecords()
		case "all":
			prefixes = wipe.ScopeAll()
		default:
			return fmt.Errorf("invalid scope %q: must be 'records' or 'all'", clearScope)
		}

		window := clearWindow
		if window == 0 {
			window = cfg.CancelWindow()
		}

		pc := ctl.Wiper().ScheduleBufferedClear(prefixes, window)
		fmt.Printf("Clearing scope '%s' in %s. Press Enter to cancel.\n", clearScope, window)

		go func() {
			_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
			if pc.Cancel() {
				fmt.Println("Clear canceled")
			}
		}()

		report := pc.Wait()
		if pc.Canceled() {
			return nil
		}
		printWipeReport(report)
		return nil
	},
}

var panicWipeCmd = &cobra.Command{
	Use:   "panic-wipe",
	Short: "Immediately destroy all vault data on every surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeForce {
			fmt.Println("This will permanently destroy ALL vault data, including keys.")
			if !confirmPrompt("Are you sure?") {
				fmt.Println("Aborted")
				return nil
			}
		}

		report := ctl.TriggerEmergencyWipe("user panic action")
		if report.AlreadyWiped {
			fmt.Println("Vault was already wiped")
			return nil
		}
		printWipeReport(report)
		if !report.Complete() {
			return fmt.Errorf("wipe incomplete: one or more surfaces failed")
		}
		return nil
	},
}

func printWipeReport(report *wipe.Report) {
	if report == nil {
		return
	}
	for _, sr := range report.PerSurface {
		if sr.Cleared {
			fmt.Printf("  %-8s cleared\n", sr.Surface)
		} else {
			fmt.Printf("  %-8s FAILED: %s\n", sr.Surface, sr.Error)
		}
	}
}

func init() {
	clearCmd.Flags().StringVar(&clearScope, "scope", "records", "what to clear: 'records' or 'all'")
	clearCmd.Flags().DurationVar(&clearWindow, "window", 0, "cancel grace window (default from config)")
	panicWipeCmd.Flags().BoolVar(&wipeForce, "force", false, "skip the confirmation prompt")

	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(panicWipeCmd)
}
