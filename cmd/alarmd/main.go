package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "alarmd",
	Short: "alarmd - alarm dedup, suppression and notification pipeline",
	Long: `alarmd ingests alarms over HTTP, collapses duplicates, correlates
related alarms into incident groups, evaluates suppression rules and
maintenance windows, and dispatches notifications to subscribed
contact points with per-channel rate limiting and retries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newValidateRulesCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
