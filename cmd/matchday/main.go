package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "matchday",
	Short: "Offline-first caching gateway for the MUFC store",
	Long: `matchday fronts the storefront origin with an offline-first caching
layer: versioned cache partitions, per-resource caching strategies,
deferred action replay, and push notification handling.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cachesCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the matchday version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("matchday version %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
