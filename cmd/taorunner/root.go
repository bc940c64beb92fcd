package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oat-sa/tao-offline-runner/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "taorunner",
	Short: "taorunner inspects and replays offline test-delivery sessions",
	Long: `taorunner manages the local state of offline-resilient QTI test
sessions: the cached items, the pending action queues, and the exported
batches waiting for manual replay.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "taorunner.yaml", "Path to the runner configuration file")
}

// loadConfig reads the configuration selected by the --config flag.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
