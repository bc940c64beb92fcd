package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	taorunner "github.com/oat-sa/tao-offline-runner"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of taorunner",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taorunner version %s\n", strings.TrimSpace(taorunner.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
