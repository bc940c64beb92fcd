package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oat-sa/tao-offline-runner/internal/cli"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export the pending queue of a session for manual replay",
	Long: `Export writes the undelivered actions of a session to a JSON file.
The file can be carried to a connected machine and replayed with
"taorunner replay". The queue itself is left in place.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			cli.Errorf("%v", err)
			os.Exit(1)
		}

		backend, err := cli.BuildBackend(cfg, args[0])
		if err != nil {
			cli.Errorf("%v", err)
			os.Exit(1)
		}
		defer backend.Close() //nolint:errcheck

		pending, err := backend.Actions.List(cmd.Context())
		if err != nil {
			cli.Errorf("reading queue: %v", err)
			os.Exit(1)
		}
		if len(pending) == 0 {
			fmt.Println("Nothing to export: the queue is empty.")
			return
		}

		batch := domain.SyncBatch{
			ID:        uuid.NewString(),
			SessionID: args[0],
			Actions:   pending,
		}
		payload, err := json.MarshalIndent(batch, "", "  ")
		if err != nil {
			cli.Errorf("serializing queue: %v", err)
			os.Exit(1)
		}

		name := fmt.Sprintf("offline-queue-%s-%d.json", args[0], time.Now().Unix())
		path, err := backend.Exporter.Export(cmd.Context(), name, payload)
		if err != nil {
			cli.Errorf("writing export: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Exported %d action(s) to %s\n", len(pending), path)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
