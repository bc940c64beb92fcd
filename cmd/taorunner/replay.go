package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oat-sa/tao-offline-runner/internal/cli"
	adapterhttp "github.com/oat-sa/tao-offline-runner/pkg/adapters/http"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
	"github.com/oat-sa/tao-offline-runner/pkg/ports"
)

var replayCmd = &cobra.Command{
	Use:   "replay <export-file>",
	Short: "Replay an exported queue against the delivery server",
	Long: `Replay sends a previously exported batch of offline actions to the
configured server, in their original order. Actions the server already
applied are reported as conflicts and need no further attention.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			cli.Errorf("%v", err)
			os.Exit(1)
		}
		if cfg.ServerURL == "" {
			cli.Errorf("serverUrl must be configured to replay")
			os.Exit(1)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			cli.Errorf("reading export: %v", err)
			os.Exit(1)
		}
		var batch domain.SyncBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			cli.Errorf("parsing export: %v", err)
			os.Exit(1)
		}
		if len(batch.Actions) == 0 {
			fmt.Println("The export contains no actions.")
			return
		}

		opts := []adapterhttp.Option{}
		for k, v := range cfg.Headers {
			opts = append(opts, adapterhttp.WithHeader(k, v))
		}
		transport := adapterhttp.New(cfg.ServerURL, opts...)

		res, err := transport.Send(cmd.Context(), ports.EndpointSync, batch)
		if err != nil {
			cli.Errorf("replay failed: %v", err)
			os.Exit(1)
		}
		if !res.Success {
			cli.Errorf("server rejected the batch: %s", res.Message)
			os.Exit(1)
		}

		applied, conflicts := 0, 0
		for _, result := range res.Results {
			if result.Conflict() {
				conflicts++
				fmt.Printf("- %s: already applied on the server\n", result.ActionID)
				continue
			}
			applied++
		}
		fmt.Printf("Replayed %d action(s): %d applied, %d conflict(s)\n",
			len(batch.Actions), applied, conflicts)
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
