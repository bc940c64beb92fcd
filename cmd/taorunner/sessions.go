package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oat-sa/tao-offline-runner/internal/cli"
	"github.com/oat-sa/tao-offline-runner/internal/config"
	"github.com/oat-sa/tao-offline-runner/pkg/adapters/file"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage persisted offline sessions",
	Long:  `List, inspect, and remove the local state of test sessions: cached items and pending action queues.`,
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions with persisted state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			cli.Errorf("%v", err)
			os.Exit(1)
		}

		sessions, err := file.Sessions(cli.SessionsRoot(cfg))
		if err != nil {
			cli.Errorf("listing sessions: %v", err)
			os.Exit(1)
		}
		if len(sessions) == 0 {
			fmt.Println("No persisted sessions found.")
			return
		}

		for _, id := range sessions {
			backend, err := cli.BuildBackend(cfg, id)
			if err != nil {
				cli.Errorf("%v", err)
				os.Exit(1)
			}
			pending, err := backend.Actions.Len(cmd.Context())
			if err != nil {
				cli.Errorf("reading queue of %q: %v", id, err)
				os.Exit(1)
			}
			cached, err := backend.Items.Len(cmd.Context())
			if err != nil {
				cli.Errorf("reading cache of %q: %v", id, err)
				os.Exit(1)
			}
			fmt.Printf("- %s (%d pending, %d cached)\n", id, pending, cached)
			_ = backend.Close()
		}
	},
}

var sessionsInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the queue and cache of a session",
	Args:  cobra.ExactArgs(1),
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

		var doc strings.Builder
		fmt.Fprintf(&doc, "# Session %s\n\n", args[0])
		fmt.Fprintf(&doc, "## Pending actions (%d)\n\n", len(pending))
		if len(pending) == 0 {
			doc.WriteString("The queue is empty.\n")
		} else {
			doc.WriteString("| # | Action | Queued at | Offline |\n")
			doc.WriteString("|---|--------|-----------|--------|\n")
			for i, a := range pending {
				fmt.Fprintf(&doc, "| %d | %s | %s | %v |\n",
					i+1, a.Action, a.Timestamp.Format("2006-01-02 15:04:05"), a.Offline)
			}
		}

		cached, err := backend.Items.Len(cmd.Context())
		if err != nil {
			cli.Errorf("reading cache: %v", err)
			os.Exit(1)
		}
		fmt.Fprintf(&doc, "\n## Cache\n\n%d item(s) cached.\n", cached)

		fmt.Print(cli.Markdown(doc.String()))
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove the local state of one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			cli.Errorf("%v", err)
			os.Exit(1)
		}

		hasError := false
		for _, id := range args {
			if err := removeSession(cmd, cfg, id); err != nil {
				cli.Errorf("removing %q: %v", id, err)
				hasError = true
				continue
			}
			fmt.Printf("Removed session '%s'\n", id)
		}
		if hasError {
			os.Exit(1)
		}
	},
}

func removeSession(cmd *cobra.Command, cfg config.Config, id string) error {
	if cfg.Backend == "file" {
		return os.RemoveAll(filepath.Join(cli.SessionsRoot(cfg), id))
	}

	backend, err := cli.BuildBackend(cfg, id)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck

	if err := backend.Items.Clear(cmd.Context()); err != nil {
		return err
	}
	// Draining the queue discards its entries.
	_, err = backend.Actions.Flush(cmd.Context())
	return err
}

func init() {
	sessionsCmd.AddCommand(sessionsLsCmd)
	sessionsCmd.AddCommand(sessionsInspectCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
	rootCmd.AddCommand(sessionsCmd)
}
