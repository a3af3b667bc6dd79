// Command agentdeskd runs the agentdesk daemon: it serves the HTTP/
// WebSocket surface over a local SQLite store, watches a journal
// directory tree for the coding-assistant CLI's append-only session
// files, and supervises the CLI subprocess per active conversation.
//
// Grounded on vanducng-goclaw's cmd/root.go (cobra root command, single
// Run func, --config flag, GOCLAW_CONFIG env fallback).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentdeskd",
	Short: "agentdesk daemon — web UI over a local coding-assistant CLI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(resolveConfigPath())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: agentdesk.json5 or $AGENTDESK_CONFIG)")
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("AGENTDESK_CONFIG"); v != "" {
		return v
	}
	return "agentdesk.json5"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
