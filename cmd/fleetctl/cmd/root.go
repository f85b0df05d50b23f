package cmd

import (
	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
	client       *apiClient
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Operator CLI for the agent fleet control plane",
	Long: `fleetctl talks to a running fleetd control plane over HTTP.

Examples:
  fleetctl status
  fleetctl task add --title "Add README" --priority 2
  fleetctl task list --status QUEUED
  fleetctl queue
  fleetctl runner register --name worker-1 --working-dir /repo`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = newAPIClient(serverURL)
	},
}

// Execute runs the CLI and returns the first error encountered. main()
// inspects the error's type to choose an exit code (§6.4: 0 ok, 1 user
// error, 2 connection failure).
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the fleetd control plane")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")
}
