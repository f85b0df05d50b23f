package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show control-plane liveness and queue/lock counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	h, err := client.Health(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		data, err := json.MarshalIndent(h, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	statusText := h.Status
	if h.Status == "healthy" {
		statusText = styleCompleted.Render(h.Status)
	} else {
		statusText = styleFailed.Render(h.Status)
	}
	fmt.Printf("%s %s\n", styleHeader.Render("Status:"), statusText)
	fmt.Printf("%s %d\n", styleSubtle.Render("Queued tasks:"), h.QueuedTasks)
	fmt.Printf("%s %d\n", styleSubtle.Render("Active locks:"), h.ActiveLocks)
	return nil
}
