package cmd

import (
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List currently queued tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := client.ListTasks(cmd.Context(), "QUEUED", 0)
		if err != nil {
			return err
		}
		return printTaskTable(tasks)
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
}
