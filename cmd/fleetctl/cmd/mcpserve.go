package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/agent"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/mcpserver"
)

var (
	mcpWorkingDir string
	mcpAgentID    string
	mcpTaskID     string
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Expose the runner-side tool catalog as an MCP server over stdio",
	RunE:  runMCPServe,
}

func init() {
	mcpServeCmd.Flags().StringVar(&mcpWorkingDir, "working-dir", "", "Sandbox directory tools operate in (required)")
	mcpServeCmd.Flags().StringVar(&mcpAgentID, "agent-id", "mcp-client", "Agent ID attributed to tool calls")
	mcpServeCmd.Flags().StringVar(&mcpTaskID, "task-id", "", "Task ID attributed to tool calls")
	_ = mcpServeCmd.MarkFlagRequired("working-dir")
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	executor := agent.NewToolExecutor(mcpWorkingDir, mcpAgentID, mcpTaskID, nil)
	server, err := mcpserver.New(executor)
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}
	return mcpserver.ServeStdio(cmd.Context(), server)
}
