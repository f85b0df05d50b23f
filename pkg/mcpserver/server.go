// Package mcpserver exposes the runner-side tool catalog (pkg/agent) over
// the Model Context Protocol, so any standards-compliant MCP client gets
// the same sandboxing and dangerous-command blocking as the in-process
// Agent Runner Loop.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/agent"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/llm"
)

// New builds an MCP server registering every tool in agent.Catalog()
// against executor. executor is shared across all tool invocations on
// this server, so one server corresponds to one sandboxed working
// directory/agent/task — matching how the in-process loop scopes a
// ToolExecutor.
func New(executor *agent.ToolExecutor) (*mcpsdk.Server, error) {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "fleet-tools",
		Version: "1.0.0",
	}, nil)

	for _, def := range agent.Catalog() {
		tool, err := toMCPTool(def)
		if err != nil {
			return nil, fmt.Errorf("mcpserver: build tool %s: %w", def.Name, err)
		}
		server.AddTool(tool, toolHandler(executor, def.Name))
	}

	return server, nil
}

// toMCPTool decodes a ToolDefinition's JSON-schema string into the
// map[string]any form mcpsdk.Tool.InputSchema expects.
func toMCPTool(def llm.ToolDefinition) (*mcpsdk.Tool, error) {
	var schema map[string]any
	if err := json.Unmarshal([]byte(def.ParametersSchema), &schema); err != nil {
		return nil, err
	}
	return &mcpsdk.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schema,
	}, nil
}

// toolHandler adapts executor.Execute to the MCP CallTool signature. Tool
// execution errors are reported as IsError content, not returned as Go
// errors — an MCP client should see the same "it's in the conversation"
// failure shape the in-process loop gives the LLM (spec.md §4.4).
func toolHandler(executor *agent.ToolExecutor, name string) func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		argsJSON := string(req.Params.Arguments)
		result, err := executor.Execute(ctx, name, argsJSON)
		if err != nil {
			slog.Debug("mcp tool invocation rejected", "tool", name, "error", err)
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: result}},
		}, nil
	}
}

// ServeStdio runs server over stdio until the client disconnects or ctx is
// canceled — the transport an operator gets from `fleetctl mcp-serve`.
func ServeStdio(ctx context.Context, server *mcpsdk.Server) error {
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
