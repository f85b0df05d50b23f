package mcpserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/agent"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/llm"
)

func TestToMCPTool_DecodesEveryCatalogSchema(t *testing.T) {
	for _, def := range agent.Catalog() {
		tool, err := toMCPTool(def)
		require.NoError(t, err, def.Name)
		assert.Equal(t, def.Name, tool.Name)
		assert.Equal(t, def.Description, tool.Description)
		assert.NotNil(t, tool.InputSchema)
	}
}

func TestToMCPTool_RejectsMalformedSchema(t *testing.T) {
	_, err := toMCPTool(llm.ToolDefinition{Name: "bad", ParametersSchema: "{not json"})
	assert.Error(t, err)
}

func TestNew_RegistersAllCatalogTools(t *testing.T) {
	exec := agent.NewToolExecutor(t.TempDir(), "agent-1", "task-1", nil)
	server, err := New(exec)
	require.NoError(t, err)
	require.NotNil(t, server)
}

func TestToMCPTool_InputSchemaRoundTripsRequiredFields(t *testing.T) {
	def := llm.ToolDefinition{
		Name:             "read_file",
		Description:      "Read the contents of a file.",
		ParametersSchema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	}
	tool, err := toMCPTool(def)
	require.NoError(t, err)

	raw, err := json.Marshal(tool.InputSchema)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []any{"path"}, decoded["required"])
}
