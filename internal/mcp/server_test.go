package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nidhogg/mesh/internal/command"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/skill"
	"github.com/nidhogg/mesh/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *delegation.Delegator, *workflow.Engine) {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.New(registry.NewStaticSource(registry.DefaultCatalog()...), nil, logger)
	_, err := reg.Discover(context.Background(), registry.Filter{})
	require.NoError(t, err)

	skills := skill.NewRegistry(false, logger)
	content := skill.DefaultContent()
	skill.RegisterBuiltins(skills, content)
	dl := delegation.New(reg, skills, logger)
	engine := workflow.NewEngine(dl, skills, logger)
	cmds := command.NewRegistry()
	command.RegisterBuiltins(cmds, reg, dl, engine)

	return New(Deps{Agents: reg, Delegator: dl, Workflows: engine, Content: content, Commands: cmds}, logger), dl, engine
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, text(t, res))
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &m))
	return m
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestToolsRegistered(t *testing.T) {
	s, _, _ := newTestServer(t)
	tools := s.MCPServer().ListTools()
	for _, name := range []string{
		"write_email_draft", "get_contact_info", "suggest_email_template",
		"discover_a2a_agents", "delegate_task", "execute_a2a_workflow", "get_workflow_status",
		"cmd_help", "cmd_agents",
	} {
		assert.Contains(t, tools, name)
	}
}

func TestWriteEmailDraft(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.writeEmailDraft(context.Background(), call(map[string]any{
		"recipient_email": "sarah@innovateai.tech",
		"subject":         "Intro",
		"body":            "Hello Sarah",
	}))
	require.NoError(t, err)
	m := decode(t, res)
	assert.Equal(t, "success", m["status"])
	assert.Equal(t, "Hello Sarah", m["body"])

	res, err = s.writeEmailDraft(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetContactInfo(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.getContactInfo(context.Background(), call(map[string]any{"name": "sarah"}))
	require.NoError(t, err)
	m := decode(t, res)
	assert.EqualValues(t, 1, m["count"])
	assert.Equal(t, "sarah", m["search_term"])

	res, err = s.getContactInfo(context.Background(), call(nil))
	require.NoError(t, err)
	m = decode(t, res)
	assert.EqualValues(t, 5, m["count"])
	assert.Nil(t, m["search_term"])
}

func TestSuggestEmailTemplate(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.suggestEmailTemplate(context.Background(), call(map[string]any{"context": "quick follow-up"}))
	require.NoError(t, err)
	m := decode(t, res)
	sug := m["suggested_template"].(map[string]any)
	assert.Equal(t, "email-examples://call-follow-up", sug["template"])
}

func TestDiscoverAgents(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.discoverAgents(context.Background(), call(map[string]any{"capability_filter": "grammar_check"}))
	require.NoError(t, err)
	m := decode(t, res)
	assert.EqualValues(t, 1, m["count"])

	res, err = s.discoverAgents(context.Background(), call(map[string]any{"max_results": -1}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDelegateTask(t *testing.T) {
	s, dl, _ := newTestServer(t)
	res, err := s.delegateTask(context.Background(), call(map[string]any{
		"target_agent": "GrammarBot",
		"task_type":    "grammar_check",
		"task_data":    `{"text":"i agree"}`,
	}))
	require.NoError(t, err)
	m := decode(t, res)
	assert.Equal(t, "completed", m["status"])
	assert.Len(t, dl.List(""), 1)

	res, err = s.delegateTask(context.Background(), call(map[string]any{
		"target_agent": "Nobody",
		"task_type":    "x",
	}))
	require.NoError(t, err)
	m = decode(t, res)
	assert.Equal(t, "failed", m["status"])
	assert.Contains(t, m["error"], "not found")

	res, err = s.delegateTask(context.Background(), call(map[string]any{
		"target_agent": "GrammarBot",
		"task_type":    "x",
		"task_data":    "{oops",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestExecuteWorkflowAndStatus(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.executeWorkflow(context.Background(), call(map[string]any{
		"workflow_type": "email_composition",
		"input_data":    `{"recipient":"x"}`,
	}))
	require.NoError(t, err)
	m := decode(t, res)
	assert.Equal(t, "completed", m["status"])
	id := m["workflow_id"].(string)

	res, err = s.workflowStatus(context.Background(), call(map[string]any{"workflow_id": id}))
	require.NoError(t, err)
	m = decode(t, res)
	assert.Equal(t, "completed", m["status"])

	res, err = s.workflowStatus(context.Background(), call(map[string]any{"workflow_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.executeWorkflow(context.Background(), call(map[string]any{"workflow_type": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMeshPrompt(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"user_name": "Ada", "user_title": "CTO"}
	res, err := s.meshPrompt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, tc.Text, "Ada (CTO)")

	req.Params.Arguments = map[string]string{"user_name": "Ada"}
	_, err = s.meshPrompt(context.Background(), req)
	assert.Error(t, err)
}

func TestResources(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := mcp.ReadResourceRequest{}
	req.Params.URI = "directory://all"
	out, err := s.directoryResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].(mcp.TextResourceContents).Text, "Name,Email,Url,Bio")

	req.Params.URI = "email-examples://3-way-intro"
	out, err = s.exampleResource("3-way-intro")(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, out[0].(mcp.TextResourceContents).Text)
}
