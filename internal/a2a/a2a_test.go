package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/mesh/internal/command"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/skill"
	"github.com/nidhogg/mesh/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDeps(t *testing.T) Deps {
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

	return Deps{Agents: reg, Delegator: dl, Workflows: engine, Commands: cmds, Content: content, Skills: skills.Skills()}
}

func TestBuildCard(t *testing.T) {
	deps := testDeps(t)
	card := BuildCard(DefaultCardConfig("http://localhost:8080/a2a"), deps.Skills)
	assert.Equal(t, "mesh_agent", card.Name)
	assert.Equal(t, "0.3.0", card.ProtocolVersion)
	assert.Equal(t, sdk.TransportProtocolJSONRPC, card.PreferredTransport)
	require.Len(t, card.Skills, 4)
	assert.Equal(t, "agent_collaboration", card.Skills[0].ID)
}

func TestMatchSkills(t *testing.T) {
	deps := testDeps(t)
	got := MatchSkills(deps.Skills, "please search my contacts database")
	require.NotEmpty(t, got)
	assert.Equal(t, "contact_management", got[0].ID)
	assert.Empty(t, MatchSkills(deps.Skills, "xyzzy"))
}

func TestParseMessage(t *testing.T) {
	msg := sdk.NewMessage(sdk.MessageRoleUser,
		sdk.TextPart{Text: "hello"},
		sdk.DataPart{Data: map[string]any{"workflow": "email_composition"}},
		sdk.TextPart{Text: "world"},
	)
	in := parseMessage(msg)
	assert.Equal(t, "hello\nworld", in.text)
	assert.Equal(t, "email_composition", in.data["workflow"])
}

func sendMessage(t *testing.T, s *Server, parts ...sdk.Part) *sdk.Task {
	t.Helper()
	res, err := s.Handler().OnSendMessage(context.Background(), &sdk.MessageSendParams{
		Message: sdk.NewMessage(sdk.MessageRoleUser, parts...),
	})
	require.NoError(t, err)
	task, ok := res.(*sdk.Task)
	require.True(t, ok, "expected a task, got %T", res)
	return task
}

func artifactText(t *testing.T, task *sdk.Task) string {
	t.Helper()
	require.NotEmpty(t, task.Artifacts)
	for _, p := range task.Artifacts[0].Parts {
		switch tp := p.(type) {
		case sdk.TextPart:
			return tp.Text
		case *sdk.TextPart:
			return tp.Text
		}
	}
	t.Fatal("artifact has no text part")
	return ""
}

func TestExecutorCommand(t *testing.T) {
	s := NewServer(testDeps(t), DefaultCardConfig(""), nil, zap.NewNop())
	task := sendMessage(t, s, sdk.TextPart{Text: "/agents grammar_check"})
	assert.Equal(t, sdk.TaskStateCompleted, task.Status.State)
	assert.Contains(t, artifactText(t, task), "GrammarBot")
}

func TestExecutorFreeText(t *testing.T) {
	s := NewServer(testDeps(t), DefaultCardConfig(""), nil, zap.NewNop())
	task := sendMessage(t, s, sdk.TextPart{Text: "what can you do?"})
	assert.Equal(t, sdk.TaskStateCompleted, task.Status.State)
	assert.Contains(t, artifactText(t, task), "I'm MESH")
}

func TestExecutorDelegation(t *testing.T) {
	s := NewServer(testDeps(t), DefaultCardConfig(""), nil, zap.NewNop())
	task := sendMessage(t, s, sdk.DataPart{Data: map[string]any{
		"task_type":    "grammar_check",
		"target_agent": "GrammarBot",
		"task_data":    map[string]any{"text": "i agree"},
	}})
	assert.Equal(t, sdk.TaskStateCompleted, task.Status.State)
	assert.Equal(t, "Task grammar_check completed by GrammarBot", artifactText(t, task))

	task = sendMessage(t, s, sdk.DataPart{Data: map[string]any{
		"task_type":    "grammar_check",
		"target_agent": "Nobody",
	}})
	assert.Equal(t, sdk.TaskStateFailed, task.Status.State)
}

func TestExecutorWorkflow(t *testing.T) {
	s := NewServer(testDeps(t), DefaultCardConfig(""), nil, zap.NewNop())
	task := sendMessage(t, s, sdk.DataPart{Data: map[string]any{
		"workflow": "contact_intelligence",
		"input":    map[string]any{"name": "Sarah Chen", "email": "sarah@innovateai.tech"},
	}})
	assert.Equal(t, sdk.TaskStateCompleted, task.Status.State)

	task = sendMessage(t, s, sdk.DataPart{Data: map[string]any{"workflow": "nope"}})
	assert.Equal(t, sdk.TaskStateFailed, task.Status.State)
}

func rpcCall(t *testing.T, h http.Handler, method string, params any) rpcResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/a2a/rpc", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewServer(testDeps(t), DefaultCardConfig("http://localhost:8080/a2a"), nil, zap.NewNop()).Mount(r)
	return r
}

func TestAgentCardServed(t *testing.T) {
	h := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, a2asrv.WellKnownAgentCardPath, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var card map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
	assert.Equal(t, "mesh_agent", card["name"])
}

func TestRPCMethodTable(t *testing.T) {
	h := newRouter(t)

	resp := rpcCall(t, h, "methods", nil)
	require.Nil(t, resp.Error)
	methods := resp.Result.(map[string]any)["methods"].(map[string]any)
	assert.Len(t, methods, 13)

	resp = rpcCall(t, h, "initialize", map[string]any{"client_info": map[string]any{"name": "inspector"}})
	require.Nil(t, resp.Error)
	assert.Equal(t, "success", resp.Result.(map[string]any)["status"])

	resp = rpcCall(t, h, "teleport", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found: teleport", resp.Error.Message)
}

func TestRPCDelegateAndCollaborate(t *testing.T) {
	h := newRouter(t)

	resp := rpcCall(t, h, "delegate_task", map[string]any{
		"task_type":    "crm_lookup",
		"target_agent": "CRMConnector",
		"task_data":    map[string]any{"email": "sarah@innovateai.tech"},
		"priority":     "high",
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, "completed", resp.Result.(map[string]any)["status"])

	resp = rpcCall(t, h, "delegate_task", map[string]any{"task_type": "crm_lookup"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = rpcCall(t, h, "delegate_task", map[string]any{"task_type": "x", "target_agent": "CRMConnector", "priority": "asap"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = rpcCall(t, h, "collaborate", map[string]any{
		"collaboration_type":  "email_review",
		"partner_agent":       "EmailBot",
		"collaboration_goals": []string{"tone"},
	})
	require.Nil(t, resp.Error)
	res := resp.Result.(map[string]any)
	assert.Equal(t, "active", res["status"])
	assert.Contains(t, res["shared_workspace"], "workspace_collab_")
}

func TestRPCWorkflowLifecycle(t *testing.T) {
	h := newRouter(t)

	resp := rpcCall(t, h, "create_workflow", map[string]any{"template_name": "email_composition", "input_data": map[string]any{"recipient": "x"}})
	require.Nil(t, resp.Error)
	id := resp.Result.(map[string]any)["workflow_id"].(string)

	resp = rpcCall(t, h, "execute_workflow", map[string]any{"workflow_id": id})
	require.Nil(t, resp.Error)
	assert.Equal(t, "completed", resp.Result.(map[string]any)["status"])

	resp = rpcCall(t, h, "get_workflow_status", map[string]any{"workflow_id": id})
	require.Nil(t, resp.Error)
	assert.Equal(t, "completed", resp.Result.(map[string]any)["status"])

	resp = rpcCall(t, h, "list_workflows", nil)
	require.Nil(t, resp.Error)
	assert.Len(t, resp.Result.(map[string]any)["workflows"], 1)

	resp = rpcCall(t, h, "create_workflow", map[string]any{"template_name": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = rpcCall(t, h, "execute_workflow", map[string]any{"workflow_id": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRPCContentMethods(t *testing.T) {
	h := newRouter(t)

	resp := rpcCall(t, h, "get_contact_info", map[string]any{"query": "marcus"})
	require.Nil(t, resp.Error)
	assert.EqualValues(t, 1, resp.Result.(map[string]any)["count"])

	resp = rpcCall(t, h, "write_email_draft", map[string]any{"recipient_email": "a@b.c", "context": "networking"})
	require.Nil(t, resp.Error)
	assert.Equal(t, "draft_created", resp.Result.(map[string]any)["status"])

	resp = rpcCall(t, h, "write_email_draft", map[string]any{})
	require.NotNil(t, resp.Error)

	resp = rpcCall(t, h, "discover_agents", map[string]any{"max_results": -1})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRPCParseError(t *testing.T) {
	h := newRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/a2a/rpc", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseError, resp.Error.Code)
}
