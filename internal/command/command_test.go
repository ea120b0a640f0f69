package command

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/workflow"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Source: "test"}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "Unknown command: /unknown") {
		t.Errorf("got %q", result.Content)
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in, name, args string
	}{
		{"/delegate GrammarBot grammar_check {\"text\": \"hi\"}", "delegate", `GrammarBot grammar_check {"text": "hi"}`},
		{"  /Agents  ", "agents", ""},
		{"/run   email_composition", "run", "email_composition"},
		{"/", "", ""},
	}
	for _, c := range cases {
		name, args := Parse(c.in)
		if name != c.name || args != c.args {
			t.Errorf("Parse(%q) = %q, %q", c.in, name, args)
		}
	}
}

func TestDispatchHints(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "workflows", Handler: func(context.Context, string, *CommandContext) (*CommandResult, error) {
		return &CommandResult{Content: "ok"}, nil
	}})

	res, _ := reg.Dispatch(context.Background(), "/", nil)
	if res.Content != "Type /help for available commands." {
		t.Errorf("empty command: %q", res.Content)
	}
	res, _ = reg.Dispatch(context.Background(), "/workflow", nil)
	if !strings.Contains(res.Content, "Did you mean /workflows?") {
		t.Errorf("no suggestion: %q", res.Content)
	}
	res, _ = reg.Dispatch(context.Background(), "/WORKFLOWS", nil)
	if res.Content != "ok" {
		t.Errorf("names should be case-insensitive: %q", res.Content)
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

func TestReply(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Can you draft an email template?", emailTemplatesReply},
		{"write something professional", professionalEmailReply},
		{"compose a note", emailReply},
		{"find Sarah", contactReply},
		{"I need a 3-way introduction", introductionReply},
		{"grow my network", networkingReply},
		{"run a workflow", collaborationReply},
		{"what can you do?", helpReply},
	}
	for _, c := range cases {
		if got := Reply(c.in); got != c.want {
			t.Errorf("Reply(%q) = %q", c.in, got[:min(len(got), 40)])
		}
	}

	got := Reply("weather today")
	if !strings.Contains(got, "I understand you're asking about: 'weather today'") {
		t.Errorf("fallback = %q", got)
	}
}

func TestRespond(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "ping", Handler: func(context.Context, string, *CommandContext) (*CommandResult, error) {
		return &CommandResult{Content: "pong"}, nil
	}})

	res, err := reg.Respond(context.Background(), "  /ping", nil)
	if err != nil || res.Content != "pong" {
		t.Fatalf("got %v, %v", res, err)
	}
	res, err = reg.Respond(context.Background(), "help", nil)
	if err != nil || res.Content != helpReply {
		t.Fatalf("got %v, %v", res, err)
	}
}

// --- stubs for the builtin commands ---

type stubAgents struct{ agents []registry.Agent }

func (s stubAgents) ListAvailable(capability string) []registry.Agent {
	var out []registry.Agent
	for _, a := range s.agents {
		if capability == "" || a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out
}

func (s stubAgents) GetStatus(name string) (registry.StatusSnapshot, bool) {
	for _, a := range s.agents {
		if a.Name == name {
			return registry.StatusSnapshot{Name: a.Name, Status: a.Status, Endpoint: a.Endpoint}, true
		}
	}
	return registry.StatusSnapshot{}, false
}

type stubDelegator struct{ last delegation.Request }

func (s *stubDelegator) Delegate(_ context.Context, req delegation.Request) (*delegation.Result, error) {
	s.last = req
	if req.TargetAgent == "Ghost" {
		return &delegation.Result{Status: delegation.StatusFailed, Error: "target agent 'Ghost' not found"}, nil
	}
	return &delegation.Result{
		DelegationID: "del-1",
		Status:       delegation.StatusCompleted,
		TargetAgent:  req.TargetAgent,
		Result:       map[string]any{"result_data": "done"},
	}, nil
}

type stubFlows struct{ created workflow.CreateRequest }

func (s *stubFlows) Templates() []workflow.TemplateInfo {
	return []workflow.TemplateInfo{{Name: "email_composition", DisplayName: "Intelligent Email Composition", StepCount: 3}}
}

func (s *stubFlows) Create(req workflow.CreateRequest) (string, error) {
	if req.Template != "email_composition" {
		return "", errors.New("unknown workflow template: " + req.Template)
	}
	s.created = req
	return "workflow_1", nil
}

func (s *stubFlows) Execute(context.Context, string) (*workflow.Result, error) {
	return &workflow.Result{WorkflowID: "workflow_1", Status: workflow.StatusCompleted}, nil
}

func (s *stubFlows) Status(id string) (workflow.Snapshot, bool) {
	if id != "workflow_1" {
		return workflow.Snapshot{}, false
	}
	return workflow.Snapshot{ID: id, Name: "Intelligent Email Composition", Status: workflow.StatusCompleted,
		Steps: []workflow.StepState{{ID: "step_1", Name: "Initial Draft", Status: workflow.StatusCompleted}}}, true
}

func newBuiltins() (*Registry, *stubDelegator, *stubFlows) {
	reg := NewRegistry()
	d := &stubDelegator{}
	f := &stubFlows{}
	agents := stubAgents{agents: []registry.Agent{
		{Name: "EmailBot", Version: "1.0.0", Capabilities: []string{"email_management"}, Status: registry.StatusOnline, Endpoint: "https://emailbot.a2a.example.com"},
		{Name: "GrammarBot", Version: "1.2.0", Capabilities: []string{"grammar_check"}, Status: registry.StatusOnline},
	}}
	RegisterBuiltins(reg, agents, d, f)
	return reg, d, f
}

func dispatch(t *testing.T, reg *Registry, input string) *CommandResult {
	t.Helper()
	res, err := reg.Dispatch(context.Background(), input, &CommandContext{Source: "test"})
	if err != nil {
		t.Fatalf("%s: %v", input, err)
	}
	return res
}

func TestBuiltinHelpListsCommands(t *testing.T) {
	reg, _, _ := newBuiltins()
	res := dispatch(t, reg, "/help")
	for _, name := range []string{"/agents", "/delegate", "/run", "/status", "/workflow", "/workflows"} {
		if !strings.Contains(res.Content, name) {
			t.Errorf("help missing %s", name)
		}
	}
}

func TestBuiltinAgents(t *testing.T) {
	reg, _, _ := newBuiltins()
	res := dispatch(t, reg, "/agents")
	if !strings.Contains(res.Content, "EmailBot v1.0.0") || !strings.Contains(res.Content, "GrammarBot") {
		t.Errorf("got %q", res.Content)
	}
	res = dispatch(t, reg, "/agents grammar_check")
	if strings.Contains(res.Content, "EmailBot") {
		t.Errorf("filter ignored: %q", res.Content)
	}
	res = dispatch(t, reg, "/agents crm_integration")
	if res.Content != "No agents available." {
		t.Errorf("got %q", res.Content)
	}
}

func TestBuiltinStatus(t *testing.T) {
	reg, _, _ := newBuiltins()
	res := dispatch(t, reg, "/status EmailBot")
	if !strings.HasPrefix(res.Content, "EmailBot is online") {
		t.Errorf("got %q", res.Content)
	}
	if res := dispatch(t, reg, "/status Nobody"); !strings.Contains(res.Content, "not found") {
		t.Errorf("got %q", res.Content)
	}
	if res := dispatch(t, reg, "/status"); !strings.HasPrefix(res.Content, "Usage:") {
		t.Errorf("got %q", res.Content)
	}
}

func TestBuiltinDelegate(t *testing.T) {
	reg, d, _ := newBuiltins()
	res := dispatch(t, reg, `/delegate EmailBot email_draft {"recipient":"sarah@innovateai.tech"}`)
	if !strings.Contains(res.Content, "del-1 completed by EmailBot") {
		t.Errorf("got %q", res.Content)
	}
	if d.last.TaskType != "email_draft" || d.last.Payload["recipient"] != "sarah@innovateai.tech" {
		t.Errorf("request = %+v", d.last)
	}

	if res := dispatch(t, reg, "/delegate Ghost email_draft"); !strings.Contains(res.Content, "not found") {
		t.Errorf("got %q", res.Content)
	}
	if res := dispatch(t, reg, "/delegate EmailBot x {bad"); !strings.HasPrefix(res.Content, "invalid JSON") {
		t.Errorf("got %q", res.Content)
	}
	if res := dispatch(t, reg, "/delegate EmailBot"); !strings.HasPrefix(res.Content, "Usage:") {
		t.Errorf("got %q", res.Content)
	}
}

func TestBuiltinWorkflows(t *testing.T) {
	reg, _, f := newBuiltins()
	if res := dispatch(t, reg, "/workflows"); !strings.Contains(res.Content, "email_composition") {
		t.Errorf("got %q", res.Content)
	}

	res := dispatch(t, reg, `/run email_composition {"recipient":"x"}`)
	if res.Content != "Workflow workflow_1 completed." {
		t.Errorf("got %q", res.Content)
	}
	if f.created.Input["recipient"] != "x" {
		t.Errorf("input = %v", f.created.Input)
	}
	if res := dispatch(t, reg, "/run nope"); !strings.Contains(res.Content, "unknown workflow template") {
		t.Errorf("got %q", res.Content)
	}

	res = dispatch(t, reg, "/workflow workflow_1")
	if !strings.Contains(res.Content, "step_1 Initial Draft: completed") {
		t.Errorf("got %q", res.Content)
	}
	if res := dispatch(t, reg, "/workflow nope"); !strings.Contains(res.Content, "not found") {
		t.Errorf("got %q", res.Content)
	}
}

func TestBridgeCommands(t *testing.T) {
	reg, _, _ := newBuiltins()
	tools := BridgeCommands(reg, &CommandContext{Source: "mcp"})
	if len(tools) != 7 {
		t.Fatalf("got %d tools, want 7", len(tools))
	}
	var status BridgedTool
	for _, tool := range tools {
		if tool.Name == "cmd_status" {
			status = tool
		}
	}
	if status.Handler == nil {
		t.Fatal("cmd_status not bridged")
	}
	out, err := status.Handler(context.Background(), "EmailBot")
	if err != nil {
		t.Fatal(err)
	}
	var res CommandResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Content, "EmailBot is online") {
		t.Errorf("got %q", res.Content)
	}
}
