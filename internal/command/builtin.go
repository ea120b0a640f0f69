package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/workflow"
)

// ---------------------------------------------------------------------------
// Interfaces — kept narrow so tests can stub the core services.
// ---------------------------------------------------------------------------

// AgentDirectory answers agent queries. *registry.Registry satisfies it.
type AgentDirectory interface {
	ListAvailable(capability string) []registry.Agent
	GetStatus(name string) (registry.StatusSnapshot, bool)
}

// Delegator runs a task on a named agent. *delegation.Delegator satisfies it.
type Delegator interface {
	Delegate(ctx context.Context, req delegation.Request) (*delegation.Result, error)
}

// Workflows creates and runs workflows. *workflow.Engine satisfies it.
type Workflows interface {
	Templates() []workflow.TemplateInfo
	Create(req workflow.CreateRequest) (string, error)
	Execute(ctx context.Context, id string) (*workflow.Result, error)
	Status(id string) (workflow.Snapshot, bool)
}

// RegisterBuiltins registers /help, /agents, /status, /delegate, /workflows,
// /run and /workflow.
func RegisterBuiltins(reg *Registry, agents AgentDirectory, delegator Delegator, flows Workflows) {
	reg.Register(helpCommand(reg))
	reg.Register(agentsCommand(agents))
	reg.Register(statusCommand(agents))
	reg.Register(delegateCommand(delegator))
	reg.Register(workflowsCommand(flows))
	reg.Register(runCommand(flows))
	reg.Register(workflowCommand(flows))
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /agents, /status
// ---------------------------------------------------------------------------

func agentsCommand(dir AgentDirectory) *Command {
	return &Command{
		Name:        "agents",
		Description: "List online agents, optionally by capability",
		Usage:       "/agents [capability]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			agents := dir.ListAvailable(strings.TrimSpace(args))
			if len(agents) == 0 {
				return &CommandResult{Content: "No agents available."}, nil
			}
			var b strings.Builder
			b.WriteString("Available agents:\n")
			for _, a := range agents {
				fmt.Fprintf(&b, "  %s v%s: %s\n", a.Name, a.Version, strings.Join(a.Capabilities, ", "))
			}
			return &CommandResult{Content: b.String(), Data: agents}, nil
		},
	}
}

func statusCommand(dir AgentDirectory) *Command {
	return &Command{
		Name:        "status",
		Description: "Show an agent's health",
		Usage:       "/status <agent>",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			name := strings.TrimSpace(args)
			if name == "" {
				return &CommandResult{Content: "Usage: /status <agent>"}, nil
			}
			st, ok := dir.GetStatus(name)
			if !ok {
				return &CommandResult{Content: fmt.Sprintf("Agent %q not found.", name)}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%s is %s\n  Endpoint: %s\n  Failures: %d", st.Name, st.Status, st.Endpoint, st.Failures)
			if st.ResponseTimeMS != nil {
				fmt.Fprintf(&b, "\n  Response time: %dms", *st.ResponseTimeMS)
			}
			if !st.LastSeen.IsZero() {
				fmt.Fprintf(&b, "\n  Last seen: %s", st.LastSeen.Format("2006-01-02 15:04:05"))
			}
			return &CommandResult{Content: b.String(), Data: st}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /delegate
// ---------------------------------------------------------------------------

func delegateCommand(d Delegator) *Command {
	const usage = "Usage: /delegate <agent> <task_type> [json task data]"
	return &Command{
		Name:        "delegate",
		Description: "Delegate a task to an agent and wait for the result",
		Usage:       "/delegate <agent> <task_type> [json]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.SplitN(strings.TrimSpace(args), " ", 3)
			if len(parts) < 2 {
				return &CommandResult{Content: usage}, nil
			}
			var payload map[string]any
			if len(parts) == 3 {
				var err error
				if payload, err = parseJSON(parts[2]); err != nil {
					return &CommandResult{Content: err.Error()}, nil
				}
			}
			res, err := d.Delegate(ctx, delegation.Request{
				TargetAgent: parts[0],
				TaskType:    parts[1],
				Payload:     payload,
			})
			if err != nil {
				return nil, err
			}
			if res.Status != delegation.StatusCompleted {
				return &CommandResult{Content: fmt.Sprintf("Delegation %s: %s", res.Status, res.Error), Data: res}, nil
			}
			content := fmt.Sprintf("Delegation %s completed by %s.", res.DelegationID, res.TargetAgent)
			if msg, ok := res.Result["result_data"].(string); ok {
				content += "\n" + msg
			}
			return &CommandResult{Content: content, Data: res}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /workflows, /run, /workflow
// ---------------------------------------------------------------------------

func workflowsCommand(flows Workflows) *Command {
	return &Command{
		Name:        "workflows",
		Description: "List workflow templates",
		Usage:       "/workflows",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			ts := flows.Templates()
			if len(ts) == 0 {
				return &CommandResult{Content: "No workflow templates."}, nil
			}
			var b strings.Builder
			b.WriteString("Workflow templates:\n")
			for _, t := range ts {
				fmt.Fprintf(&b, "  %s: %s (%d steps)\n", t.Name, t.DisplayName, t.StepCount)
			}
			return &CommandResult{Content: b.String(), Data: ts}, nil
		},
	}
}

func runCommand(flows Workflows) *Command {
	return &Command{
		Name:        "run",
		Description: "Create and execute a workflow",
		Usage:       "/run <template> [json input]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
			if parts[0] == "" {
				return &CommandResult{Content: "Usage: /run <template> [json input]"}, nil
			}
			var input map[string]any
			if len(parts) == 2 {
				var err error
				if input, err = parseJSON(parts[1]); err != nil {
					return &CommandResult{Content: err.Error()}, nil
				}
			}
			id, err := flows.Create(workflow.CreateRequest{Template: parts[0], Input: input})
			if err != nil {
				return &CommandResult{Content: err.Error()}, nil
			}
			res, err := flows.Execute(ctx, id)
			if err != nil {
				return nil, err
			}
			content := fmt.Sprintf("Workflow %s %s.", id, res.Status)
			if res.Error != "" {
				content += "\n" + res.Error
			}
			return &CommandResult{Content: content, Data: res}, nil
		},
	}
}

func workflowCommand(flows Workflows) *Command {
	return &Command{
		Name:        "workflow",
		Description: "Show a workflow's progress",
		Usage:       "/workflow <id>",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			id := strings.TrimSpace(args)
			if id == "" {
				return &CommandResult{Content: "Usage: /workflow <id>"}, nil
			}
			snap, ok := flows.Status(id)
			if !ok {
				return &CommandResult{Content: fmt.Sprintf("Workflow %q not found.", id)}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%s (%s): %s\n", snap.Name, snap.ID, snap.Status)
			for _, s := range snap.Steps {
				fmt.Fprintf(&b, "  %s %s: %s\n", s.ID, s.Name, s.Status)
			}
			return &CommandResult{Content: b.String(), Data: snap}, nil
		},
	}
}

func parseJSON(raw string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	return m, nil
}
