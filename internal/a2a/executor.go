package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/nidhogg/mesh/internal/command"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/skill"
	"github.com/nidhogg/mesh/internal/workflow"
	"go.uber.org/zap"
)

// Discoverer queries the agent network. *registry.Registry satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, f registry.Filter) (*registry.DiscoveryResult, error)
}

// Delegator runs and collaborates on tasks. *delegation.Delegator satisfies it.
type Delegator interface {
	command.Delegator
	Collaborate(ctx context.Context, req delegation.CollaborationRequest) *delegation.CollaborationResult
}

// Workflows runs workflows. *workflow.Engine satisfies it.
type Workflows interface {
	command.Workflows
	List() []workflow.Snapshot
}

// Deps are the core services behind the A2A front end.
type Deps struct {
	Agents    Discoverer
	Delegator Delegator
	Workflows Workflows
	Commands  *command.Registry
	Content   *skill.Content
	Skills    []*skill.Skill
}

// Executor implements a2asrv.AgentExecutor. A message is routed by its
// parts: a data part with task_type and target_agent is delegated, one with
// workflow runs that template, and text goes to the command responder.
type Executor struct {
	deps   Deps
	logger *zap.Logger
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)

// NewExecutor creates the executor.
func NewExecutor(deps Deps, logger *zap.Logger) *Executor {
	return &Executor{deps: deps, logger: logger}
}

// inbound is a message reduced to what the executor routes on.
type inbound struct {
	text string
	data map[string]any
}

func parseMessage(msg *sdk.Message) inbound {
	var in inbound
	var texts []string
	for _, p := range msg.Parts {
		switch v := p.(type) {
		case sdk.TextPart:
			texts = append(texts, v.Text)
		case *sdk.TextPart:
			texts = append(texts, v.Text)
		case sdk.DataPart:
			if in.data == nil {
				in.data = v.Data
			}
		case *sdk.DataPart:
			if in.data == nil {
				in.data = v.Data
			}
		}
	}
	in.text = strings.TrimSpace(strings.Join(texts, "\n"))
	return in
}

// outcome is what one routed message produced.
type outcome struct {
	text   string
	data   map[string]any
	failed bool
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		return errors.New("message not provided")
	}

	if reqCtx.StoredTask == nil {
		if err := queue.Write(ctx, sdk.NewStatusUpdateEvent(reqCtx, sdk.TaskStateSubmitted, nil)); err != nil {
			return fmt.Errorf("write submitted event: %w", err)
		}
	}
	if err := queue.Write(ctx, sdk.NewStatusUpdateEvent(reqCtx, sdk.TaskStateWorking, nil)); err != nil {
		return fmt.Errorf("write working event: %w", err)
	}

	in := parseMessage(msg)
	out, err := e.route(ctx, in, reqCtx.ContextID)
	if err != nil {
		e.logger.Warn("a2a message failed", zap.String("task", string(reqCtx.TaskID)), zap.Error(err))
		return queue.Write(ctx, failedEvent(reqCtx, err.Error()))
	}

	parts := []sdk.Part{sdk.TextPart{Text: out.text}}
	if out.data != nil {
		parts = append(parts, sdk.DataPart{Data: out.data})
	}
	artifact := sdk.NewArtifactEvent(reqCtx, parts...)
	if in.text != "" {
		if matched := MatchSkills(e.deps.Skills, in.text); len(matched) > 0 {
			artifact.Metadata = map[string]any{"skill": matched[0].ID}
		}
	}
	if err := queue.Write(ctx, artifact); err != nil {
		return fmt.Errorf("write artifact event: %w", err)
	}

	if out.failed {
		return queue.Write(ctx, failedEvent(reqCtx, out.text))
	}
	done := sdk.NewStatusUpdateEvent(reqCtx, sdk.TaskStateCompleted, nil)
	done.Final = true
	return queue.Write(ctx, done)
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	event := sdk.NewStatusUpdateEvent(reqCtx, sdk.TaskStateCanceled, nil)
	event.Final = true
	return queue.Write(ctx, event)
}

func failedEvent(reqCtx *a2asrv.RequestContext, reason string) *sdk.TaskStatusUpdateEvent {
	msg := sdk.NewMessageForTask(sdk.MessageRoleAgent, reqCtx, sdk.TextPart{Text: reason})
	ev := sdk.NewStatusUpdateEvent(reqCtx, sdk.TaskStateFailed, msg)
	ev.Final = true
	return ev
}

func (e *Executor) route(ctx context.Context, in inbound, contextID string) (*outcome, error) {
	switch {
	case in.data != nil && str(in.data, "task_type") != "" && str(in.data, "target_agent") != "":
		return e.delegate(ctx, in.data)
	case in.data != nil && str(in.data, "workflow") != "":
		return e.runWorkflow(ctx, in.data)
	case in.text != "":
		res, err := e.deps.Commands.Respond(ctx, in.text, &command.CommandContext{Source: "a2a", ContextID: contextID})
		if err != nil {
			return nil, err
		}
		return &outcome{text: res.Content}, nil
	default:
		return nil, errors.New("message has no text or recognised data part")
	}
}

func (e *Executor) delegate(ctx context.Context, data map[string]any) (*outcome, error) {
	prio, err := delegation.ParsePriority(str(data, "priority"))
	if err != nil {
		return nil, err
	}
	payload, _ := data["task_data"].(map[string]any)
	res, err := e.deps.Delegator.Delegate(ctx, delegation.Request{
		TaskType:    str(data, "task_type"),
		TargetAgent: str(data, "target_agent"),
		Payload:     payload,
		Priority:    prio,
	})
	if err != nil {
		return nil, err
	}
	out := &outcome{data: toMap(res)}
	if res.Status != delegation.StatusCompleted {
		out.failed = true
		out.text = res.Error
		return out, nil
	}
	out.text = fmt.Sprintf("Task %s completed by %s", res.TaskType, res.TargetAgent)
	return out, nil
}

func (e *Executor) runWorkflow(ctx context.Context, data map[string]any) (*outcome, error) {
	input, _ := data["input"].(map[string]any)
	id, err := e.deps.Workflows.Create(workflow.CreateRequest{Template: str(data, "workflow"), Input: input})
	if err != nil {
		return nil, err
	}
	res, err := e.deps.Workflows.Execute(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &outcome{data: toMap(res)}
	if res.Status != workflow.StatusCompleted {
		out.failed = true
		out.text = res.Error
		return out, nil
	}
	out.text = fmt.Sprintf("Workflow %s completed", id)
	return out, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// toMap converts a result struct to the generic form carried by data parts.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
