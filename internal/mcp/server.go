// Package mcp exposes MESH as a Model Context Protocol server: email and
// contact tools, agent discovery and delegation, workflows, the assistant
// prompt and the email example resources.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nidhogg/mesh/internal/command"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/skill"
	"github.com/nidhogg/mesh/internal/workflow"
	"go.uber.org/zap"
)

// Name and Version identify the server to MCP clients.
const (
	Name    = "MESH"
	Version = "1.0.0"
)

// Discoverer queries the agent network. *registry.Registry satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, f registry.Filter) (*registry.DiscoveryResult, error)
}

// Deps are the core services the tools call into.
type Deps struct {
	Agents    Discoverer
	Delegator command.Delegator
	Workflows command.Workflows
	Content   *skill.Content
	Commands  *command.Registry
}

// Server wraps an mcp-go server with the MESH tools registered.
type Server struct {
	mcp    *server.MCPServer
	deps   Deps
	logger *zap.Logger
}

// New builds the MCP server and registers every tool, prompt and resource.
func New(deps Deps, logger *zap.Logger) *Server {
	if deps.Content == nil {
		deps.Content = skill.DefaultContent()
	}
	s := &Server{
		mcp: server.NewMCPServer(Name, Version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithPromptCapabilities(false),
			server.WithRecovery(),
		),
		deps:   deps,
		logger: logger,
	}
	s.registerTools()
	s.registerPrompts()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// ServeStdio serves the stdio transport until stdin closes.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp serving on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("write_email_draft",
		mcp.WithDescription("Create an email draft for a recipient."),
		mcp.WithString("recipient_email", mcp.Required(), mcp.Description("Email address of the recipient")),
		mcp.WithString("subject", mcp.Description("Subject line")),
		mcp.WithString("body", mcp.Description("Body of the email")),
		mcp.WithString("context", mcp.Description("Purpose of the email, used when body is empty")),
	), s.writeEmailDraft)

	s.mcp.AddTool(mcp.NewTool("get_contact_info",
		mcp.WithDescription("Search the contact directory by name. Without a name every contact is returned."),
		mcp.WithString("name", mcp.Description("Name or part of a name")),
	), s.getContactInfo)

	s.mcp.AddTool(mcp.NewTool("suggest_email_template",
		mcp.WithDescription("Suggest an email template for a context such as introduction, follow-up or networking."),
		mcp.WithString("context", mcp.Required(), mcp.Description("Context of the email")),
	), s.suggestEmailTemplate)

	s.mcp.AddTool(mcp.NewTool("discover_a2a_agents",
		mcp.WithDescription("Discover agents in the network, optionally filtered by capability."),
		mcp.WithString("capability_filter", mcp.Description("Exact capability tag")),
		mcp.WithString("protocol_version", mcp.Description("Protocol tag the agent must speak")),
		mcp.WithNumber("max_results", mcp.Description("Maximum number of agents to return")),
	), s.discoverAgents)

	s.mcp.AddTool(mcp.NewTool("delegate_task",
		mcp.WithDescription("Delegate a task to a named agent and wait for the result."),
		mcp.WithString("target_agent", mcp.Required(), mcp.Description("Name of the agent")),
		mcp.WithString("task_type", mcp.Required(), mcp.Description("Task type, e.g. grammar_check")),
		mcp.WithString("task_data", mcp.Description("JSON object with the task input")),
		mcp.WithString("priority", mcp.Description("low, normal, high or urgent")),
	), s.delegateTask)

	s.mcp.AddTool(mcp.NewTool("execute_a2a_workflow",
		mcp.WithDescription("Create and run a workflow from a template."),
		mcp.WithString("workflow_type", mcp.Required(), mcp.Description("Template name, e.g. email_composition")),
		mcp.WithString("input_data", mcp.Description("JSON object with the workflow input")),
	), s.executeWorkflow)

	s.mcp.AddTool(mcp.NewTool("get_workflow_status",
		mcp.WithDescription("Show a workflow's status and step progress."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
	), s.workflowStatus)

	if s.deps.Commands != nil {
		for _, bt := range command.BridgeCommands(s.deps.Commands, &command.CommandContext{Source: "mcp"}) {
			h := bt.Handler
			s.mcp.AddTool(mcp.NewTool(bt.Name,
				mcp.WithDescription(bt.Description),
				mcp.WithString("args", mcp.Description("Command arguments (everything after the command name)")),
			), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				out, err := h(ctx, req.GetString("args", ""))
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return mcp.NewToolResultText(out), nil
			})
		}
	}
}

func (s *Server) writeEmailDraft(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipient, err := req.RequireString("recipient_email")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d := skill.ComposeDraft(recipient, req.GetString("subject", ""), req.GetString("body", ""), req.GetString("context", ""))
	s.logger.Info("email draft created", zap.String("to", d.To), zap.String("subject", d.Subject))
	return jsonResult(map[string]any{
		"status":    "success",
		"message":   "Email draft created",
		"recipient": d.To,
		"subject":   d.Subject,
		"body":      d.Body,
	})
}

func (s *Server) getContactInfo(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	contacts := s.deps.Content.Directory.Search(name)
	var term any
	if name != "" {
		term = name
	}
	return jsonResult(map[string]any{
		"contacts":    contacts,
		"count":       len(contacts),
		"search_term": term,
	})
}

func (s *Server) suggestEmailTemplate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(skill.SuggestTemplate(req.GetString("context", "")))
}

func (s *Server) discoverAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.deps.Agents.Discover(ctx, registry.Filter{
		Capability: req.GetString("capability_filter", ""),
		Protocol:   req.GetString("protocol_version", ""),
		MaxResults: req.GetInt("max_results", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) delegateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target_agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskType, err := req.RequireString("task_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := parseObject(req.GetString("task_data", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prio, err := delegation.ParsePriority(req.GetString("priority", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.deps.Delegator.Delegate(ctx, delegation.Request{
		TaskType:    taskType,
		TargetAgent: target,
		Payload:     payload,
		Priority:    prio,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) executeWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tpl, err := req.RequireString("workflow_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	input, err := parseObject(req.GetString("input_data", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := s.deps.Workflows.Create(workflow.CreateRequest{Template: tpl, Input: input})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.deps.Workflows.Execute(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"workflow_id":   res.WorkflowID,
		"workflow_type": tpl,
		"status":        res.Status,
		"output_data":   res.Output,
		"error":         res.Error,
		"input_data":    input,
	})
}

func (s *Server) workflowStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, ok := s.deps.Workflows.Status(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", workflow.ErrUnknownWorkflow, id)), nil
	}
	return jsonResult(snap)
}

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("mesh",
		mcp.WithPromptDescription("Global instructions for the MESH email assistant"),
		mcp.WithArgument("user_name", mcp.ArgumentDescription("Name of the user"), mcp.RequiredArgument()),
		mcp.WithArgument("user_title", mcp.ArgumentDescription("Job title of the user"), mcp.RequiredArgument()),
	), s.meshPrompt)
}

func (s *Server) meshPrompt(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := req.Params.Arguments["user_name"]
	title := req.Params.Arguments["user_title"]
	if name == "" || title == "" {
		return nil, errors.New("user_name and user_title are required")
	}
	return mcp.NewGetPromptResult(
		"MESH assistant instructions",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(s.deps.Content.RenderPrompt(name, title))),
		},
	), nil
}

func (s *Server) registerResources() {
	for _, name := range s.deps.Content.ExampleNames() {
		uri := "email-examples://" + name
		s.mcp.AddResource(mcp.NewResource(uri, name,
			mcp.WithResourceDescription("Email example: "+name),
			mcp.WithMIMEType("text/markdown"),
		), s.exampleResource(name))
	}
	s.mcp.AddResource(mcp.NewResource("directory://all", "directory",
		mcp.WithResourceDescription("The full contact directory as CSV"),
		mcp.WithMIMEType("text/csv"),
	), s.directoryResource)
}

func (s *Server) exampleResource(name string) server.ResourceHandlerFunc {
	return func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/markdown", Text: s.deps.Content.Examples[name]},
		}, nil
	}
}

func (s *Server) directoryResource(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/csv", Text: s.deps.Content.Directory.CSV()},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

func parseObject(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return m, nil
}
