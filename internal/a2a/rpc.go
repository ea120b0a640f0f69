package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/skill"
	"github.com/nidhogg/mesh/internal/workflow"
	"go.uber.org/zap"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcMethod struct {
	description string
	call        func(ctx context.Context, params json.RawMessage) (any, error)
}

// RPC serves the plain JSON-RPC method table that predates the A2A SDK
// transport. Every method takes a params object.
type RPC struct {
	deps     Deps
	card     CardConfig
	methods  map[string]rpcMethod
	validate *validator.Validate
	logger   *zap.Logger
}

// NewRPC builds the method table.
func NewRPC(deps Deps, card CardConfig, logger *zap.Logger) *RPC {
	if deps.Content == nil {
		deps.Content = skill.DefaultContent()
	}
	r := &RPC{deps: deps, card: card, validate: validator.New(), logger: logger}
	r.methods = map[string]rpcMethod{
		"initialize":             {"Open a session and exchange agent info", r.initialize},
		"capabilities":           {"List advertised skills and methods", r.capabilities},
		"methods":                {"Describe every method", r.listMethods},
		"discover_agents":        {"Discover agents by capability or protocol", r.discoverAgents},
		"delegate_task":          {"Delegate a task to a named agent", r.delegateTask},
		"collaborate":            {"Open a collaboration session with a partner agent", r.collaborate},
		"get_contact_info":       {"Search the contact directory", r.contactInfo},
		"suggest_email_template": {"Suggest an email template for a context", r.suggestTemplate},
		"write_email_draft":      {"Compose an email draft", r.writeDraft},
		"create_workflow":        {"Instantiate a workflow template", r.createWorkflow},
		"execute_workflow":       {"Run a pending workflow", r.executeWorkflow},
		"get_workflow_status":    {"Show a workflow's progress", r.workflowStatus},
		"list_workflows":         {"List workflows and templates", r.listWorkflows},
	}
	return r
}

// Names returns the method names, sorted.
func (r *RPC) Names() []string {
	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *RPC) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var in rpcRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeRPC(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "Parse error", Data: err.Error()}})
		return
	}
	writeRPC(w, r.Call(req.Context(), in))
}

// Call dispatches one request.
func (r *RPC) Call(ctx context.Context, in rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: in.ID}
	if in.JSONRPC != "2.0" || in.Method == "" {
		resp.Error = &rpcError{Code: codeInvalidRequest, Message: "Invalid Request"}
		return resp
	}
	m, ok := r.methods[in.Method]
	if !ok {
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", in.Method)}
		return resp
	}

	result, err := m.call(ctx, in.Params)
	if err != nil {
		var rerr *rpcError
		if errors.As(err, &rerr) {
			resp.Error = rerr
		} else {
			r.logger.Warn("rpc method failed", zap.String("method", in.Method), zap.Error(err))
			resp.Error = &rpcError{Code: codeInternalError, Message: "Internal error", Data: err.Error()}
		}
		return resp
	}
	resp.Result = result
	return resp
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// bind decodes params into dst and validates struct tags.
func (r *RPC) bind(params json.RawMessage, dst any) error {
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, dst); err != nil {
			return &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
		}
	}
	if err := r.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field()
			}
			return &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: fmt.Sprintf("missing or invalid: %v", fields)}
		}
		return &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func invalidParams(msg string) error {
	return &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: msg}
}

// ---------------------------------------------------------------------------
// methods
// ---------------------------------------------------------------------------

func (r *RPC) initialize(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		ClientInfo map[string]any `json:"client_info"`
	}
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	client, _ := p.ClientInfo["name"].(string)
	r.logger.Info("a2a client initialized", zap.String("client", client))
	return map[string]any{
		"agent_info": map[string]any{
			"name":        r.card.Name,
			"version":     r.card.Version,
			"description": r.card.Description,
			"protocols":   []string{"A2A", "MCP", "ACP"},
			"transports":  []string{"http", "jsonrpc"},
		},
		"capabilities": map[string]bool{
			"email_management":        true,
			"contact_management":      true,
			"professional_networking": true,
			"collaboration":           true,
		},
		"status":    "success",
		"timestamp": time.Now().Format(time.RFC3339),
	}, nil
}

func (r *RPC) capabilities(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	skills := r.deps.Skills
	if p.Query != "" {
		skills = MatchSkills(skills, p.Query)
	}
	return map[string]any{
		"capabilities": skills,
		"methods":      r.Names(),
		"data_sources": []string{"directory.csv", "email-examples/", "prompts/"},
	}, nil
}

func (r *RPC) listMethods(context.Context, json.RawMessage) (any, error) {
	out := make(map[string]any, len(r.methods))
	for name, m := range r.methods {
		out[name] = map[string]string{"description": m.description}
	}
	return map[string]any{"methods": out}, nil
}

func (r *RPC) discoverAgents(ctx context.Context, params json.RawMessage) (any, error) {
	var f registry.Filter
	if err := r.bind(params, &f); err != nil {
		return nil, err
	}
	res, err := r.deps.Agents.Discover(ctx, f)
	if errors.Is(err, registry.ErrInvalidFilter) {
		return nil, invalidParams(err.Error())
	}
	return res, err
}

type delegateParams struct {
	delegation.Request
	Priority       string  `json:"priority"`
	TimeoutSeconds float64 `json:"timeout" validate:"gte=0"`
}

func (r *RPC) delegateTask(ctx context.Context, params json.RawMessage) (any, error) {
	var p delegateParams
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	prio, err := delegation.ParsePriority(p.Priority)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	req := p.Request
	req.Priority = prio
	req.Timeout = time.Duration(p.TimeoutSeconds * float64(time.Second))
	res, err := r.deps.Delegator.Delegate(ctx, req)
	if errors.Is(err, delegation.ErrInvalidRequest) {
		return nil, invalidParams(err.Error())
	}
	return res, err
}

func (r *RPC) collaborate(ctx context.Context, params json.RawMessage) (any, error) {
	var p delegation.CollaborationRequest
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	return r.deps.Delegator.Collaborate(ctx, p), nil
}

func (r *RPC) contactInfo(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Query string `json:"query"`
		Name  string `json:"name"`
	}
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	q := p.Query
	if q == "" {
		q = p.Name
	}
	found := r.deps.Content.Directory.Search(q)
	return map[string]any{"contacts": found, "query": q, "count": len(found)}, nil
}

func (r *RPC) suggestTemplate(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Context string `json:"context"`
	}
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	return skill.SuggestTemplate(p.Context), nil
}

func (r *RPC) writeDraft(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Recipient string `json:"recipient_email" validate:"required"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
		Context   string `json:"context"`
	}
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	return skill.ComposeDraft(p.Recipient, p.Subject, p.Body, p.Context), nil
}

func (r *RPC) createWorkflow(_ context.Context, params json.RawMessage) (any, error) {
	var p workflow.CreateRequest
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	id, err := r.deps.Workflows.Create(p)
	if errors.Is(err, workflow.ErrUnknownTemplate) {
		return nil, invalidParams(err.Error())
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"workflow_id": id, "status": workflow.StatusPending}, nil
}

type workflowIDParams struct {
	ID string `json:"workflow_id" validate:"required"`
}

func (r *RPC) executeWorkflow(ctx context.Context, params json.RawMessage) (any, error) {
	var p workflowIDParams
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	res, err := r.deps.Workflows.Execute(ctx, p.ID)
	if errors.Is(err, workflow.ErrUnknownWorkflow) {
		return nil, invalidParams(err.Error())
	}
	return res, err
}

func (r *RPC) workflowStatus(_ context.Context, params json.RawMessage) (any, error) {
	var p workflowIDParams
	if err := r.bind(params, &p); err != nil {
		return nil, err
	}
	snap, ok := r.deps.Workflows.Status(p.ID)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("%s: %s", workflow.ErrUnknownWorkflow, p.ID))
	}
	return snap, nil
}

func (r *RPC) listWorkflows(context.Context, json.RawMessage) (any, error) {
	return map[string]any{
		"workflows": r.deps.Workflows.List(),
		"templates": r.deps.Workflows.Templates(),
	}, nil
}
