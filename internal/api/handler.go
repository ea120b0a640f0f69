package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/nidhogg/mesh/internal/a2a"
	"github.com/nidhogg/mesh/internal/acp"
	"github.com/nidhogg/mesh/internal/command"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/metrics"
	"github.com/nidhogg/mesh/internal/registry"
	"github.com/nidhogg/mesh/internal/workflow"
	"go.uber.org/zap"
)

// Deps are the services behind the HTTP surface. The protocol front ends
// and metrics are optional; nil ones are not mounted.
type Deps struct {
	Registry  *registry.Registry
	Delegator *delegation.Delegator
	Workflows *workflow.Engine
	Commands  *command.Registry

	MCP     http.Handler
	MCPPath string
	A2A     *a2a.Server
	ACP     *acp.Server
	Metrics *metrics.Metrics
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps     Deps
	validate *validator.Validate
	started  time.Time
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.MCPPath == "" {
		deps.MCPPath = "/mcp"
	}
	return &Handler{
		deps:     deps,
		validate: validator.New(),
		started:  time.Now(),
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/agents", h.discoverAgents)
		r.Get("/agents/available", h.availableAgents)
		r.Post("/agents/health", h.healthCheckAgents)
		r.Get("/agents/{name}", h.getAgent)

		r.Post("/delegations", h.delegate)
		r.Get("/delegations", h.listDelegations)
		r.Get("/delegations/{id}", h.getDelegation)
		r.Delete("/delegations/{id}", h.cancelDelegation)
		r.Post("/collaborations", h.collaborate)

		r.Get("/workflows", h.listWorkflows)
		r.Post("/workflows", h.createWorkflow)
		r.Get("/workflows/{id}", h.getWorkflow)
		r.Post("/workflows/{id}/execute", h.executeWorkflow)

		r.Post("/chat", h.chat)
	})

	if h.deps.MCP != nil {
		r.Handle(h.deps.MCPPath, h.deps.MCP)
	}
	if h.deps.A2A != nil {
		h.deps.A2A.Mount(r)
	}
	if h.deps.ACP != nil {
		h.deps.ACP.Mount(r)
	}
	if h.deps.Metrics != nil {
		r.Handle("/metrics", h.deps.Metrics.Handler())
	}

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"service":            "mesh",
		"agents":             h.deps.Registry.Len(),
		"agents_online":      len(h.deps.Registry.ListAvailable("")),
		"delegations_active": len(h.deps.Delegator.List(delegation.StatusInProgress)),
		"uptime_seconds":     int(time.Since(h.started).Seconds()),
	})
}

// ---------------------------------------------------------------------------
// agents
// ---------------------------------------------------------------------------

func (h *Handler) discoverAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := registry.Filter{
		Capability: q.Get("capability"),
		Protocol:   q.Get("protocol"),
	}
	if raw := q.Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_results must be an integer")
			return
		}
		f.MaxResults = n
	}

	res, err := h.deps.Registry.Discover(r.Context(), f)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrInvalidFilter) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) availableAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.deps.Registry.ListAvailable(r.URL.Query().Get("capability"))
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.deps.Registry.GetStatus(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) healthCheckAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Registry.HealthCheckAll(r.Context()))
}

// ---------------------------------------------------------------------------
// delegations
// ---------------------------------------------------------------------------

type delegateRequest struct {
	delegation.Request
	Priority       string  `json:"priority"`
	TimeoutSeconds float64 `json:"timeout" validate:"gte=0"`
	Async          bool    `json:"async"`
}

func (h *Handler) delegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if !h.bind(w, r, &req) {
		return
	}
	prio, err := delegation.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dr := req.Request
	dr.Priority = prio
	dr.Timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))

	var res *delegation.Result
	if req.Async {
		res, err = h.deps.Delegator.Submit(r.Context(), dr)
	} else {
		res, err = h.deps.Delegator.Delegate(r.Context(), dr)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, delegation.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	status := http.StatusOK
	if res.Status == delegation.StatusInProgress {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *Handler) listDelegations(w http.ResponseWriter, r *http.Request) {
	status := delegation.Status(r.URL.Query().Get("status"))
	switch status {
	case "", delegation.StatusPending, delegation.StatusInProgress,
		delegation.StatusCompleted, delegation.StatusFailed, delegation.StatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	list := h.deps.Delegator.List(status)
	writeJSON(w, http.StatusOK, map[string]any{"delegations": list, "count": len(list)})
}

func (h *Handler) getDelegation(w http.ResponseWriter, r *http.Request) {
	d, ok := h.deps.Delegator.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "delegation not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) cancelDelegation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Delegator.Cancel(id); err != nil {
		switch {
		case errors.Is(err, delegation.ErrNotFound):
			writeError(w, http.StatusNotFound, "delegation not found")
		case errors.Is(err, delegation.ErrInvalidState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "delegation_id": id})
}

func (h *Handler) collaborate(w http.ResponseWriter, r *http.Request) {
	var req delegation.CollaborationRequest
	if !h.bind(w, r, &req) {
		return
	}
	res := h.deps.Delegator.Collaborate(r.Context(), req)
	status := http.StatusCreated
	if res.Error != "" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// ---------------------------------------------------------------------------
// workflows
// ---------------------------------------------------------------------------

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": h.deps.Workflows.List(),
		"templates": h.deps.Workflows.Templates(),
	})
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflow.CreateRequest
	if !h.bind(w, r, &req) {
		return
	}
	id, err := h.deps.Workflows.Create(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrUnknownTemplate) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"workflow_id": id, "status": workflow.StatusPending})
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.deps.Workflows.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Workflows.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrUnknownWorkflow) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// chat
// ---------------------------------------------------------------------------

type chatRequest struct {
	Message   string `json:"message" validate:"required"`
	UserName  string `json:"user_name"`
	ContextID string `json:"context_id"`
}

type chatResponse struct {
	Response string `json:"response"`
	Data     any    `json:"data,omitempty"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.bind(w, r, &req) {
		return
	}
	res, err := h.deps.Commands.Respond(r.Context(), req.Message, &command.CommandContext{
		Source:    "api",
		ContextID: req.ContextID,
		UserName:  req.UserName,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: res.Content, Data: res.Data})
}

// bind decodes and validates the request body, answering 400 on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field()
			}
			writeError(w, http.StatusBadRequest, fmt.Sprintf("missing or invalid fields: %v", fields))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
