package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/moogar0880/problems"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/registry"
	"go.uber.org/zap"
)

const (
	// ServerID is the sender of replies the server writes to the history.
	ServerID = "mesh-acp-server"
	// DefaultHistory bounds the message history.
	DefaultHistory = 1000

	defaultPageSize = 100
)

// Registrar is the agent registry as seen by ACP. *registry.Registry satisfies it.
type Registrar interface {
	Register(a registry.Agent) error
	GetStatus(name string) (registry.StatusSnapshot, bool)
	SetStatus(name string, s registry.Status) bool
	ListAvailable(capability string) []registry.Agent
}

// Delegator runs task messages. *delegation.Delegator satisfies it.
type Delegator interface {
	Delegate(ctx context.Context, req delegation.Request) (*delegation.Result, error)
	Submit(ctx context.Context, req delegation.Request) (*delegation.Result, error)
	Cancel(id string) error
	Get(id string) (delegation.Delegation, bool)
}

// Server holds the ACP state: registered manifests, the bounded message
// history and the tasks started by task messages.
type Server struct {
	agents     Registrar
	delegator  Delegator
	localAgent string
	maxHistory int
	validate   *validator.Validate
	now        func() time.Time
	logger     *zap.Logger

	mu        sync.RWMutex
	manifests map[string]Manifest
	history   []*Message
	byID      map[string]*Message
	tasks     map[string]*Task
}

// Option configures a Server.
type Option func(*Server)

// WithLocalAgent sets the agent that runs task messages without a recipient.
func WithLocalAgent(name string) Option { return func(s *Server) { s.localAgent = name } }

// WithHistoryLimit bounds the message history. Values below 1 are ignored.
func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New creates the ACP server.
func New(agents Registrar, delegator Delegator, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		agents:     agents,
		delegator:  delegator,
		localAgent: "MESH",
		maxHistory: DefaultHistory,
		validate:   validator.New(),
		now:        time.Now,
		logger:     logger,
		manifests:  make(map[string]Manifest),
		byID:       make(map[string]*Message),
		tasks:      make(map[string]*Task),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mount registers the ACP routes under /acp.
func (s *Server) Mount(r chi.Router) {
	r.Route("/acp", func(r chi.Router) {
		r.Post("/agents/register", s.registerAgent)
		r.Get("/agents", s.listAgents)
		r.Get("/agents/{id}", s.getAgent)
		r.Post("/messages", s.postMessage)
		r.Get("/messages", s.listMessages)
		r.Get("/messages/{id}", s.getMessage)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Delete("/tasks/{id}", s.cancelTask)
	})
}

// ---------------------------------------------------------------------------
// agents
// ---------------------------------------------------------------------------

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var m Manifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		badRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.check(m); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	agent := registry.Agent{
		Name:         m.ID,
		Version:      m.Version,
		Description:  m.Description,
		Endpoint:     m.Endpoint,
		Capabilities: append(append([]string(nil), m.Capabilities...), m.SupportedTasks...),
		Protocols:    []string{"ACP"},
		Status:       registry.StatusOnline,
		Metadata: map[string]any{
			"display_name":      m.Name,
			"supported_tasks":   m.SupportedTasks,
			"supported_formats": m.SupportedFormats,
			"registered_via":    "acp",
		},
	}
	if err := s.agents.Register(agent); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	s.mu.Lock()
	s.manifests[m.ID] = m
	s.mu.Unlock()

	s.logger.Info("acp agent registered", zap.String("agent", m.ID), zap.String("name", m.Name))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "agent_id": m.ID})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]Manifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		out = append(out, m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	m, ok := s.manifests[id]
	s.mu.RUnlock()
	if !ok {
		notFound(w, r, "Agent not found")
		return
	}
	resp := map[string]any{"agent": m}
	if snap, ok := s.agents.GetStatus(id); ok {
		resp["status"] = snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// messages
// ---------------------------------------------------------------------------

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		badRequest(w, r, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.check(msg); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg.Status = TaskPending

	s.mu.Lock()
	if _, dup := s.byID[msg.ID]; dup {
		s.mu.Unlock()
		writeProblem(w, r, http.StatusConflict, "conflict", fmt.Sprintf("message %s already exists", msg.ID))
		return
	}
	if msg.Type != TypeTask {
		msg.Status = TaskCompleted
	}
	s.appendLocked(&msg)
	s.mu.Unlock()

	s.logger.Debug("acp message received",
		zap.String("id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.String("sender", msg.Sender))

	switch msg.Type {
	case TypeTask:
		s.runTask(w, r, msg)
	case TypeResponse:
		writeJSON(w, http.StatusOK, map[string]any{"status": "response_processed", "message_id": msg.ID})
	case TypeError:
		s.logger.Warn("acp error message",
			zap.String("sender", msg.Sender),
			zap.String("task", msg.TaskID),
			zap.String("code", msg.ErrorCode))
		writeJSON(w, http.StatusOK, map[string]any{"status": "error_processed", "message_id": msg.ID})
	case TypeHeartbeat:
		online := s.agents.SetStatus(msg.Sender, registry.StatusOnline)
		writeJSON(w, http.StatusOK, map[string]any{"status": "received", "message_id": msg.ID, "known_agent": online})
	case TypeDiscovery:
		capability, _ := msg.Content["capability"].(string)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "received",
			"message_id": msg.ID,
			"agents":     s.agents.ListAvailable(capability),
		})
	}
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request, msg Message) {
	target := msg.Recipient
	if target == "" {
		target = s.localAgent
	}
	payload := msg.Parameters
	if payload == nil {
		payload = msg.Content
	}
	req := delegation.Request{
		TaskType:    msg.TaskType,
		TargetAgent: target,
		Payload:     payload,
		Priority:    delegation.PriorityFromLevel(msg.Priority),
		Timeout:     time.Duration(msg.Timeout) * time.Second,
		OnStart: func(id string) {
			s.mu.Lock()
			if t, ok := s.tasks[msg.ID]; ok {
				t.DelegationID = id
				s.settleLocked(t, TaskRunning, nil, "")
			}
			s.mu.Unlock()
		},
	}

	now := s.now()
	s.mu.Lock()
	s.tasks[msg.ID] = &Task{
		ID:        msg.ID,
		TaskType:  msg.TaskType,
		Sender:    msg.Sender,
		Recipient: target,
		Priority:  msg.Priority,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Unlock()

	async := msg.Metadata["mode"] == "async"
	var res *delegation.Result
	var err error
	if async {
		res, err = s.delegator.Submit(r.Context(), req)
	} else {
		res, err = s.delegator.Delegate(r.Context(), req)
	}

	s.mu.Lock()
	t := s.tasks[msg.ID]
	if err != nil {
		s.settleLocked(t, TaskFailed, nil, err.Error())
	} else {
		t.DelegationID = res.DelegationID
		s.settleLocked(t, statusOf(res.Status), res.Result, res.Error)
	}
	snap := *t
	s.mu.Unlock()

	if errors.Is(err, delegation.ErrInvalidRequest) {
		badRequest(w, r, err.Error())
		return
	}

	switch snap.Status {
	case TaskCompleted:
		writeJSON(w, http.StatusOK, map[string]any{"status": "task_processed", "task_id": snap.ID, "response_id": snap.ReplyID})
	case TaskFailed, TaskCancelled:
		writeJSON(w, http.StatusOK, map[string]any{"status": "task_failed", "task_id": snap.ID, "error_id": snap.ReplyID})
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "task_accepted", "task_id": snap.ID, "delegation_id": snap.DelegationID})
	}
}

// settleLocked records a task's new status. The first move to a terminal
// status writes a response or error message back to the sender.
func (s *Server) settleLocked(t *Task, status TaskStatus, result map[string]any, errMsg string) {
	if t.Status.terminal() {
		return
	}
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.UpdatedAt = s.now()
	if orig, ok := s.byID[t.ID]; ok {
		orig.Status = status
		orig.Error = errMsg
	}
	if !status.terminal() {
		return
	}

	reply := &Message{
		ID:        uuid.New().String(),
		Timestamp: t.UpdatedAt,
		Sender:    ServerID,
		Recipient: t.Sender,
		Status:    status,
		TaskID:    t.ID,
	}
	if status == TaskCompleted {
		reply.Type = TypeResponse
		reply.Result = result
	} else {
		reply.Type = TypeError
		reply.Error = errMsg
		reply.ErrorCode = "TASK_FAILED"
		if status == TaskCancelled {
			reply.ErrorCode = "TASK_CANCELLED"
		}
		reply.ErrorDetails = map[string]any{"task_type": t.TaskType, "recipient": t.Recipient}
	}
	t.ReplyID = reply.ID
	s.appendLocked(reply)
}

// appendLocked adds a message, evicting the oldest past the history bound.
func (s *Server) appendLocked(m *Message) {
	s.history = append(s.history, m)
	s.byID[m.ID] = m
	if over := len(s.history) - s.maxHistory; over > 0 {
		for _, old := range s.history[:over] {
			delete(s.byID, old.ID)
		}
		s.history = append([]*Message(nil), s.history[over:]...)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		badRequest(w, r, "limit must be a positive integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		badRequest(w, r, "offset must be a non-negative integer")
		return
	}

	s.mu.RLock()
	total := len(s.history)
	out := make([]Message, 0, limit)
	for i := offset; i < total && len(out) < limit; i++ {
		out = append(out, *s.history[i])
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": out,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	m, ok := s.byID[chi.URLParam(r, "id")]
	var snap Message
	if ok {
		snap = *m
	}
	s.mu.RUnlock()
	if !ok {
		notFound(w, r, "Message not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": snap})
}

// ---------------------------------------------------------------------------
// tasks
// ---------------------------------------------------------------------------

// refreshLocked pulls the latest delegation state into a running task.
func (s *Server) refreshLocked(t *Task) {
	if t.DelegationID == "" || t.Status.terminal() {
		return
	}
	d, ok := s.delegator.Get(t.DelegationID)
	if !ok {
		return
	}
	if st := statusOf(d.Status); st != t.Status {
		s.settleLocked(t, st, d.Result, d.Error)
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	want, ok := ParseTaskStatus(r.URL.Query().Get("status"))
	if !ok {
		badRequest(w, r, fmt.Sprintf("unknown task status %q", r.URL.Query().Get("status")))
		return
	}

	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		s.refreshLocked(t)
		if want != "" && t.Status != want {
			continue
		}
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.Task(chi.URLParam(r, "id"))
	if !ok {
		notFound(w, r, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

// Task returns a copy of the task started by the task message id.
func (s *Server) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	s.refreshLocked(t)
	return *t, true
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		notFound(w, r, "Task not found")
		return
	}
	s.refreshLocked(t)
	if t.Status.terminal() {
		status := t.Status
		s.mu.Unlock()
		badRequest(w, r, fmt.Sprintf("Cannot cancel %s task", status))
		return
	}
	if t.DelegationID == "" {
		s.mu.Unlock()
		writeProblem(w, r, http.StatusConflict, "conflict", "Task has not started yet")
		return
	}
	if err := s.delegator.Cancel(t.DelegationID); err != nil {
		s.refreshLocked(t)
		s.mu.Unlock()
		badRequest(w, r, err.Error())
		return
	}
	s.settleLocked(t, TaskCancelled, nil, "task cancelled")
	s.mu.Unlock()

	s.logger.Info("acp task cancelled", zap.String("task", id))
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "task_id": id})
}

// Prune drops terminal tasks last updated more than olderThan ago.
func (s *Server) Prune(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		s.refreshLocked(t)
		if t.Status.terminal() && t.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// check validates struct tags and names the offending fields.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fe.Field()
	}
	return fmt.Errorf("missing or invalid fields: %v", fields)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, typ, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(typ).
		WithDetail(detail)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, "validation_error", detail)
}

func notFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusNotFound, "not_found", detail)
}
