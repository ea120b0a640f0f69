package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mesh/internal/delegation"
	"github.com/nidhogg/mesh/internal/events"
	"github.com/nidhogg/mesh/internal/metrics"
	"go.uber.org/zap"
)

// Delegator runs remote steps. *delegation.Delegator satisfies it.
type Delegator interface {
	Delegate(ctx context.Context, req delegation.Request) (*delegation.Result, error)
}

// Engine owns the template catalog and the workflow table.
type Engine struct {
	templates  map[string]Template
	workflows  map[string]*Workflow
	execLocks  map[string]*sync.Mutex
	mu         sync.RWMutex
	delegator  Delegator
	local      delegation.Executor
	localAgent string
	stepTime   time.Duration
	bus        events.Publisher
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.bus = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLocalAgent sets an additional target name whose steps run on the
// local executor and are reported as executed by it.
func WithLocalAgent(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.localAgent = name
		}
	}
}

// WithStepTimeout bounds each local step.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stepTime = d
		}
	}
}

// WithTemplates replaces the built-in catalog.
func WithTemplates(ts ...Template) Option {
	return func(e *Engine) {
		e.templates = make(map[string]Template, len(ts))
		for _, t := range ts {
			e.templates[t.Name] = t
		}
	}
}

// NewEngine creates an engine with the built-in template catalog.
func NewEngine(delegator Delegator, local delegation.Executor, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		workflows:  make(map[string]*Workflow),
		execLocks:  make(map[string]*sync.Mutex),
		delegator:  delegator,
		local:      local,
		localAgent: LocalAgent,
		stepTime:   delegation.DefaultTimeout,
		bus:        events.Nop{},
		now:        time.Now,
		logger:     logger,
	}
	WithTemplates(DefaultTemplates()...)(e)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Templates lists the catalog sorted by template name.
func (e *Engine) Templates() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, TemplateInfo{Name: t.Name, DisplayName: t.DisplayName, StepCount: len(t.Steps)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create instantiates a template as a pending workflow.
func (e *Engine) Create(req CreateRequest) (string, error) {
	tpl, ok := e.templates[req.Template]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, req.Template)
	}

	wf := &Workflow{
		ID:        "workflow_" + uuid.New().String(),
		Template:  tpl.Name,
		Name:      tpl.DisplayName,
		Status:    StatusPending,
		Input:     copyMap(req.Input),
		CreatedAt: e.now(),
	}
	for i, bp := range tpl.Steps {
		input := req.Input
		if override, ok := req.StepInputs[bp.Name]; ok {
			input = override
		}
		wf.Steps = append(wf.Steps, &Step{
			ID:           fmt.Sprintf("step_%d", i+1),
			Name:         bp.Name,
			TaskType:     bp.TaskType,
			TargetAgent:  bp.TargetAgent,
			Input:        copyMap(input),
			Dependencies: append([]string(nil), bp.Dependencies...),
			Status:       StatusPending,
		})
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.execLocks[wf.ID] = &sync.Mutex{}
	e.mu.Unlock()

	e.logger.Info("workflow created",
		zap.String("id", wf.ID),
		zap.String("template", tpl.Name),
		zap.Int("steps", len(wf.Steps)))
	e.publish(context.Background(), events.WorkflowCreated, wf.ID, map[string]any{"template": tpl.Name})
	return wf.ID, nil
}

// Execute runs a pending workflow in one pass over its steps. Calls on the
// same id are serialized; a workflow that already ran returns its recorded outcome.
func (e *Engine) Execute(ctx context.Context, id string) (*Result, error) {
	e.mu.RLock()
	wf, ok := e.workflows[id]
	lock := e.execLocks[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}

	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if wf.Status != StatusPending {
		res := wf.result()
		e.mu.Unlock()
		return res, nil
	}
	started := e.now()
	wf.Status = StatusRunning
	wf.StartedAt = &started
	steps := make([]*Step, len(wf.Steps))
	copy(steps, wf.Steps)
	e.mu.Unlock()

	e.logger.Info("workflow running", zap.String("id", id), zap.String("template", wf.Template))

	succeeded := make(map[string]bool, 2*len(steps))
	output := make(map[string]any, len(steps))

	for _, step := range steps {
		if missing := unmet(step, succeeded); missing != "" {
			e.logger.Debug("step deferred",
				zap.String("workflow", id),
				zap.String("step", step.ID),
				zap.String("waiting_on", missing))
			continue
		}

		e.mu.Lock()
		now := e.now()
		step.Status = StatusRunning
		step.StartedAt = &now
		input := copyMap(step.Input)
		e.mu.Unlock()

		result, delegationID, err := e.runStep(ctx, step, input)

		e.mu.Lock()
		done := e.now()
		step.CompletedAt = &done
		step.DelegationID = delegationID
		if err != nil {
			step.Status = StatusFailed
			step.Error = err.Error()
			wf.Status = StatusFailed
			wf.Error = fmt.Sprintf("step '%s' failed: %s", step.Name, err)
			wf.CompletedAt = &done
			res := wf.result()
			e.mu.Unlock()

			e.metrics.WorkflowFinished(string(StatusFailed))
			e.logger.Warn("workflow failed",
				zap.String("id", id),
				zap.String("step", step.ID),
				zap.Error(err))
			e.publish(ctx, events.WorkflowFailed, id, map[string]any{"step": step.ID, "error": err.Error()})
			return res, nil
		}
		step.Status = StatusCompleted
		step.Result = result
		e.mu.Unlock()

		succeeded[step.Name] = true
		succeeded[step.ID] = true
		output[step.ID] = result
	}

	e.mu.Lock()
	done := e.now()
	wf.Status = StatusCompleted
	wf.Output = output
	wf.CompletedAt = &done
	res := wf.result()
	e.mu.Unlock()

	e.metrics.WorkflowFinished(string(StatusCompleted))
	e.logger.Info("workflow completed", zap.String("id", id), zap.Int("steps_run", len(output)))
	e.publish(ctx, events.WorkflowCompleted, id, nil)
	return res, nil
}

type localOutcome struct {
	res map[string]any
	err error
}

// runLocal executes a step on the local executor within the step timeout.
func (e *Engine) runLocal(ctx context.Context, taskType string, input map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.stepTime)
	defer cancel()

	done := make(chan localOutcome, 1)
	go func() {
		res, err := e.local.Execute(ctx, taskType, e.localAgent, input)
		done <- localOutcome{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("step timed out after %s", e.stepTime)
		}
		return nil, ctx.Err()
	}
}

// unmet returns the first dependency that has not succeeded yet, or "".
func unmet(step *Step, succeeded map[string]bool) string {
	for _, dep := range step.Dependencies {
		if !succeeded[dep] {
			return dep
		}
	}
	return ""
}

func (e *Engine) runStep(ctx context.Context, step *Step, input map[string]any) (map[string]any, string, error) {
	if step.TargetAgent == e.localAgent || step.TargetAgent == LocalAgent {
		res, err := e.runLocal(ctx, step.TaskType, input)
		if err != nil {
			return nil, "", err
		}
		out := copyMap(res)
		if out == nil {
			out = make(map[string]any, 3)
		}
		out["task_type"] = step.TaskType
		out["executed_by"] = e.localAgent
		out["completion_time"] = e.now().Format(time.RFC3339)
		return out, "", nil
	}

	res, err := e.delegator.Delegate(ctx, delegation.Request{
		TaskType:    step.TaskType,
		TargetAgent: step.TargetAgent,
		Payload:     input,
	})
	if err != nil {
		return nil, "", err
	}
	if res.Status != delegation.StatusCompleted {
		return nil, res.DelegationID, errors.New(res.Error)
	}
	return res.Result, res.DelegationID, nil
}

// Get returns a deep copy of the workflow.
func (e *Engine) Get(id string) (Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wf, ok := e.workflows[id]
	if !ok {
		return Workflow{}, false
	}
	return wf.clone(), true
}

// Status returns the status view of a workflow.
func (e *Engine) Status(id string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wf, ok := e.workflows[id]
	if !ok {
		return Snapshot{}, false
	}
	return wf.snapshot(), true
}

// List returns every workflow's status view in creation order.
func (e *Engine) List() []Snapshot {
	e.mu.RLock()
	out := make([]Snapshot, 0, len(e.workflows))
	for _, wf := range e.workflows {
		out = append(out, wf.snapshot())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Prune removes finished workflows that completed more than olderThan ago.
func (e *Engine) Prune(olderThan time.Duration) int {
	cutoff := e.now().Add(-olderThan)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, wf := range e.workflows {
		if wf.Status.Terminal() && wf.CompletedAt != nil && wf.CompletedAt.Before(cutoff) {
			delete(e.workflows, id)
			delete(e.execLocks, id)
			n++
		}
	}
	return n
}

func (e *Engine) publish(ctx context.Context, typ, subject string, payload map[string]any) {
	err := e.bus.Publish(context.WithoutCancel(ctx), &events.Event{Type: typ, Subject: subject, Payload: payload, Timestamp: e.now()})
	if err != nil {
		e.logger.Warn("publish event failed", zap.String("type", typ), zap.Error(err))
	}
}
