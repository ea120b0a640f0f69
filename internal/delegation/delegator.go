package delegation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mesh/internal/events"
	"github.com/nidhogg/mesh/internal/metrics"
	"github.com/nidhogg/mesh/internal/registry"
	"go.uber.org/zap"
)

// Executor performs the work of a delegated task on behalf of an agent.
type Executor interface {
	Execute(ctx context.Context, taskType, agent string, payload map[string]any) (map[string]any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, taskType, agent string, payload map[string]any) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, taskType, agent string, payload map[string]any) (map[string]any, error) {
	return f(ctx, taskType, agent, payload)
}

// Directory resolves agent names. *registry.Registry satisfies it.
type Directory interface {
	Get(name string) (registry.Agent, bool)
}

// Delegator owns the delegation table.
type Delegator struct {
	tasks          map[string]*Delegation
	cancels        map[string]context.CancelFunc
	mu             sync.RWMutex
	agents         Directory
	exec           Executor
	bus            events.Publisher
	metrics        *metrics.Metrics
	defaultTimeout time.Duration
	now            func() time.Time
	wg             sync.WaitGroup
	logger         *zap.Logger
}

// Option configures a Delegator.
type Option func(*Delegator)

func WithPublisher(p events.Publisher) Option { return func(d *Delegator) { d.bus = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Delegator) { d.metrics = m } }

// WithDefaultTimeout sets the timeout used when a request leaves it unset.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Delegator) {
		if t > 0 {
			d.defaultTimeout = t
		}
	}
}

func WithClock(now func() time.Time) Option { return func(d *Delegator) { d.now = now } }

// New creates a delegator over the agent directory and executor.
func New(agents Directory, exec Executor, logger *zap.Logger, opts ...Option) *Delegator {
	d := &Delegator{
		tasks:          make(map[string]*Delegation),
		cancels:        make(map[string]context.CancelFunc),
		agents:         agents,
		exec:           exec,
		bus:            events.Nop{},
		defaultTimeout: DefaultTimeout,
		now:            time.Now,
		logger:         logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Delegate runs the task to a terminal state and reports the outcome.
// Unknown or non-online targets produce a failed result without a record.
func (d *Delegator) Delegate(ctx context.Context, req Request) (*Result, error) {
	req, err := d.normalize(req)
	if err != nil {
		return nil, err
	}
	if res := d.precheck(req); res != nil {
		return res, nil
	}

	rec := d.start(ctx, req)
	d.run(ctx, rec.ID, req)

	snap, _ := d.Get(rec.ID)
	return resultOf(&snap), nil
}

// Submit starts the task in the background and returns it in_progress.
func (d *Delegator) Submit(ctx context.Context, req Request) (*Result, error) {
	req, err := d.normalize(req)
	if err != nil {
		return nil, err
	}
	if res := d.precheck(req); res != nil {
		return res, nil
	}

	rec := d.start(ctx, req)
	res := resultOf(&rec)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(context.WithoutCancel(ctx), rec.ID, req)
	}()
	return res, nil
}

// Wait blocks until every submitted delegation has finished.
func (d *Delegator) Wait() {
	d.wg.Wait()
}

// Cancel moves a non-terminal delegation to cancelled and stops its execution.
func (d *Delegator) Cancel(id string) error {
	d.mu.Lock()
	rec, ok := d.tasks[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := Transition(rec.Status, StatusCancelled); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	now := d.now()
	rec.Status = StatusCancelled
	rec.FinishedAt = &now
	rec.Error = "delegation cancelled"
	stop := d.cancels[id]
	agent := rec.TargetAgent
	elapsed := now.Sub(rec.CreatedAt)
	d.mu.Unlock()

	if stop != nil {
		stop()
	}
	d.metrics.DelegationFinished(string(StatusCancelled), elapsed)
	d.publish(context.Background(), events.DelegationCancelled, id, map[string]any{"target_agent": agent})
	d.logger.Info("delegation cancelled", zap.String("id", id), zap.String("agent", agent))
	return nil
}

// Get returns a copy of the delegation record.
func (d *Delegator) Get(id string) (Delegation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.tasks[id]
	if !ok {
		return Delegation{}, false
	}
	return rec.clone(), true
}

// List returns delegations in creation order, optionally only those in status.
func (d *Delegator) List(status Status) []Delegation {
	d.mu.RLock()
	out := make([]Delegation, 0, len(d.tasks))
	for _, rec := range d.tasks {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec.clone())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Prune removes terminal delegations that finished more than olderThan ago.
func (d *Delegator) Prune(olderThan time.Duration) int {
	cutoff := d.now().Add(-olderThan)
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for id, rec := range d.tasks {
		if rec.Status.Terminal() && rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			delete(d.tasks, id)
			n++
		}
	}
	return n
}

// Collaborate opens a shared session with an online partner agent.
func (d *Delegator) Collaborate(ctx context.Context, req CollaborationRequest) *CollaborationResult {
	if req.Type == "" || req.PartnerAgent == "" {
		return &CollaborationResult{Status: "failed", Error: "collaboration_type and partner_agent are required"}
	}
	agent, ok := d.agents.Get(req.PartnerAgent)
	if !ok {
		return &CollaborationResult{Status: "failed", Error: fmt.Sprintf("partner agent '%s' not found", req.PartnerAgent)}
	}
	if agent.Status != registry.StatusOnline {
		return &CollaborationResult{Status: "failed", Error: fmt.Sprintf("partner agent '%s' is %s", req.PartnerAgent, agent.Status)}
	}

	id := "collab_" + uuid.New().String()
	d.publish(ctx, events.CollaborationOpened, id, map[string]any{
		"partner_agent":      req.PartnerAgent,
		"collaboration_type": req.Type,
	})
	d.logger.Info("collaboration opened",
		zap.String("id", id),
		zap.String("agent", req.PartnerAgent),
		zap.String("type", req.Type))

	return &CollaborationResult{
		CollaborationID: id,
		Status:          "active",
		SharedWorkspace: "workspace_" + id,
		PartnerAgent:    req.PartnerAgent,
		Type:            req.Type,
		Goals:           append([]string(nil), req.Goals...),
	}
}

func (d *Delegator) normalize(req Request) (Request, error) {
	if req.TaskType == "" {
		return req, fmt.Errorf("%w: task_type is required", ErrInvalidRequest)
	}
	if req.TargetAgent == "" {
		return req, fmt.Errorf("%w: target_agent is required", ErrInvalidRequest)
	}
	p, err := ParsePriority(string(req.Priority))
	if err != nil {
		return req, err
	}
	req.Priority = p
	if req.Timeout < 0 {
		return req, fmt.Errorf("%w: timeout must not be negative", ErrInvalidRequest)
	}
	if req.Timeout == 0 {
		req.Timeout = d.defaultTimeout
	}
	return req, nil
}

func (d *Delegator) precheck(req Request) *Result {
	agent, ok := d.agents.Get(req.TargetAgent)
	if !ok {
		return &Result{
			Status:      StatusFailed,
			TaskType:    req.TaskType,
			TargetAgent: req.TargetAgent,
			Error:       fmt.Sprintf("target agent '%s' not found", req.TargetAgent),
		}
	}
	if agent.Status != registry.StatusOnline {
		return &Result{
			Status:      StatusFailed,
			TaskType:    req.TaskType,
			TargetAgent: req.TargetAgent,
			Error:       fmt.Sprintf("target agent '%s' is %s", req.TargetAgent, agent.Status),
		}
	}
	return nil
}

// start records a pending delegation and moves it to in_progress.
func (d *Delegator) start(ctx context.Context, req Request) Delegation {
	now := d.now()
	rec := &Delegation{
		ID:                  "deleg_" + uuid.New().String(),
		TaskType:            req.TaskType,
		TargetAgent:         req.TargetAgent,
		Payload:             copyMap(req.Payload),
		Priority:            req.Priority,
		Timeout:             req.Timeout,
		TimeoutSeconds:      req.Timeout.Seconds(),
		Status:              StatusPending,
		CreatedAt:           now,
		EstimatedCompletion: now.Add(req.Timeout),
	}

	d.mu.Lock()
	d.tasks[rec.ID] = rec
	rec.Status = StatusInProgress
	snap := rec.clone()
	d.mu.Unlock()

	d.logger.Info("delegating task",
		zap.String("id", rec.ID),
		zap.String("task_type", req.TaskType),
		zap.String("agent", req.TargetAgent),
		zap.String("priority", string(req.Priority)))
	if req.OnStart != nil {
		req.OnStart(rec.ID)
	}
	d.publish(ctx, events.DelegationCreated, rec.ID, map[string]any{
		"task_type":    req.TaskType,
		"target_agent": req.TargetAgent,
	})
	return snap
}

type outcome struct {
	result map[string]any
	err    error
}

func (d *Delegator) run(ctx context.Context, id string, req Request) {
	execCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	d.mu.Lock()
	if rec, ok := d.tasks[id]; !ok || rec.Status != StatusInProgress {
		d.mu.Unlock()
		cancel()
		d.logger.Debug("delegation stopped before execution", zap.String("id", id))
		return
	}
	d.cancels[id] = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.cancels, id)
		d.mu.Unlock()
	}()

	done := make(chan outcome, 1)
	go func() {
		res, err := d.exec.Execute(execCtx, req.TaskType, req.TargetAgent, copyMap(req.Payload))
		done <- outcome{result: res, err: err}
	}()

	timedOut := fmt.Sprintf("task timed out after %s", req.Timeout)
	select {
	case o := <-done:
		switch {
		case o.err == nil:
			d.finish(ctx, id, StatusCompleted, d.decorate(o.result, req), "")
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			d.finish(ctx, id, StatusFailed, nil, timedOut)
		default:
			d.finish(ctx, id, StatusFailed, nil, o.err.Error())
		}
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			d.finish(ctx, id, StatusFailed, nil, timedOut)
		} else {
			d.finish(ctx, id, StatusFailed, nil, execCtx.Err().Error())
		}
	}
}

// finish applies one terminal transition. It reports false when the record
// already reached a terminal state.
func (d *Delegator) finish(ctx context.Context, id string, to Status, result map[string]any, errMsg string) bool {
	d.mu.Lock()
	rec, ok := d.tasks[id]
	if !ok || Transition(rec.Status, to) != nil {
		d.mu.Unlock()
		return false
	}
	now := d.now()
	rec.Status = to
	rec.FinishedAt = &now
	rec.Result = result
	rec.Error = errMsg
	agent := rec.TargetAgent
	elapsed := now.Sub(rec.CreatedAt)
	d.mu.Unlock()

	d.metrics.DelegationFinished(string(to), elapsed)
	typ := events.DelegationCompleted
	if to == StatusFailed {
		typ = events.DelegationFailed
		d.logger.Warn("delegation failed",
			zap.String("id", id),
			zap.String("agent", agent),
			zap.String("error", errMsg))
	} else {
		d.logger.Info("delegation completed",
			zap.String("id", id),
			zap.String("agent", agent),
			zap.Duration("elapsed", elapsed))
	}
	d.publish(context.WithoutCancel(ctx), typ, id, map[string]any{"target_agent": agent, "error": errMsg})
	return true
}

func (d *Delegator) decorate(res map[string]any, req Request) map[string]any {
	out := copyMap(res)
	if out == nil {
		out = make(map[string]any, 3)
	}
	out["task_type"] = req.TaskType
	out["executed_by"] = req.TargetAgent
	out["completion_time"] = d.now().Format(time.RFC3339)
	return out
}

func (d *Delegator) publish(ctx context.Context, typ, subject string, payload map[string]any) {
	err := d.bus.Publish(ctx, &events.Event{Type: typ, Subject: subject, Payload: payload, Timestamp: d.now()})
	if err != nil {
		d.logger.Warn("publish event failed", zap.String("type", typ), zap.Error(err))
	}
}
