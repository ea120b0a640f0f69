package workflow

import (
	"errors"
	"time"
)

// Status tracks execution state of a workflow or one of its steps.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the workflow has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrUnknownTemplate = errors.New("unknown workflow template")
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

// Blueprint is the template form of a step.
type Blueprint struct {
	Name         string   `json:"name"`
	TaskType     string   `json:"task_type"`
	TargetAgent  string   `json:"target_agent"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Template is a named multi-step plan.
type Template struct {
	Name        string      `json:"template_name"`
	DisplayName string      `json:"display_name"`
	Steps       []Blueprint `json:"steps"`
}

// TemplateInfo is the catalog listing entry.
type TemplateInfo struct {
	Name        string `json:"template_name"`
	DisplayName string `json:"display_name"`
	StepCount   int    `json:"step_count"`
}

// Step is one concrete unit of work in a workflow.
type Step struct {
	ID           string         `json:"step_id"`
	Name         string         `json:"name"`
	TaskType     string         `json:"task_type"`
	TargetAgent  string         `json:"target_agent"`
	Input        map[string]any `json:"input_data,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       Status         `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	DelegationID string         `json:"delegation_id,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Workflow is an instantiated template.
type Workflow struct {
	ID          string         `json:"workflow_id"`
	Template    string         `json:"template_name"`
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Steps       []*Step        `json:"steps"`
	Input       map[string]any `json:"input_data,omitempty"`
	Output      map[string]any `json:"output_data,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (w *Workflow) clone() Workflow {
	c := *w
	c.Input = copyMap(w.Input)
	c.Output = copyMap(w.Output)
	c.StartedAt = copyTime(w.StartedAt)
	c.CompletedAt = copyTime(w.CompletedAt)
	c.Steps = make([]*Step, len(w.Steps))
	for i, s := range w.Steps {
		sc := *s
		sc.Input = copyMap(s.Input)
		sc.Result = copyMap(s.Result)
		sc.Dependencies = append([]string(nil), s.Dependencies...)
		sc.StartedAt = copyTime(s.StartedAt)
		sc.CompletedAt = copyTime(s.CompletedAt)
		c.Steps[i] = &sc
	}
	return c
}

// StepState is the per-step view in a Snapshot.
type StepState struct {
	ID     string `json:"step_id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is the status view of a workflow.
type Snapshot struct {
	ID          string      `json:"workflow_id"`
	Template    string      `json:"template_name"`
	Name        string      `json:"name"`
	Status      Status      `json:"status"`
	Steps       []StepState `json:"steps"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (w *Workflow) snapshot() Snapshot {
	s := Snapshot{
		ID:          w.ID,
		Template:    w.Template,
		Name:        w.Name,
		Status:      w.Status,
		Steps:       make([]StepState, len(w.Steps)),
		Error:       w.Error,
		CreatedAt:   w.CreatedAt,
		CompletedAt: copyTime(w.CompletedAt),
	}
	for i, st := range w.Steps {
		s.Steps[i] = StepState{ID: st.ID, Name: st.Name, Status: st.Status, Error: st.Error}
	}
	return s
}

// Result is what Execute reports.
type Result struct {
	WorkflowID  string         `json:"workflow_id"`
	Status      Status         `json:"status"`
	Output      map[string]any `json:"output_data,omitempty"`
	Error       string         `json:"error,omitempty"`
	FailedStep  string         `json:"failed_step,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (w *Workflow) result() *Result {
	r := &Result{
		WorkflowID:  w.ID,
		Status:      w.Status,
		Output:      copyMap(w.Output),
		Error:       w.Error,
		StartedAt:   copyTime(w.StartedAt),
		CompletedAt: copyTime(w.CompletedAt),
	}
	for _, s := range w.Steps {
		if s.Status == StatusFailed {
			r.FailedStep = s.ID
			break
		}
	}
	return r
}

// CreateRequest instantiates a template.
type CreateRequest struct {
	Template   string                    `json:"template_name" validate:"required"`
	Input      map[string]any            `json:"input_data,omitempty"`
	StepInputs map[string]map[string]any `json:"step_inputs,omitempty"`
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
