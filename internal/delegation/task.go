package delegation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the state of a delegation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions defines allowed state transitions.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Transition validates and returns nil if from→to is a legal transition.
func Transition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: no transitions from %q", ErrInvalidState, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %q → %q", ErrInvalidState, from, to)
}

// Priority orders delegations for the receiving agent.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority accepts the four priority names, case-insensitively.
// An empty string is normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(s)); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, s)
	}
}

// PriorityFromLevel maps a 1-10 numeric priority onto the named levels.
func PriorityFromLevel(level int) Priority {
	switch {
	case level <= 0:
		return PriorityNormal
	case level <= 3:
		return PriorityLow
	case level <= 6:
		return PriorityNormal
	case level <= 8:
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}

var (
	ErrNotFound       = errors.New("delegation not found")
	ErrInvalidState   = errors.New("invalid delegation state")
	ErrInvalidRequest = errors.New("invalid delegation request")
)

// DefaultTimeout bounds execution when a request leaves Timeout unset.
const DefaultTimeout = 30 * time.Second

// Request asks for one unit of work on a named agent.
type Request struct {
	TaskType    string         `json:"task_type" validate:"required"`
	TargetAgent string         `json:"target_agent" validate:"required"`
	Payload     map[string]any `json:"task_data,omitempty"`
	Priority    Priority       `json:"priority,omitempty"`
	Timeout     time.Duration  `json:"-"`

	// OnStart, when set, receives the delegation id once the record exists
	// and before the executor runs.
	OnStart func(id string) `json:"-"`
}

// Delegation is the record of one delegated task.
type Delegation struct {
	ID                  string         `json:"delegation_id"`
	TaskType            string         `json:"task_type"`
	TargetAgent         string         `json:"target_agent"`
	Payload             map[string]any `json:"task_data,omitempty"`
	Priority            Priority       `json:"priority"`
	Timeout             time.Duration  `json:"-"`
	TimeoutSeconds      float64        `json:"timeout_seconds"`
	Status              Status         `json:"status"`
	CreatedAt           time.Time      `json:"created_at"`
	EstimatedCompletion time.Time      `json:"estimated_completion"`
	FinishedAt          *time.Time     `json:"finished_at,omitempty"`
	Result              map[string]any `json:"result,omitempty"`
	Error               string         `json:"error,omitempty"`
}

func (d *Delegation) clone() Delegation {
	c := *d
	c.Payload = copyMap(d.Payload)
	c.Result = copyMap(d.Result)
	if d.FinishedAt != nil {
		t := *d.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// Result is what Delegate and Submit report. DelegationID is empty when a
// precondition failed and no record was created.
type Result struct {
	DelegationID        string         `json:"delegation_id,omitempty"`
	Status              Status         `json:"status"`
	TaskType            string         `json:"task_type,omitempty"`
	TargetAgent         string         `json:"target_agent,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	Result              map[string]any `json:"result,omitempty"`
	Error               string         `json:"error,omitempty"`
}

func resultOf(d *Delegation) *Result {
	est := d.EstimatedCompletion
	return &Result{
		DelegationID:        d.ID,
		Status:              d.Status,
		TaskType:            d.TaskType,
		TargetAgent:         d.TargetAgent,
		EstimatedCompletion: &est,
		Result:              copyMap(d.Result),
		Error:               d.Error,
	}
}

// CollaborationRequest opens a shared session with a partner agent.
type CollaborationRequest struct {
	Type          string         `json:"collaboration_type" validate:"required"`
	PartnerAgent  string         `json:"partner_agent" validate:"required"`
	SharedContext map[string]any `json:"shared_context,omitempty"`
	Goals         []string       `json:"collaboration_goals,omitempty"`
}

// CollaborationResult reports the opened session.
type CollaborationResult struct {
	CollaborationID string   `json:"collaboration_id,omitempty"`
	Status          string   `json:"status"`
	SharedWorkspace string   `json:"shared_workspace,omitempty"`
	PartnerAgent    string   `json:"partner_agent,omitempty"`
	Type            string   `json:"collaboration_type,omitempty"`
	Goals           []string `json:"collaboration_goals,omitempty"`
	Error           string   `json:"error,omitempty"`
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
