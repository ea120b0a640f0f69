package skill

import (
	"context"
	"errors"
)

// Skill is an advertised capability of the local agent.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Examples    []string `json:"examples,omitempty"`
	TaskTypes   []string `json:"task_types"`
	Source      string   `json:"source"` // "builtin", "plugin"
}

// Handler performs one task type. The agent is the name the work is done for.
type Handler func(ctx context.Context, agent string, payload map[string]any) (map[string]any, error)

var (
	ErrUnknownTask  = errors.New("unknown task type")
	ErrInvalidInput = errors.New("invalid task input")
)
