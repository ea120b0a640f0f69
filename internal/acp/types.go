// Package acp serves the Agent Communication Protocol surface: agents
// register manifests, exchange typed messages and track the tasks those
// messages start.
package acp

import (
	"time"

	"github.com/nidhogg/mesh/internal/delegation"
)

// MessageType discriminates ACP messages.
type MessageType string

const (
	TypeTask      MessageType = "task"
	TypeResponse  MessageType = "response"
	TypeError     MessageType = "error"
	TypeHeartbeat MessageType = "heartbeat"
	TypeDiscovery MessageType = "discovery"
)

// TaskStatus is the ACP view of a task's progress.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ParseTaskStatus validates a status query value. Empty means any.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch st := TaskStatus(s); st {
	case "", TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled:
		return st, true
	default:
		return "", false
	}
}

func statusOf(s delegation.Status) TaskStatus {
	if s == delegation.StatusInProgress {
		return TaskRunning
	}
	return TaskStatus(s)
}

func (s TaskStatus) terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Message is one ACP envelope. Task, response and error messages carry the
// fields of their type; the rest stay empty.
type Message struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type" validate:"required,oneof=task response error heartbeat discovery"`
	Timestamp time.Time      `json:"timestamp"`
	Sender    string         `json:"sender" validate:"required"`
	Recipient string         `json:"recipient,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    TaskStatus     `json:"status"`
	Error     string         `json:"error,omitempty"`

	// task
	TaskType   string         `json:"task_type,omitempty" validate:"required_if=Type task"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
	Timeout    int            `json:"timeout,omitempty" validate:"omitempty,min=1"`

	// response and error
	TaskID       string         `json:"task_id,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Artifacts    []any          `json:"artifacts,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// Manifest describes an agent registering over ACP.
type Manifest struct {
	ID               string         `json:"id" validate:"required"`
	Name             string         `json:"name" validate:"required"`
	Description      string         `json:"description"`
	Version          string         `json:"version"`
	Endpoint         string         `json:"endpoint,omitempty" validate:"omitempty,url"`
	Capabilities     []string       `json:"capabilities"`
	SupportedTasks   []string       `json:"supported_tasks"`
	SupportedFormats []string       `json:"supported_formats"`
	ContactInfo      map[string]any `json:"contact_info,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Task tracks a task message through its delegation.
type Task struct {
	ID           string         `json:"id"`
	TaskType     string         `json:"task_type"`
	Sender       string         `json:"sender"`
	Recipient    string         `json:"recipient"`
	Priority     int            `json:"priority"`
	Status       TaskStatus     `json:"status"`
	DelegationID string         `json:"delegation_id,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	ReplyID      string         `json:"reply_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
