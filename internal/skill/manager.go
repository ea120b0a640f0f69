package skill

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps task types to handlers and holds the advertised skills.
// All operations are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	skills   map[string]*Skill
	strict   bool
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry. In strict mode unknown task types
// fail instead of falling back to the generic handler.
func NewRegistry(strict bool, logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		skills:   make(map[string]*Skill),
		strict:   strict,
		logger:   logger,
	}
}

// Register binds a handler to a task type, replacing any previous binding.
func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// AddSkill adds an advertised skill.
func (r *Registry) AddSkill(s *Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.ID] = s
}

// Skills returns the advertised skills sorted by id.
func (r *Registry) Skills() []*Skill {
	r.mu.RLock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Execute runs the handler for taskType.
func (r *Registry) Execute(ctx context.Context, taskType, agent string, payload map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	h, ok := r.handlers[taskType]
	r.mu.RUnlock()

	if !ok {
		if r.strict {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
		}
		r.logger.Debug("no handler, using generic result", zap.String("task_type", taskType))
		return map[string]any{
			"result_data": fmt.Sprintf("Task '%s' completed successfully", taskType),
		}, nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return h(ctx, agent, payload)
}
