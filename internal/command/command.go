package command

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Command is a slash command reachable from /api/chat, A2A text parts and
// the cmd_<name> MCP tools.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     CommandHandler
}

type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext identifies where a command came from.
type CommandContext struct {
	Source    string // "api", "a2a", "mcp"
	ContextID string
	UserName  string
}

// CommandResult is the text reply plus optional structured data for
// front ends that render it (agent lists, delegation records).
type CommandResult struct {
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// Registry maps lower-case command names to commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register binds cmd under its lower-cased name, replacing any earlier binding.
func (r *Registry) Register(cmd *Command) {
	name := strings.ToLower(cmd.Name)
	r.mu.Lock()
	r.commands[name] = cmd
	r.mu.Unlock()
}

// Parse splits "/delegate GrammarBot grammar_check {...}" into the command
// name and the untouched argument text.
func Parse(input string) (name, args string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// Dispatch runs the command named in input. Unknown names are answered with
// a hint rather than an error so chat front ends can show it as-is.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	name, args := Parse(input)
	if name == "" {
		return &CommandResult{Content: "Type /help for available commands."}, nil
	}

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		msg := fmt.Sprintf("Unknown command: /%s.", name)
		if near := r.closest(name); near != "" {
			msg += fmt.Sprintf(" Did you mean /%s?", near)
		}
		return &CommandResult{Content: msg + " Type /help for available commands."}, nil
	}
	if cc == nil {
		cc = &CommandContext{}
	}
	return cmd.Handler(ctx, args, cc)
}

// Respond dispatches slash commands and answers free text with Reply.
func (r *Registry) Respond(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	if strings.HasPrefix(strings.TrimSpace(input), "/") {
		return r.Dispatch(ctx, input, cc)
	}
	return &CommandResult{Content: Reply(input)}, nil
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Command) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// closest returns a registered name sharing a prefix with name, or "".
func (r *Registry) closest(name string) string {
	if len(name) < 3 {
		return ""
	}
	for _, cmd := range r.List() {
		if strings.HasPrefix(cmd.Name, name[:3]) || strings.HasPrefix(name, cmd.Name) {
			return cmd.Name
		}
	}
	return ""
}
