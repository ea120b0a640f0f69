package command

import (
	"context"
	"encoding/json"
	"fmt"
)

// BridgedTool is a command wrapped as a named tool with a single free-form
// "args" parameter, for front ends that expose tools instead of slash commands.
type BridgedTool struct {
	Name        string
	Description string
	Handler     func(ctx context.Context, args string) (string, error)
}

// BridgeCommands converts all registered commands into tools named
// "cmd_<command>". The handler returns the command result as JSON.
func BridgeCommands(reg *Registry, cc *CommandContext) []BridgedTool {
	cmds := reg.List()
	tools := make([]BridgedTool, 0, len(cmds))

	for _, c := range cmds {
		tools = append(tools, BridgedTool{
			Name:        "cmd_" + c.Name,
			Description: fmt.Sprintf("Slash command /%s: %s\nUsage: %s", c.Name, c.Description, c.Usage),
			Handler: func(ctx context.Context, args string) (string, error) {
				result, err := c.Handler(ctx, args, cc)
				if err != nil {
					return "", err
				}
				b, err := json.Marshal(result)
				if err != nil {
					return "", err
				}
				return string(b), nil
			},
		})
	}
	return tools
}
