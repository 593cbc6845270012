package tools

import "fmt"

// ErrToolUnavailable is returned by [Registry.Execute] when the model
// names a tool that is neither a native Home Assistant tool nor one
// bridged from the MCP server. The agent hands the message back to the
// model as the tool result so it can pick another tool.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("no tool named %q is registered", e.ToolName)
}
