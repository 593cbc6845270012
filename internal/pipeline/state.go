package pipeline

import (
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
)

// NodeName identifies a pipeline step.
type NodeName string

// Pipeline nodes in execution order. NodeEnd is the terminal marker.
const (
	NodeRefreshSnapshot  NodeName = "refresh_snapshot"
	NodeRecordMemory     NodeName = "record_memory"
	NodeResolveCommand   NodeName = "resolve_command"
	NodeExecute          NodeName = "execute"
	NodeGenerateResponse NodeName = "generate_response"
	NodeEnd              NodeName = "end"
)

// Fixed user-facing responses.
const (
	MsgUnauthorized    = "authorization failed: check the Home Assistant access token"
	MsgConnection      = "cannot connect to Home Assistant"
	MsgSourceStatus    = "Home Assistant returned an error (%d)"
	MsgSourceUnknown   = "Home Assistant returned an error"
	MsgLLMUnavailable  = "sorry, the language model is unavailable right now"
	MsgInternalFailure = "sorry, something went wrong while handling your request"
)

// TurnState is everything one turn carries between nodes. Nodes take a
// state and return the next one; a state is never shared between turns.
type TurnState struct {
	ID             string
	ConversationID string

	// Messages is the conversation ending with the current user message.
	// After the agent runs it holds the agent's full sequence without the
	// system prompt.
	Messages []llm.Message

	// Snapshot is used as is when set on entry; otherwise it is fetched.
	Snapshot *entity.Snapshot

	Command         *command.Match
	ExecutionResult string
	Response        string

	// Aborted is set when the turn ended early with a fixed message.
	Aborted bool

	Node  NodeName
	Trace []NodeName
}

// LastUserMessage returns the content of the last user message, or "".
func (s TurnState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// shouldExecute guards the resolve_command → execute edge.
func shouldExecute(s TurnState) bool {
	return s.Command != nil && len(s.Command.Targets) > 0
}

// next returns the node that follows s.Node.
func next(s TurnState) NodeName {
	if s.Aborted {
		return NodeEnd
	}
	switch s.Node {
	case NodeRefreshSnapshot:
		return NodeRecordMemory
	case NodeRecordMemory:
		return NodeResolveCommand
	case NodeResolveCommand:
		if shouldExecute(s) {
			return NodeExecute
		}
		return NodeGenerateResponse
	case NodeExecute:
		return NodeGenerateResponse
	default:
		return NodeEnd
	}
}
