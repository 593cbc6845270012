// Package llm provides chat completion clients for OpenAI-compatible
// endpoints and Ollama.
package llm

import (
	"errors"
	"fmt"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool results
}

// FunctionCall names a tool and its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// ChatResponse is the provider-neutral completion result.
type ChatResponse struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Default sampling parameters.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Options are per-request sampling parameters. A nil Temperature and a
// zero MaxTokens take the defaults; a Temperature of zero is kept.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer for [Options.Temperature].
func Temperature(v float64) *float64 { return &v }

func (o Options) withDefaults() Options {
	if o.Temperature == nil {
		o.Temperature = Temperature(DefaultTemperature)
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// CompletionError is returned by every client when a completion cannot be
// produced. Callers decide what to show the user; the provider's text
// never becomes conversation content.
type CompletionError struct {
	Provider string
	Status   int    // HTTP status, zero when no response arrived
	Body     string // truncated error body
	Err      error
}

func (e *CompletionError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return e.Provider + ": completion failed"
	}
}

func (e *CompletionError) Unwrap() error { return e.Err }

// IsCompletionError reports whether err carries a *CompletionError.
func IsCompletionError(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}

var errNoChoices = errors.New("response contained no choices")
