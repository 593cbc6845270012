// Package agent runs the tool-calling loop that answers utterances the
// command resolver could not handle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/prompts"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/tools"
)

// DefaultMaxIterations caps LLM round trips when none is configured.
const DefaultMaxIterations = 8

// ToolSet is what the loop needs from a tool registry.
type ToolSet interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Agent drives one model through tool calls until it answers.
type Agent struct {
	llm           llm.Client
	model         string
	opts          llm.Options
	maxIterations int
	logger        *slog.Logger
}

// New creates an agent. maxIterations below 1 means DefaultMaxIterations.
func New(client llm.Client, model string, opts llm.Options, maxIterations int, logger *slog.Logger) *Agent {
	if maxIterations < 1 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		llm:           client,
		model:         model,
		opts:          opts,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run continues the conversation in messages. It returns messages
// followed by every assistant and tool message produced; the last element
// is always the assistant's reply. A nil toolset runs without tools. LLM
// failures are returned unchanged so callers can match
// *llm.CompletionError.
func (a *Agent) Run(ctx context.Context, messages []llm.Message, toolset ToolSet) ([]llm.Message, error) {
	out := append([]llm.Message(nil), messages...)

	var defs []map[string]any
	if toolset != nil {
		defs = toolset.List()
	}

	start := time.Now()
	nudged := false
	for iter := 0; iter < a.maxIterations; iter++ {
		req := out
		if nudged {
			req = append(append([]llm.Message(nil), out...), llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
		}

		resp, err := a.llm.Chat(ctx, a.model, req, defs, a.opts)
		if err != nil {
			return nil, err
		}
		msg := resp.Message
		msg.Role = llm.RoleAssistant

		a.logger.Debug("agent iteration",
			"iter", iter,
			"model", resp.Model,
			"tool_calls", len(msg.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		if len(msg.ToolCalls) == 0 {
			if strings.TrimSpace(msg.Content) == "" && !nudged && iter > 0 {
				nudged = true
				continue
			}
			if strings.TrimSpace(msg.Content) == "" {
				msg.Content = prompts.EmptyResponseFallback
			}
			out = append(out, msg)
			a.logger.Info("agent finished", "iterations", iter+1, "elapsed", time.Since(start))
			return out, nil
		}

		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].ID == "" {
				msg.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", iter, i)
			}
		}
		out = append(out, msg)
		for _, tc := range msg.ToolCalls {
			out = append(out, a.runTool(ctx, toolset, tc))
		}
	}

	// Out of iterations: one last call without tools forces an answer.
	a.logger.Warn("agent hit max iterations", "max", a.maxIterations)
	final := append(append([]llm.Message(nil), out...), llm.Message{Role: llm.RoleUser, Content: prompts.MaxIterationsNudge})
	resp, err := a.llm.Chat(ctx, a.model, final, nil, a.opts)
	if err != nil {
		return nil, err
	}
	reply := llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content}
	if strings.TrimSpace(reply.Content) == "" {
		reply.Content = prompts.EmptyResponseFallback
	}
	return append(out, reply), nil
}

// runTool executes one call and returns the tool message. Failures are
// reported to the model as the tool result.
func (a *Agent) runTool(ctx context.Context, toolset ToolSet, tc llm.ToolCall) llm.Message {
	result := llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID}
	if toolset == nil {
		result.Content = fmt.Sprintf("Error: tool %q is not available", tc.Function.Name)
		return result
	}

	start := time.Now()
	content, err := toolset.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		var unavailable *tools.ErrToolUnavailable
		if errors.As(err, &unavailable) {
			a.logger.Warn("model requested unknown tool", "tool", tc.Function.Name)
		} else {
			a.logger.Warn("tool failed", "tool", tc.Function.Name, "error", err)
		}
		result.Content = "Error: " + err.Error()
		return result
	}

	a.logger.Debug("tool executed", "tool", tc.Function.Name, "elapsed", time.Since(start), "result_len", len(content))
	result.Content = content
	return result
}
