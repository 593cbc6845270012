package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/memory"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/prompts"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/usage"
)

// confirmOptions keep the confirmation short and literal.
var confirmOptions = llm.Options{Temperature: llm.Temperature(0.3), MaxTokens: 200}

func (p *Pipeline) refreshSnapshot(ctx context.Context, s TurnState) (TurnState, error) {
	if s.Snapshot != nil {
		return s, nil
	}

	snap, err := p.store.Refresh(ctx)
	if err != nil {
		var se *entity.SourceError
		if !errors.As(err, &se) {
			return s, err
		}
		p.logger.Warn("entity snapshot unavailable, aborting turn",
			"turn", s.ID, "kind", se.Kind, "status", se.Status, "error", se.Err)
		s.Response = sourceErrorMessage(se)
		s.Aborted = true
		return s, nil
	}
	s.Snapshot = snap
	return s, nil
}

func sourceErrorMessage(se *entity.SourceError) string {
	switch se.Kind {
	case homeassistant.KindUnauthorized:
		return MsgUnauthorized
	case homeassistant.KindConnection:
		return MsgConnection
	}
	if se.Status == 0 {
		return MsgSourceUnknown
	}
	return fmt.Sprintf(MsgSourceStatus, se.Status)
}

// recordMemory forwards the conversation messages this conversation has
// not forwarded before. Failures are logged by the recorder.
func (p *Pipeline) recordMemory(ctx context.Context, s TurnState) (TurnState, error) {
	if !p.memory.Enabled() {
		return s, nil
	}

	turns := make([]memory.Turn, 0, len(s.Messages))
	for _, m := range s.Messages {
		if (m.Role != llm.RoleUser && m.Role != llm.RoleAssistant) || strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, memory.Turn{Role: m.Role, Content: m.Content})
	}

	pending := p.ledger.Pending(s.ConversationID, turns)
	if p.memory.Record(ctx, pending) {
		p.ledger.Commit(s.ConversationID, pending)
	}
	return s, nil
}

func (p *Pipeline) resolveCommand(_ context.Context, s TurnState) (TurnState, error) {
	utterance := s.LastUserMessage()
	if utterance == "" {
		return s, nil
	}
	s.Command = p.resolver.Resolve(s.Snapshot, utterance)
	if s.Command != nil {
		p.logger.Debug("command resolved",
			"turn", s.ID,
			"entity_id", s.Command.EntityID,
			"service", s.Command.Service,
			"matched_by", s.Command.MatchedBy,
			"targets", len(s.Command.Targets),
		)
	}
	return s, nil
}

// execute runs the command, then refreshes the snapshot because device
// state changed. A failed refresh keeps the old snapshot.
func (p *Pipeline) execute(ctx context.Context, s TurnState) (TurnState, error) {
	outcome := p.resolver.Execute(ctx, s.Command)
	s.ExecutionResult = outcome.Text

	if p.observer != nil {
		p.observer.CommandExecuted(ctx, s.ID, s.Command, outcome)
	}

	snap, err := p.store.Refresh(ctx)
	if err != nil {
		p.logger.Warn("snapshot refresh after command failed", "turn", s.ID, "error", err)
		return s, nil
	}
	s.Snapshot = snap
	return s, nil
}

func (p *Pipeline) generateResponse(ctx context.Context, s TurnState) (TurnState, error) {
	if s.ExecutionResult != "" {
		s.Response = p.confirm(ctx, s)
		s.Messages = append(s.Messages, llm.Message{Role: llm.RoleAssistant, Content: s.Response})
		return s, nil
	}

	system := prompts.SystemPrompt(entity.Overview(s.Snapshot), p.memory.Retrieve(ctx))
	msgs := make([]llm.Message, 0, len(s.Messages)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, s.Messages...)

	out, err := p.agent.Run(usage.WithPurpose(ctx, usage.PurposeAgent), msgs, p.tools)
	if err != nil {
		if llm.IsCompletionError(err) {
			p.logger.Warn("language model unavailable", "turn", s.ID, "error", err)
			s.Response = MsgLLMUnavailable
			return s, nil
		}
		return s, err
	}
	if len(out) == 0 {
		return s, errors.New("agent returned no messages")
	}

	s.Response = out[len(out)-1].Content
	s.Messages = withoutSystem(out)
	return s, nil
}

// confirm phrases the execution result with a bounded, best-effort LLM
// call. Any failure falls back to the raw result.
func (p *Pipeline) confirm(ctx context.Context, s TurnState) string {
	if p.llm == nil {
		return s.ExecutionResult
	}

	ctx, cancel := context.WithTimeout(usage.WithPurpose(ctx, usage.PurposeConfirm), p.confirmTimeout)
	defer cancel()

	friendly, err := llm.Complete(ctx, p.llm, p.model, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.ConfirmationSystem},
		{Role: llm.RoleUser, Content: prompts.ConfirmationPrompt(s.LastUserMessage(), s.ExecutionResult)},
	}, confirmOptions)
	if err != nil || friendly == "" {
		p.logger.Debug("confirmation skipped", "turn", s.ID, "error", err)
		return s.ExecutionResult
	}
	return friendly + "\n\n[system] " + s.ExecutionResult
}

func withoutSystem(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != llm.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
