// Package pipeline runs one user turn through the fixed node graph
// refresh_snapshot → record_memory → resolve_command → (execute →)
// generate_response.
//
// Each node is a step from one [TurnState] to the next and the edges are
// chosen by guard predicates over the state. [Pipeline.Process] never
// returns an error: every failure becomes a user-facing response.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/agent"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/memory"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/usage"
)

// DefaultConfirmTimeout bounds the confirmation call when none is set.
const DefaultConfirmTimeout = 10 * time.Second

// Snapshots is the shared entity snapshot cache.
type Snapshots interface {
	Refresh(ctx context.Context) (*entity.Snapshot, error)
}

// Resolver maps an utterance to a command and executes it.
type Resolver interface {
	Resolve(snap *entity.Snapshot, utterance string) *command.Match
	Execute(ctx context.Context, m *command.Match) command.Outcome
}

// Agent answers utterances that are not direct commands.
type Agent interface {
	Run(ctx context.Context, messages []llm.Message, toolset agent.ToolSet) ([]llm.Message, error)
}

// CommandObserver is told about every executed command.
type CommandObserver interface {
	CommandExecuted(ctx context.Context, turnID string, m *command.Match, outcome command.Outcome)
}

// Observers fans a command out to every observer in order.
type Observers []CommandObserver

// CommandExecuted implements CommandObserver.
func (o Observers) CommandExecuted(ctx context.Context, turnID string, m *command.Match, outcome command.Outcome) {
	for _, obs := range o {
		obs.CommandExecuted(ctx, turnID, m, outcome)
	}
}

// Config wires a pipeline. Store, Resolver and Agent are required.
type Config struct {
	Store    Snapshots
	Resolver Resolver
	Agent    Agent
	Tools    agent.ToolSet

	// Memory and Ledger default to disabled memory and a fresh ledger.
	Memory *memory.Recorder
	Ledger *memory.Ledger

	// LLM and Model phrase command results. A nil LLM returns results raw.
	LLM            llm.Client
	Model          string
	ConfirmTimeout time.Duration

	Observer CommandObserver
	Logger   *slog.Logger
}

// Pipeline processes turns. It is safe for concurrent use; concurrent
// turns share only the snapshot store and the memory ledger.
type Pipeline struct {
	store          Snapshots
	resolver       Resolver
	agent          Agent
	tools          agent.ToolSet
	memory         *memory.Recorder
	ledger         *memory.Ledger
	llm            llm.Client
	model          string
	confirmTimeout time.Duration
	observer       CommandObserver
	logger         *slog.Logger

	nodes map[NodeName]node
}

type node func(ctx context.Context, s TurnState) (TurnState, error)

// New creates a pipeline from cfg.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:          cfg.Store,
		resolver:       cfg.Resolver,
		agent:          cfg.Agent,
		tools:          cfg.Tools,
		memory:         cfg.Memory,
		ledger:         cfg.Ledger,
		llm:            cfg.LLM,
		model:          cfg.Model,
		confirmTimeout: cfg.ConfirmTimeout,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.memory == nil {
		p.memory = memory.NewRecorder(nil, p.logger)
	}
	if p.ledger == nil {
		p.ledger = memory.NewLedger(0)
	}
	if p.confirmTimeout <= 0 {
		p.confirmTimeout = DefaultConfirmTimeout
	}
	p.nodes = map[NodeName]node{
		NodeRefreshSnapshot:  p.refreshSnapshot,
		NodeRecordMemory:     p.recordMemory,
		NodeResolveCommand:   p.resolveCommand,
		NodeExecute:          p.execute,
		NodeGenerateResponse: p.generateResponse,
	}
	return p
}

// Process runs one turn: history followed by message as a user message.
// The snapshot is rebuilt from the state source first. The returned
// state always has a Response.
func (p *Pipeline) Process(ctx context.Context, conversationID, message string, history []llm.Message) TurnState {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})

	return p.Run(ctx, TurnState{
		ConversationID: conversationID,
		Messages:       msgs,
	})
}

// Run drives s from refresh_snapshot to the end. Panics and unexpected
// errors become MsgInternalFailure.
func (p *Pipeline) Run(ctx context.Context, s TurnState) (out TurnState) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Node = NodeRefreshSnapshot
	logger := p.logger.With("turn", s.ID, "conversation", s.ConversationID)
	ctx = usage.WithTags(ctx, usage.Tags{TurnID: s.ID, ConversationID: s.ConversationID})
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "node", out.Node, "panic", r, "stack", string(debug.Stack()))
			out.Response = MsgInternalFailure
			out.Aborted = true
			out.Node = NodeEnd
		}
	}()

	out = s
	for out.Node != NodeEnd {
		step, ok := p.nodes[out.Node]
		if !ok {
			return p.fail(logger, out, fmt.Errorf("no node named %q", out.Node))
		}

		logger.Debug("entering node", "node", out.Node)
		out.Trace = append(out.Trace, out.Node)

		updated, err := step(ctx, out)
		if err != nil {
			return p.fail(logger, out, fmt.Errorf("%s: %w", out.Node, err))
		}
		updated.Node = next(updated)
		out = updated
	}

	logger.Info("turn complete",
		"trace", out.Trace,
		"executed", out.ExecutionResult != "",
		"aborted", out.Aborted,
		"elapsed", time.Since(start),
	)
	return out
}

func (p *Pipeline) fail(logger *slog.Logger, s TurnState, err error) TurnState {
	logger.Error("turn failed", "node", s.Node, "error", err)
	s.Response = MsgInternalFailure
	s.Aborted = true
	s.Node = NodeEnd
	return s
}
