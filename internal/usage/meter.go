package usage

import (
	"context"
	"log/slog"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
)

type tagsKey struct{}

// Tags identify what a completion was made for.
type Tags struct {
	TurnID         string
	ConversationID string
	Purpose        string
}

// WithTags returns ctx carrying tags. Empty fields inherit from tags
// already on ctx.
func WithTags(ctx context.Context, tags Tags) context.Context {
	prev := TagsFrom(ctx)
	if tags.TurnID == "" {
		tags.TurnID = prev.TurnID
	}
	if tags.ConversationID == "" {
		tags.ConversationID = prev.ConversationID
	}
	if tags.Purpose == "" {
		tags.Purpose = prev.Purpose
	}
	return context.WithValue(ctx, tagsKey{}, tags)
}

// WithPurpose is shorthand for WithTags with only a purpose.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return WithTags(ctx, Tags{Purpose: purpose})
}

// TagsFrom returns the tags on ctx, or the zero value.
func TagsFrom(ctx context.Context) Tags {
	tags, _ := ctx.Value(tagsKey{}).(Tags)
	return tags
}

// recorder is the subset of Store used by Meter.
type recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Meter is an llm.Client that records the token usage of every
// successful completion. Recording failures are logged only.
type Meter struct {
	next   llm.Client
	store  recorder
	logger *slog.Logger
}

// NewMeter wraps next.
func NewMeter(next llm.Client, store recorder, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{next: next, store: store, logger: logger}
}

// Chat implements llm.Client.
func (m *Meter) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any, opts llm.Options) (*llm.ChatResponse, error) {
	resp, err := m.next.Chat(ctx, model, messages, tools, opts)
	if err != nil {
		return nil, err
	}

	tags := TagsFrom(ctx)
	if resp.Model != "" {
		model = resp.Model
	}
	rec := Record{
		TurnID:         tags.TurnID,
		ConversationID: tags.ConversationID,
		Model:          model,
		Purpose:        tags.Purpose,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		Elapsed:        resp.Duration,
	}
	// The turn may already be cancelled; the ledger write should not be.
	if err := m.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("usage record failed", "model", model, "error", err)
	}
	return resp, nil
}

// Ping implements llm.Client.
func (m *Meter) Ping(ctx context.Context) error {
	return m.next.Ping(ctx)
}
