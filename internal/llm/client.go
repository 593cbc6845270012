package llm

import (
	"context"
	"strings"
)

// Client is implemented by every provider.
type Client interface {
	// Chat sends one completion request. tools uses the OpenAI function
	// format and may be nil. Failures are *CompletionError.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts Options) (*ChatResponse, error)

	// Ping checks that the provider is reachable.
	Ping(ctx context.Context) error
}

// Complete runs a tool-less chat and returns the trimmed reply text.
func Complete(ctx context.Context, c Client, model string, messages []Message, opts Options) (string, error) {
	resp, err := c.Chat(ctx, model, messages, nil, opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
