package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/config"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/httpkit"
)

// OllamaClient is a client for the Ollama /api/chat endpoint.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a client. An empty baseURL means the local
// default.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Large local models with tools need time.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(5*time.Minute), httpkit.WithLogger(logger)),
		logger:     logger,
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  ollamaOptions    `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	TotalDuration   int64   `json:"total_duration"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Chat sends a non-streaming chat request.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts Options) (*ChatResponse, error) {
	opts = opts.withDefaults()

	body, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
		Options:  ollamaOptions{Temperature: *opts.Temperature, NumPredict: opts.MaxTokens},
	})
	if err != nil {
		return nil, &CompletionError{Provider: "ollama", Err: fmt.Errorf("marshal request: %w", err)}
	}
	c.logger.Log(ctx, config.LevelTrace, "ollama request", "model", model, "body", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &CompletionError{Provider: "ollama", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CompletionError{Provider: "ollama", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CompletionError{
			Provider: "ollama",
			Status:   resp.StatusCode,
			Body:     httpkit.ReadErrorBody(resp.Body, 1024),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &CompletionError{Provider: "ollama", Err: fmt.Errorf("decode response: %w", err)}
	}

	msg := out.Message
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	// Some models emit tool calls as JSON text instead of tool_calls.
	if len(msg.ToolCalls) == 0 && msg.Content != "" {
		if parsed := parseTextToolCalls(msg.Content, extractToolNames(tools)); len(parsed) > 0 {
			msg.ToolCalls = parsed
			msg.Content = ""
		}
	}

	return &ChatResponse{
		Model:        out.Model,
		Message:      msg,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		Duration:     time.Duration(out.TotalDuration),
	}, nil
}

type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// extractToolNames returns the function names from OpenAI-format tool
// definitions, skipping malformed entries.
func extractToolNames(tools []map[string]any) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fn["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

// parseTextToolCalls extracts tool calls a model wrote into its content
// instead of tool_calls. Accepted shapes are a JSON object, a JSON
// array, concatenated objects, "name {json}", and any of those inside
// <tool_call> tags. When validTools is non-empty, unknown names are
// dropped.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	var calls []textToolCall
	switch {
	case strings.HasPrefix(content, "["):
		if err := json.Unmarshal([]byte(content), &calls); err != nil {
			return nil
		}
	case strings.HasPrefix(content, "{"):
		calls = decodeConcatenated(content)
	default:
		// name {json}
		name, rest, ok := strings.Cut(content, " ")
		if !ok || !strings.HasPrefix(strings.TrimSpace(rest), "{") {
			return nil
		}
		var args map[string]any
		dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(rest)))
		if err := dec.Decode(&args); err != nil {
			return nil
		}
		calls = []textToolCall{{Name: name, Arguments: args}}
	}

	valid := make(map[string]bool, len(validTools))
	for _, n := range validTools {
		valid[n] = true
	}

	var out []ToolCall
	for _, tc := range calls {
		if tc.Name == "" {
			continue
		}
		if len(valid) > 0 && !valid[tc.Name] {
			continue
		}
		out = append(out, ToolCall{Function: FunctionCall{Name: tc.Name, Arguments: tc.Arguments}})
	}
	return out
}

// decodeConcatenated reads {..}{..} until the first value that is not a
// JSON object. Trailing prose is ignored.
func decodeConcatenated(content string) []textToolCall {
	dec := json.NewDecoder(strings.NewReader(content))
	var calls []textToolCall
	for dec.More() {
		var tc textToolCall
		if err := dec.Decode(&tc); err != nil {
			break
		}
		calls = append(calls, tc)
	}
	return calls
}

// ListModels returns the names of locally available models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Ping checks that Ollama answers /api/tags.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}
