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

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, DashScope compatible mode, vLLM, LM Studio).
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client. baseURL includes the version path,
// e.g. https://api.openai.com/v1.
func NewOpenAIClient(baseURL, apiKey string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(2*time.Minute), httpkit.WithLogger(logger)),
		logger:     logger,
	}
}

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// openaiToolCall carries arguments as a JSON-encoded string.
type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func toOpenAIMessages(msgs []Message) ([]openaiMessage, error) {
	out := make([]openaiMessage, len(msgs))
	for i, m := range msgs {
		om := openaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode arguments for %s: %w", tc.Function.Name, err)
			}
			otc := openaiToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Function.Name
			otc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out[i] = om
	}
	return out, nil
}

func fromOpenAIMessage(om openaiMessage) Message {
	m := Message{Role: om.Role, Content: om.Content}
	for _, otc := range om.ToolCalls {
		tc := ToolCall{ID: otc.ID, Function: FunctionCall{Name: otc.Function.Name}}
		if otc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(otc.Function.Arguments), &tc.Function.Arguments); err != nil {
				tc.Function.Arguments = map[string]any{"_raw": otc.Function.Arguments}
			}
		}
		m.ToolCalls = append(m.ToolCalls, tc)
	}
	return m
}

// Chat sends a completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts Options) (*ChatResponse, error) {
	opts = opts.withDefaults()
	start := time.Now()

	wire, err := toOpenAIMessages(messages)
	if err != nil {
		return nil, &CompletionError{Provider: "openai", Err: err}
	}
	body, err := json.Marshal(openaiRequest{
		Model:       model,
		Messages:    wire,
		Tools:       tools,
		Temperature: *opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, &CompletionError{Provider: "openai", Err: fmt.Errorf("marshal request: %w", err)}
	}
	c.logger.Log(ctx, config.LevelTrace, "openai request", "model", model, "body", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &CompletionError{Provider: "openai", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CompletionError{Provider: "openai", Err: err}
	}
	if !httpkit.IsSuccess(resp.StatusCode) {
		return nil, &CompletionError{
			Provider: "openai",
			Status:   resp.StatusCode,
			Body:     httpkit.ReadErrorBody(resp.Body, 1024),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &CompletionError{Provider: "openai", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return nil, &CompletionError{Provider: "openai", Err: errNoChoices}
	}

	msg := fromOpenAIMessage(out.Choices[0].Message)
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	c.logger.Debug("openai completion",
		"model", out.Model,
		"input_tokens", out.Usage.PromptTokens,
		"output_tokens", out.Usage.CompletionTokens,
		"tool_calls", len(msg.ToolCalls),
		"elapsed", time.Since(start),
	)

	return &ChatResponse{
		Model:        out.Model,
		Message:      msg,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}, nil
}

// Ping lists models to check reachability and credentials.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if !httpkit.IsSuccess(resp.StatusCode) {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}
