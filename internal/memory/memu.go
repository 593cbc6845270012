package memory

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

// MemUClient stores and retrieves memories through the MemU HTTP API.
type MemUClient struct {
	baseURL    string
	apiKey     string
	userID     string
	userName   string
	agentID    string
	agentName  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewMemUClient creates a client from configuration.
func NewMemUClient(cfg config.MemUConfig, logger *slog.Logger) *MemUClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemUClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userID:     cfg.UserID,
		userName:   cfg.UserName,
		agentID:    cfg.AgentID,
		agentName:  cfg.AgentName,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30*time.Second), httpkit.WithLogger(logger)),
		logger:     logger,
	}
}

type memorizeRequest struct {
	Conversation []Turn `json:"conversation"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	AgentID      string `json:"agent_id"`
	AgentName    string `json:"agent_name"`
	SessionDate  string `json:"session_date"`
}

type memorizeResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type retrieveRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
}

type memoryCategory struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

type retrieveResponse struct {
	Categories []memoryCategory `json:"categories"`
}

// Record submits turns as one conversation to be memorized.
func (c *MemUClient) Record(ctx context.Context, turns []Turn) error {
	req := memorizeRequest{
		Conversation: turns,
		UserID:       c.userID,
		UserName:     c.userName,
		AgentID:      c.agentID,
		AgentName:    c.agentName,
		SessionDate:  time.Now().UTC().Format(time.RFC3339),
	}
	var resp memorizeResponse
	if err := c.post(ctx, "/api/v1/memory/memorize", req, &resp); err != nil {
		return fmt.Errorf("memorize: %w", err)
	}
	c.logger.Debug("memu memorize accepted", "task_id", resp.TaskID, "turns", len(turns))
	return nil
}

// Retrieve renders every non-empty default category summary as
// "**name:** summary" blocks.
func (c *MemUClient) Retrieve(ctx context.Context) (string, error) {
	var resp retrieveResponse
	req := retrieveRequest{UserID: c.userID, AgentID: c.agentID}
	if err := c.post(ctx, "/api/v1/memory/retrieve/default-categories", req, &resp); err != nil {
		return "", fmt.Errorf("retrieve categories: %w", err)
	}

	var b strings.Builder
	for _, cat := range resp.Categories {
		if cat.Summary == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s:** %s\n\n", cat.Name, cat.Summary)
	}
	return b.String(), nil
}

func (c *MemUClient) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	if !httpkit.IsSuccess(resp.StatusCode) {
		return fmt.Errorf("status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
