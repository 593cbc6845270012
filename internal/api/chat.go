package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/pipeline"
)

// modelName is what the completions endpoint reports as the model.
const modelName = "hassist"

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// CommandInfo describes the command a turn executed.
type CommandInfo struct {
	EntityID  string `json:"entity_id"`
	Service   string `json:"service"`
	MatchedBy string `json:"matched_by"`
	Targets   int    `json:"targets"`
	Result    string `json:"result"`
}

// ChatResponse is the body returned by POST /v1/chat.
type ChatResponse struct {
	Response       string       `json:"response"`
	HTML           string       `json:"html,omitempty"`
	ConversationID string       `json:"conversation_id"`
	TurnID         string       `json:"turn_id"`
	Command        *CommandInfo `json:"command,omitempty"`
	Aborted        bool         `json:"aborted,omitempty"`
}

// NewChatResponse shapes a finished turn for the chat endpoints.
func NewChatResponse(convID string, turn pipeline.TurnState) ChatResponse {
	resp := ChatResponse{
		Response:       turn.Response,
		HTML:           renderHTML(turn.Response),
		ConversationID: convID,
		TurnID:         turn.ID,
		Aborted:        turn.Aborted,
	}
	if turn.Command != nil && turn.ExecutionResult != "" {
		resp.Command = &CommandInfo{
			EntityID:  turn.Command.EntityID,
			Service:   turn.Command.Service,
			MatchedBy: string(turn.Command.MatchedBy),
			Targets:   len(turn.Command.Targets),
			Result:    turn.ExecutionResult,
		}
	}
	return resp
}

// handleChat runs one turn of a server-side conversation.
// POST /v1/chat {"message": "turn off all lights"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	turn := s.processor.Process(r.Context(), convID, req.Message, s.conversations.Get(convID))
	// An aborted turn has no reply to remember.
	if !turn.Aborted {
		s.conversations.Put(convID, turn.Messages)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, NewChatResponse(convID, turn), s.logger)
}

// ChatCompletionRequest is the OpenAI-compatible request format. The
// client owns the history; the last message must be from the user.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	User     string        `json:"user,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible response format.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stream {
		s.errorResponse(w, http.StatusBadRequest, "streaming is not supported")
		return
	}
	n := len(req.Messages)
	if n == 0 || req.Messages[n-1].Role != llm.RoleUser || req.Messages[n-1].Content == "" {
		s.errorResponse(w, http.StatusBadRequest, "last message must be a non-empty user message")
		return
	}

	// The client's own system prompt is replaced by ours.
	history := make([]llm.Message, 0, n-1)
	for _, m := range req.Messages[:n-1] {
		if m.Role != llm.RoleSystem {
			history = append(history, m)
		}
	}

	convID := req.User
	if convID == "" {
		convID = uuid.NewString()
	}
	turn := s.processor.Process(r.Context(), convID, req.Messages[n-1].Content, history)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatCompletionResponse{
		ID:      "chatcmpl-" + turn.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: turn.Response},
			FinishReason: "stop",
		}},
	}, s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       modelName,
			"object":   "model",
			"owned_by": modelName,
		}},
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs := s.conversations.Get(id)
	if msgs == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversation_id": id, "messages": msgs}, s.logger)
}

// handleConversationDelete forgets a conversation, including what the
// memory ledger recorded for it.
func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed := s.conversations.Delete(id)
	if s.opts.Forgetter != nil {
		s.opts.Forgetter.Forget(id)
	}
	if !existed {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EntityInfo is one entity in GET /v1/entities.
type EntityInfo struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	State    string `json:"state"`
	Unit     string `json:"unit,omitempty"`
	Group    string `json:"group"`
}

// handleEntities lists classified entities, optionally for one domain.
// GET /v1/entities?domain=light
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if s.opts.Snapshots == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "entity snapshots are not configured")
		return
	}

	snap, err := s.opts.Snapshots.Current(r.Context())
	if err != nil {
		code := http.StatusBadGateway
		var se *entity.SourceError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			code = http.StatusServiceUnavailable
		}
		s.logger.Warn("entity listing failed", "error", err)
		s.errorResponse(w, code, err.Error())
		return
	}

	entities := snap.Entities(r.URL.Query().Get("domain"))
	out := make([]EntityInfo, 0, len(entities))
	for _, e := range entities {
		out = append(out, EntityInfo{
			EntityID: e.ID,
			Name:     e.DisplayName(),
			Domain:   e.Domain(),
			State:    e.State,
			Unit:     e.UnitString(),
			Group:    entity.GroupOf(e),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"count": len(out), "entities": out}, s.logger)
}
