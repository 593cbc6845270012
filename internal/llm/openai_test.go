package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClient_Chat(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "call_service", "arguments": "{\"domain\":\"light\",\"service\":\"turn_on\"}"}}]
			}}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 9}
		}`))
	}))
	defer srv.Close()

	history := []Message{
		{Role: RoleUser, Content: "lights on"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Function: FunctionCall{Name: "find_entity", Arguments: map[string]any{"query": "kitchen"}}}}},
		{Role: RoleTool, ToolCallID: "call_0", Content: "light.kitchen"},
	}

	c := NewOpenAIClient(srv.URL+"/v1/", "sk-test", discardLogger())
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", history, nil, Options{Temperature: Temperature(0.2)})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got.Temperature != 0.2 || got.MaxTokens != DefaultMaxTokens {
		t.Errorf("sampling = %v/%d", got.Temperature, got.MaxTokens)
	}
	if len(got.Messages) != 3 || len(got.Messages[1].ToolCalls) != 1 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if args := got.Messages[1].ToolCalls[0].Function.Arguments; args != `{"query":"kitchen"}` {
		t.Errorf("encoded arguments = %s", args)
	}
	if got.Messages[2].ToolCallID != "call_0" {
		t.Errorf("tool_call_id = %q", got.Messages[2].ToolCallID)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "call_service" || tc.Function.Arguments["service"] != "turn_on" {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 40 || resp.OutputTokens != 9 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenAIClient_Temperature(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want float64
	}{
		{"unset takes default", Options{}, DefaultTemperature},
		{"explicit zero kept", Options{Temperature: Temperature(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&body)
				w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`))
			}))
			defer srv.Close()

			c := NewOpenAIClient(srv.URL, "", discardLogger())
			if _, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil, tt.opts); err != nil {
				t.Fatalf("Chat: %v", err)
			}
			got, ok := body["temperature"].(float64)
			if !ok || got != tt.want {
				t.Errorf("temperature = %v, want %v", body["temperature"], tt.want)
			}
		})
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"model":"m","choices":[]}`))
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewOpenAIClient(srv.URL, "", discardLogger())
			_, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil, Options{})

			var ce *CompletionError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *CompletionError", err)
			}
			if ce.Provider != "openai" || ce.Status != tt.wantStatus {
				t.Errorf("CompletionError = %+v", ce)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Kitchen light is on.\n"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", discardLogger())
	got, err := Complete(context.Background(), c, "m", nil, Options{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Kitchen light is on." {
		t.Errorf("Complete = %q", got)
	}
}
