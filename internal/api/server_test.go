package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/connwatch"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/pipeline"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type processCall struct {
	convID  string
	message string
	history []llm.Message
}

// echoProcessor answers with a markdown echo and records its calls.
type echoProcessor struct {
	mu      sync.Mutex
	calls   []processCall
	abort   bool
	command *command.Match
}

func (p *echoProcessor) Process(_ context.Context, convID, message string, history []llm.Message) pipeline.TurnState {
	p.mu.Lock()
	p.calls = append(p.calls, processCall{convID, message, history})
	p.mu.Unlock()

	reply := "**echo** " + message
	s := pipeline.TurnState{ID: "turn-1", ConversationID: convID, Response: reply, Aborted: p.abort}
	s.Messages = append(append([]llm.Message(nil), history...),
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	if p.command != nil {
		s.Command = p.command
		s.ExecutionResult = "executed: turn_off light.kitchen"
	}
	return s
}

type fakeSnapshots struct {
	snap *entity.Snapshot
	err  error
}

func (f fakeSnapshots) Current(context.Context) (*entity.Snapshot, error) { return f.snap, f.err }

type fakeHealth map[string]connwatch.Status

func (f fakeHealth) Status() map[string]connwatch.Status { return f }

type fakeForgetter struct{ forgotten []string }

func (f *fakeForgetter) Forget(id string) { f.forgotten = append(f.forgotten, id) }

func newTestServer(t *testing.T, p Processor, opts Options) *httptest.Server {
	t.Helper()
	s := NewServer("", 0, p, opts, discardLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.conversations.Close()
	})
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestChat_ConversationHistory(t *testing.T) {
	p := &echoProcessor{}
	ts := newTestServer(t, p, Options{})

	first := decode[ChatResponse](t, postJSON(t, ts.URL+"/v1/chat", `{"message": "hello"}`))
	if first.ConversationID == "" {
		t.Fatal("conversation id should be generated")
	}
	if first.Response != "**echo** hello" {
		t.Errorf("Response = %q", first.Response)
	}
	if !strings.Contains(first.HTML, "<strong>echo</strong>") {
		t.Errorf("HTML = %q", first.HTML)
	}

	body := `{"message": "again", "conversation_id": "` + first.ConversationID + `"}`
	second := decode[ChatResponse](t, postJSON(t, ts.URL+"/v1/chat", body))
	if second.ConversationID != first.ConversationID {
		t.Errorf("conversation id changed: %q", second.ConversationID)
	}

	if len(p.calls) != 2 {
		t.Fatalf("Process calls = %d", len(p.calls))
	}
	if got := p.calls[1].history; len(got) != 2 || got[0].Content != "hello" {
		t.Errorf("second turn history = %+v", got)
	}
}

func TestChat_AbortedTurnNotStored(t *testing.T) {
	p := &echoProcessor{abort: true}
	ts := newTestServer(t, p, Options{})

	resp := decode[ChatResponse](t, postJSON(t, ts.URL+"/v1/chat", `{"message": "hi", "conversation_id": "c1"}`))
	if !resp.Aborted {
		t.Error("Aborted should be reported")
	}
	decode[ChatResponse](t, postJSON(t, ts.URL+"/v1/chat", `{"message": "hi", "conversation_id": "c1"}`))
	if len(p.calls[1].history) != 0 {
		t.Errorf("aborted turn was stored: %+v", p.calls[1].history)
	}
}

func TestChat_CommandInfo(t *testing.T) {
	p := &echoProcessor{command: &command.Match{
		EntityID:  "light.kitchen",
		Service:   command.TurnOff,
		MatchedBy: command.MatchExactName,
		Targets:   []command.Target{{EntityID: "light.kitchen"}},
	}}
	ts := newTestServer(t, p, Options{})

	resp := decode[ChatResponse](t, postJSON(t, ts.URL+"/v1/chat", `{"message": "turn off kitchen light"}`))
	if resp.Command == nil {
		t.Fatal("command info missing")
	}
	if resp.Command.EntityID != "light.kitchen" || resp.Command.MatchedBy != "exact_name" || resp.Command.Targets != 1 {
		t.Errorf("Command = %+v", resp.Command)
	}
}

func TestChat_BadRequests(t *testing.T) {
	ts := newTestServer(t, &echoProcessor{}, Options{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"chat garbage", "/v1/chat", `{`},
		{"chat empty message", "/v1/chat", `{"message": ""}`},
		{"completions no messages", "/v1/chat/completions", `{"messages": []}`},
		{"completions last not user", "/v1/chat/completions", `{"messages": [{"role": "assistant", "content": "hi"}]}`},
		{"completions stream", "/v1/chat/completions", `{"stream": true, "messages": [{"role": "user", "content": "hi"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+tt.path, tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestChatCompletions(t *testing.T) {
	p := &echoProcessor{}
	ts := newTestServer(t, p, Options{})

	body := `{"model": "x", "user": "conv-7", "messages": [
		{"role": "system", "content": "be terse"},
		{"role": "user", "content": "hi"},
		{"role": "assistant", "content": "hello"},
		{"role": "user", "content": "lights?"}
	]}`
	resp := decode[ChatCompletionResponse](t, postJSON(t, ts.URL+"/v1/chat/completions", body))

	if resp.Object != "chat.completion" || resp.Model != modelName || resp.ID != "chatcmpl-turn-1" {
		t.Errorf("envelope = %+v", resp)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "**echo** lights?" {
		t.Errorf("Choices = %+v", resp.Choices)
	}

	call := p.calls[0]
	if call.convID != "conv-7" || call.message != "lights?" {
		t.Errorf("call = %+v", call)
	}
	if len(call.history) != 2 || call.history[0].Role != llm.RoleUser {
		t.Errorf("history should drop the system prompt: %+v", call.history)
	}
}

func TestConversation_GetAndDelete(t *testing.T) {
	forget := &fakeForgetter{}
	ts := newTestServer(t, &echoProcessor{}, Options{Forgetter: forget})

	decode[ChatResponse](t, postJSON(t, ts.URL+"/v1/chat", `{"message": "hello", "conversation_id": "c9"}`))

	resp, err := http.Get(ts.URL + "/v1/conversations/c9")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[struct {
		Messages []llm.Message `json:"messages"`
	}](t, resp)
	if len(got.Messages) != 2 {
		t.Errorf("messages = %+v", got.Messages)
	}

	del := func() int {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/conversations/c9", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := del(); code != http.StatusNoContent {
		t.Errorf("first delete = %d", code)
	}
	if code := del(); code != http.StatusNotFound {
		t.Errorf("second delete = %d", code)
	}
	if len(forget.forgotten) != 2 || forget.forgotten[0] != "c9" {
		t.Errorf("forgotten = %v", forget.forgotten)
	}

	resp, _ = http.Get(ts.URL + "/v1/conversations/c9")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d", resp.StatusCode)
	}
}

func TestEntities(t *testing.T) {
	snap := entity.Classify([]homeassistant.State{
		{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"friendly_name": "Kitchen Light"}},
		{EntityID: "sensor.kitchen_temp", State: "21.5", Attributes: map[string]any{"friendly_name": "Kitchen Temp", "unit_of_measurement": "°C"}},
	}, discardLogger())

	t.Run("all", func(t *testing.T) {
		ts := newTestServer(t, &echoProcessor{}, Options{Snapshots: fakeSnapshots{snap: snap}})
		resp, err := http.Get(ts.URL + "/v1/entities")
		if err != nil {
			t.Fatal(err)
		}
		got := decode[struct {
			Count    int          `json:"count"`
			Entities []EntityInfo `json:"entities"`
		}](t, resp)
		if got.Count != 2 || got.Entities[0].EntityID != "sensor.kitchen_temp" || got.Entities[0].Unit != "°C" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("domain", func(t *testing.T) {
		ts := newTestServer(t, &echoProcessor{}, Options{Snapshots: fakeSnapshots{snap: snap}})
		resp, _ := http.Get(ts.URL + "/v1/entities?domain=light")
		got := decode[struct {
			Entities []EntityInfo `json:"entities"`
		}](t, resp)
		if len(got.Entities) != 1 || got.Entities[0].Domain != "light" {
			t.Errorf("got %+v", got.Entities)
		}
	})

	t.Run("source error", func(t *testing.T) {
		ts := newTestServer(t, &echoProcessor{}, Options{Snapshots: fakeSnapshots{err: errors.New("down")}})
		resp, _ := http.Get(ts.URL + "/v1/entities")
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, &echoProcessor{}, Options{})
		resp, _ := http.Get(ts.URL + "/v1/entities")
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     Health
		wantCode   int
		wantStatus string
	}{
		{"no watcher", nil, http.StatusOK, "healthy"},
		{"all up", fakeHealth{"homeassistant": {Name: "homeassistant", Up: true}}, http.StatusOK, "healthy"},
		{"one down", fakeHealth{
			"homeassistant": {Name: "homeassistant", Up: true},
			"llm":           {Name: "llm", Up: false, LastError: "refused"},
		}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &echoProcessor{}, Options{Health: tt.health})
			resp, err := http.Get(ts.URL + "/health")
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			got := decode[map[string]any](t, resp)
			if got["status"] != tt.wantStatus {
				t.Errorf("status field = %v", got["status"])
			}
		})
	}
}

type fakeUsage struct {
	window time.Duration
	err    error
}

func (f *fakeUsage) Report(_ context.Context, start, end time.Time) (*usage.Report, error) {
	f.window = end.Sub(start)
	if f.err != nil {
		return nil, f.err
	}
	return &usage.Report{
		Since:   start,
		Until:   end,
		Total:   usage.Summary{Records: 3, InputTokens: 300, OutputTokens: 30},
		ByModel: map[string]usage.Summary{"test-model": {Records: 3, InputTokens: 300, OutputTokens: 30}},
	}, nil
}

func TestUsage(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, &echoProcessor{}, Options{})
		resp, err := http.Get(ts.URL + "/v1/usage")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("report", func(t *testing.T) {
		fu := &fakeUsage{}
		ts := newTestServer(t, &echoProcessor{}, Options{Usage: fu})
		resp, err := http.Get(ts.URL + "/v1/usage?hours=6")
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		got := decode[usage.Report](t, resp)
		if got.Total.Records != 3 || got.ByModel["test-model"].InputTokens != 300 {
			t.Errorf("report = %+v", got)
		}
		if fu.window != 6*time.Hour {
			t.Errorf("window = %v, want 6h", fu.window)
		}
	})

	tests := []struct {
		name  string
		query string
		err   error
		want  int
	}{
		{"bad hours", "?hours=abc", nil, http.StatusBadRequest},
		{"negative hours", "?hours=-1", nil, http.StatusBadRequest},
		{"store failure", "", errors.New("locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &echoProcessor{}, Options{Usage: &fakeUsage{err: tt.err}})
			resp, err := http.Get(ts.URL + "/v1/usage" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRootAndModels(t *testing.T) {
	ts := newTestServer(t, &echoProcessor{}, Options{})

	resp, _ := http.Get(ts.URL + "/")
	root := decode[map[string]string](t, resp)
	if root["name"] != "hassist" {
		t.Errorf("root = %v", root)
	}

	resp, _ = http.Get(ts.URL + "/nope")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/v1/models")
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(buf.String(), `"id":"hassist"`) {
		t.Errorf("models = %s", buf.String())
	}
}

func TestTrimHistory(t *testing.T) {
	msg := func(role, content string) llm.Message { return llm.Message{Role: role, Content: content} }
	msgs := []llm.Message{
		msg(llm.RoleUser, "u1"),
		msg(llm.RoleAssistant, "a1"),
		msg(llm.RoleTool, "t1"),
		msg(llm.RoleAssistant, "a2"),
		msg(llm.RoleUser, "u2"),
		msg(llm.RoleAssistant, "a3"),
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"under cap", 10, []string{"u1", "a1", "t1", "a2", "u2", "a3"}},
		{"starts at user", 4, []string{"u2", "a3"}},
		{"exact user boundary", 2, []string{"u2", "a3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimHistory(msgs, tt.limit)
			var contents []string
			for _, m := range got {
				contents = append(contents, m.Content)
			}
			if strings.Join(contents, ",") != strings.Join(tt.want, ",") {
				t.Errorf("trimHistory(%d) = %v, want %v", tt.limit, contents, tt.want)
			}
		})
	}
}

func TestRenderHTML(t *testing.T) {
	got := renderHTML("- one\n- two\n\n<script>alert(1)</script>")
	if !strings.Contains(got, "<li>one</li>") {
		t.Errorf("list not rendered: %q", got)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("raw HTML should be dropped: %q", got)
	}
}
