package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/config"
)

func newTestMemU(t *testing.T, handler http.HandlerFunc) *MemUClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Memory.MemU
	cfg.BaseURL = srv.URL
	cfg.APIKey = "key"
	return NewMemUClient(cfg, discardLogger())
}

func TestMemUClient_Record(t *testing.T) {
	var got memorizeRequest
	c := newTestMemU(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/memory/memorize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"task_id":"t1","status":"PENDING"}`))
	})

	turns := []Turn{{Role: "user", Content: "hello"}, {Role: "assistant", Content: "hi"}}
	if err := c.Record(context.Background(), turns); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(got.Conversation) != 2 || got.UserID != "user001" || got.AgentID != "homeassistant" || got.AgentName != "Home Assistant" {
		t.Errorf("request = %+v", got)
	}
}

func TestMemUClient_Retrieve(t *testing.T) {
	c := newTestMemU(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/memory/retrieve/default-categories" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"categories":[
			{"name":"profile","summary":"Lives with a cat."},
			{"name":"events","summary":""},
			{"name":"preferences","summary":"Prefers dim lights."}
		]}`))
	})

	got, err := c.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	want := "**profile:** Lives with a cat.\n\n**preferences:** Prefers dim lights.\n\n"
	if got != want {
		t.Errorf("Retrieve = %q, want %q", got, want)
	}
}

func TestMemUClient_ErrorStatus(t *testing.T) {
	c := newTestMemU(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	if _, err := c.Retrieve(context.Background()); err == nil {
		t.Fatal("expected error on 429")
	}
}
