package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPTransport_JSON(t *testing.T) {
	var gotAuth, gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get(sessionHeader)

		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set(sessionHeader, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`, req.ID)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "token", nil)
	resp, err := tr.Send(context.Background(), NewRequest(7, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 7 || string(resp.Result) != `{"ok":true}` {
		t.Errorf("response = %+v", resp)
	}
	if gotAuth != "Bearer token" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	if _, err := tr.Send(context.Background(), NewRequest(8, "ping", nil)); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if gotSession != "sess-1" {
		t.Errorf("session header = %q, want sess-1", gotSession)
	}
}

func TestHTTPTransport_EventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":3,\n")
		fmt.Fprint(w, "data: \"result\":{\"tools\":[]}}\n\n")
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "", nil)
	resp, err := tr.Send(context.Background(), NewRequest(3, "tools/list", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 3 || !strings.Contains(string(resp.Result), "tools") {
		t.Errorf("response = %+v", resp)
	}
}

func TestHTTPTransport_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
		}},
		{"stream without response", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":99,\"result\":{}}\n\n")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			if _, err := NewHTTPTransport(srv.URL, "", nil).Send(context.Background(), NewRequest(1, "ping", nil)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHTTPTransport_Notify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := NewHTTPTransport(srv.URL, "", nil).Notify(context.Background(), NewNotification("notifications/initialized", nil)); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mcp" {
			http.NotFound(w, r)
			return
		}
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "notifications/initialized" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"home-assistant","version":"1"}}}`, req.ID)
	}))
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL, "/api/mcp", "tok", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.Name() != HomeAssistantServer || c.ServerName() != "home-assistant" {
		t.Errorf("client = %s / %s", c.Name(), c.ServerName())
	}
}
