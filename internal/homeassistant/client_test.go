package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("path = %q, want /api/states", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`[
			{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen"}},
			{"entity_id":"sensor.temp","state":"21.5","attributes":{},"last_updated":"not-a-time"},
			{"entity_id":"switch.fan","state":"off","attributes":null}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", testLogger())
	states, err := c.GetStates(context.Background())
	if err != nil {
		t.Fatalf("GetStates: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("got %d states, want 3", len(states))
	}
	if states[0].EntityID != "light.kitchen" || states[0].Attributes["friendly_name"] != "Kitchen" {
		t.Errorf("states[0] = %+v", states[0])
	}
	if bad := states[1]; bad.EntityID != "sensor.temp" || bad.DecodeError == "" || bad.Attributes != nil {
		t.Errorf("undecodable record = %+v, want id with DecodeError", bad)
	}
	if states[2].Domain() != "switch" || states[2].DecodeError != "" {
		t.Errorf("states[2] = %+v", states[2])
	}
}

func TestClientErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantKind   ErrorKind
		wantStatus int
	}{
		{"unauthorized", http.StatusUnauthorized, KindUnauthorized, 401},
		{"server error", http.StatusInternalServerError, KindStatus, 500},
		{"not found", http.StatusNotFound, KindStatus, 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "tok", testLogger()).GetStates(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %v is not *APIError", err)
			}
			if apiErr.Kind != tt.wantKind || apiErr.Status != tt.wantStatus {
				t.Errorf("got kind=%v status=%d, want kind=%v status=%d", apiErr.Kind, apiErr.Status, tt.wantKind, tt.wantStatus)
			}
		})
	}
}

func TestClientConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "tok", testLogger())
	c.httpClient = &http.Client{}
	err := c.CallService(context.Background(), "light", "turn_on", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindConnection {
		t.Fatalf("err = %v, want KindConnection", err)
	}
	if apiErr.Status != 0 {
		t.Errorf("Status = %d, want 0", apiErr.Status)
	}
}

func TestCallService(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated} {
		var gotPath string
		var gotBody map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			gotPath = r.URL.Path
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(status)
			w.Write([]byte(`[]`))
		}))

		c := NewClient(srv.URL, "tok", testLogger())
		err := c.CallService(context.Background(), "light", "turn_on", map[string]any{"entity_id": "light.kitchen"})
		srv.Close()

		if err != nil {
			t.Fatalf("status %d: CallService: %v", status, err)
		}
		if gotPath != "/api/services/light/turn_on" {
			t.Errorf("path = %q", gotPath)
		}
		if gotBody["entity_id"] != "light.kitchen" {
			t.Errorf("body = %v", gotBody)
		}
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"API running."}`))
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "tok", testLogger()).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
