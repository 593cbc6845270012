package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, instanceFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(config.MQTTConfig{TopicPrefix: "home/hassist/", ClientID: "hassist"}, "0191b7a4-aaaa-7bbb-8ccc-123456789abc", discardLogger())

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "home/hassist/availability"},
		{"command", p.commandTopic("light"), "home/hassist/command/light"},
		{"command without domain", p.commandTopic(""), "home/hassist/command/unknown"},
		{"client id", p.clientID(), "hassist-0191b7a4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	if got := New(config.MQTTConfig{ClientID: "hassist"}, "", nil).clientID(); got != "hassist" {
		t.Errorf("clientID without instance = %q", got)
	}
}

func TestNewCommandEvent(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 30, 0, 0, time.FixedZone("CST", 8*3600))
	m := &command.Match{
		EntityID:  command.BulkEntityID,
		Domain:    "light",
		Service:   command.TurnOff,
		MatchedBy: command.MatchBulk,
		Targets: []command.Target{
			{EntityID: "light.kitchen", FriendlyName: "Kitchen"},
			{EntityID: "light.hall", FriendlyName: "Hall"},
		},
	}

	t.Run("from results", func(t *testing.T) {
		outcome := command.Outcome{
			Text:      "turned off all light devices",
			Succeeded: true,
			Results: []command.TargetResult{
				{Target: m.Targets[0], OK: true},
				{Target: m.Targets[1], OK: false},
			},
		}
		ev := NewCommandEvent("turn-1", "inst", m, outcome, now)

		if !ev.Bulk || ev.MatchedBy != "bulk" || ev.Service != "turn_off" || ev.Domain != "light" {
			t.Errorf("unexpected header fields: %+v", ev)
		}
		if !ev.Time.Equal(now) || ev.Time.Location() != time.UTC {
			t.Errorf("Time = %v, want %v in UTC", ev.Time, now)
		}
		want := []TargetOutcome{
			{EntityID: "light.kitchen", Name: "Kitchen", OK: true},
			{EntityID: "light.hall", Name: "Hall", OK: false},
		}
		if len(ev.Targets) != len(want) {
			t.Fatalf("Targets = %+v", ev.Targets)
		}
		for i := range want {
			if ev.Targets[i] != want[i] {
				t.Errorf("Targets[%d] = %+v, want %+v", i, ev.Targets[i], want[i])
			}
		}
	})

	t.Run("from match", func(t *testing.T) {
		ev := NewCommandEvent("turn-2", "inst", m, command.Outcome{Text: "x"}, now)
		if len(ev.Targets) != 2 || ev.Targets[0].OK {
			t.Errorf("Targets = %+v", ev.Targets)
		}
	})

	t.Run("json shape", func(t *testing.T) {
		data, err := json.Marshal(NewCommandEvent("turn-3", "inst", m, command.Outcome{}, now))
		if err != nil {
			t.Fatal(err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatal(err)
		}
		for _, key := range []string{"turn", "source", "domain", "service", "matched_by", "bulk", "succeeded", "targets", "result", "time"} {
			if _, ok := raw[key]; !ok {
				t.Errorf("payload missing %q: %s", key, data)
			}
		}
	})
}

func TestPublisher_NotStarted(t *testing.T) {
	p := New(config.MQTTConfig{TopicPrefix: "hassist"}, "", discardLogger())

	// Must not panic or block.
	p.CommandExecuted(context.Background(), "turn-1", &command.Match{Domain: "light"}, command.Outcome{})
	p.CommandExecuted(context.Background(), "turn-1", nil, command.Outcome{})

	if err := p.AwaitConnection(context.Background()); !errors.Is(err, errNotStarted) {
		t.Errorf("AwaitConnection() = %v, want errNotStarted", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestPublisher_StartBadURL(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "://nope"}, "", discardLogger())
	if err := p.Start(context.Background()); err == nil {
		t.Error("Start() with a malformed broker URL should fail")
	}
}
