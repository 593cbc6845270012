package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
)

// Executor issues one Home Assistant service call. [homeassistant.Client]
// satisfies it.
type Executor interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// TargetResult is the outcome of the call for one target.
type TargetResult struct {
	Target
	Text string
	OK   bool
}

// Outcome is the human-readable result of executing a match.
type Outcome struct {
	Text      string
	Succeeded bool // at least one call returned 2xx
	Results   []TargetResult
}

// Execute issues one service call per target of m and folds the results
// into an outcome string. Call failures are reported in the text, never
// as an error.
func (r *Resolver) Execute(ctx context.Context, m *Match) Outcome {
	if m == nil || len(m.Targets) == 0 {
		return Outcome{Text: "no devices to control"}
	}

	var out Outcome
	for _, t := range m.Targets {
		res := r.call(ctx, t, m.Service)
		out.Results = append(out.Results, res)
		if res.OK {
			out.Succeeded = true
		}
	}

	if !m.Bulk() {
		out.Text = out.Results[0].Text
		return out
	}

	lines := make([]string, 0, len(out.Results)+1)
	lines = append(lines, fmt.Sprintf("%s all %s devices:", serviceVerb(m.Service), m.Domain))
	for _, res := range out.Results {
		lines = append(lines, fmt.Sprintf("- %s: %s", res.FriendlyName, res.Text))
	}
	out.Text = strings.Join(lines, "\n")
	return out
}

func (r *Resolver) call(ctx context.Context, t Target, service string) TargetResult {
	res := TargetResult{Target: t}

	domain, _, ok := strings.Cut(t.EntityID, ".")
	if !ok || domain == "" {
		res.Text = "invalid entity id: " + t.EntityID
		return res
	}
	if r.exec == nil {
		res.Text = "error: no executor configured"
		return res
	}

	err := r.exec.CallService(ctx, domain, service, map[string]any{"entity_id": t.EntityID})
	if err == nil {
		r.logger.Info("service called", "entity_id", t.EntityID, "service", service)
		res.Text = fmt.Sprintf("executed: %s %s", service, t.EntityID)
		res.OK = true
		return res
	}

	r.logger.Warn("service call failed", "entity_id", t.EntityID, "service", service, "error", err)
	var apiErr *homeassistant.APIError
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		res.Text = fmt.Sprintf("failed: %d %s", apiErr.Status, apiErr.Body)
		return res
	}
	res.Text = "error: " + err.Error()
	return res
}

func serviceVerb(service string) string {
	switch service {
	case TurnOn:
		return "turned on"
	case TurnOff:
		return "turned off"
	default:
		return service
	}
}
