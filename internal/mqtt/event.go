package mqtt

import (
	"time"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/command"
)

// CommandEvent is the payload published for one executed command.
type CommandEvent struct {
	Turn      string          `json:"turn"`
	Source    string          `json:"source"`
	Domain    string          `json:"domain"`
	Service   string          `json:"service"`
	MatchedBy string          `json:"matched_by"`
	Bulk      bool            `json:"bulk"`
	Succeeded bool            `json:"succeeded"`
	Targets   []TargetOutcome `json:"targets"`
	Result    string          `json:"result"`
	Time      time.Time       `json:"time"`
}

// TargetOutcome reports one entity of a command.
type TargetOutcome struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
}

// NewCommandEvent builds the event for m. Targets come from the outcome
// when it has per-target results, otherwise from the match.
func NewCommandEvent(turnID, source string, m *command.Match, outcome command.Outcome, now time.Time) CommandEvent {
	ev := CommandEvent{
		Turn:      turnID,
		Source:    source,
		Domain:    m.Domain,
		Service:   m.Service,
		MatchedBy: string(m.MatchedBy),
		Bulk:      m.Bulk(),
		Succeeded: outcome.Succeeded,
		Result:    outcome.Text,
		Time:      now.UTC(),
	}
	if len(outcome.Results) > 0 {
		for _, r := range outcome.Results {
			ev.Targets = append(ev.Targets, TargetOutcome{EntityID: r.EntityID, Name: r.FriendlyName, OK: r.OK})
		}
		return ev
	}
	for _, t := range m.Targets {
		ev.Targets = append(ev.Targets, TargetOutcome{EntityID: t.EntityID, Name: t.FriendlyName})
	}
	return ev
}
