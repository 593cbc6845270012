package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
)

// FindEntityArgs represents the arguments for the find_entity tool.
type FindEntityArgs struct {
	Description string `json:"description"`      // e.g., "ceiling fan", "卧室台灯"
	Area        string `json:"area,omitempty"`   // e.g., "kitchen", "客厅"
	Domain      string `json:"domain,omitempty"` // e.g., "light", "switch", "fan"
}

// FindEntityResult represents the result of entity discovery.
type FindEntityResult struct {
	Found        bool     `json:"found"`
	EntityID     string   `json:"entity_id,omitempty"`
	FriendlyName string   `json:"friendly_name,omitempty"`
	Group        string   `json:"group,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	Error        string   `json:"error,omitempty"`
	Candidates   []string `json:"candidates,omitempty"` // When ambiguous or not found
}

// registerFindEntity registers the find_entity tool.
func (r *Registry) registerFindEntity() {
	r.Register(&Tool{
		Name:        "find_entity",
		Description: "Find a Home Assistant entity by description and area. Use this when the user refers to a device by description rather than entity_id. Returns the best matching entity or explains what was found.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{
					"type":        "string",
					"description": "Device description from user, e.g., 'ceiling light', 'bedroom fan'",
				},
				"area": map[string]any{
					"type":        "string",
					"description": "Area or location group, e.g., 'kitchen', 'master bedroom'",
				},
				"domain": map[string]any{
					"type":        "string",
					"description": "Entity domain if known, e.g., 'light', 'switch', 'fan', 'cover'",
				},
			},
			"required": []string{"description"},
		},
		Handler: r.executeFindEntityHandler,
	})
}

func (r *Registry) executeFindEntityHandler(ctx context.Context, argsMap map[string]any) (string, error) {
	var args FindEntityArgs
	if desc, ok := argsMap["description"].(string); ok {
		args.Description = desc
	}
	if area, ok := argsMap["area"].(string); ok {
		args.Area = area
	}
	if domain, ok := argsMap["domain"].(string); ok {
		args.Domain = domain
	}

	if args.Description == "" {
		return "", fmt.Errorf("description is required")
	}

	if args.Domain == "" {
		args.Domain = inferDomainFromDescription(args.Description)
	}

	snap, err := r.store.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("get entities: %w", err)
	}
	entities := snap.Entities(args.Domain)

	if len(entities) == 0 {
		domainStr := args.Domain
		if domainStr == "" {
			domainStr = "any"
		}
		result := FindEntityResult{
			Found: false,
			Error: fmt.Sprintf("No %s entities found", domainStr),
		}
		return toJSON(result), nil
	}

	searchStr := args.Description
	if args.Area != "" {
		searchStr = args.Area + " " + args.Description
	}

	matches := fuzzyMatchEntities(searchStr, entities)

	if len(matches) == 0 {
		candidates := make([]string, 0, min(10, len(entities)))
		for i, e := range entities {
			if i >= 10 {
				break
			}
			candidates = append(candidates, e.DisplayName())
		}
		result := FindEntityResult{
			Found:      false,
			Error:      fmt.Sprintf("No entity matching '%s' found", args.Description),
			Candidates: candidates,
		}
		return toJSON(result), nil
	}

	best := matches[0]
	result := FindEntityResult{
		Found:        true,
		EntityID:     best.EntityID,
		FriendlyName: best.FriendlyName,
		Group:        best.Group,
		Confidence:   best.Score,
	}

	// Several strong matches: let the model pick.
	if len(matches) > 1 && matches[1].Score > 0.5 {
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, m.EntityID)
		}
		result.Candidates = candidates
	}

	return toJSON(result), nil
}

// EntityMatch represents a fuzzy match result.
type EntityMatch struct {
	EntityID     string
	FriendlyName string
	Group        string
	Score        float64
}

// fuzzyMatchEntities scores entities against a description. The location
// group counts as part of the name so "kitchen light" finds a light
// grouped under kitchen.
func fuzzyMatchEntities(description string, entities []entity.Entity) []EntityMatch {
	descLower := strings.ToLower(description)
	descTokens := tokenize(descLower)

	var matches []EntityMatch

	for _, e := range entities {
		group := entity.GroupOf(e)
		idScore := tokenMatchScore(descTokens, tokenize(strings.ToLower(e.ID)))
		nameScore := tokenMatchScore(descTokens, tokenize(strings.ToLower(group+" "+e.FriendlyName)))

		score := max(idScore, nameScore)
		if score > 0.3 {
			matches = append(matches, EntityMatch{
				EntityID:     e.ID,
				FriendlyName: e.FriendlyName,
				Group:        group,
				Score:        score,
			})
		}
	}

	slices.SortStableFunc(matches, func(a, b EntityMatch) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return matches
}

var tokenSeparators = strings.NewReplacer("_", " ", ".", " ", "-", " ")

// tokenize splits an id or name into tokens of two or more runes.
func tokenize(s string) []string {
	out := []string{}
	for _, t := range strings.Fields(tokenSeparators.Replace(s)) {
		if utf8.RuneCountInString(t) > 1 {
			out = append(out, t)
		}
	}
	return out
}

// Per-token scores for tokenMatchScore.
const (
	scoreExact     = 1.0
	scoreSubstring = 0.8
)

// tokenMatchScore averages, over the query tokens, the best score each
// reaches against any target token.
func tokenMatchScore(query, target []string) float64 {
	if len(query) == 0 || len(target) == 0 {
		return 0
	}

	var total float64
	for _, q := range query {
		var best float64
		for _, t := range target {
			switch {
			case q == t:
				best = scoreExact
			case strings.Contains(t, q) || strings.Contains(q, t):
				best = max(best, scoreSubstring)
			}
			if best == scoreExact {
				break
			}
		}
		total += best
	}
	return total / float64(len(query))
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"json encoding failed"}`
	}
	return string(b)
}

// domainHints map description keywords to a domain, first hit wins. Lock
// precedes cover so "door lock" is not read as a garage door.
var domainHints = []struct {
	domain   string
	keywords []string
}{
	{"light", []string{"light", "lamp", "led", "bulb", "strip", "chandelier", "sconce", "灯"}},
	{"switch", []string{"switch", "outlet", "plug", "relay", "插座", "开关"}},
	{"fan", []string{"fan", "ventilat", "exhaust", "风扇"}},
	{"lock", []string{"lock", "deadbolt", "门锁"}},
	{"cover", []string{"blind", "shade", "curtain", "garage", "shutter", "awning", "窗帘"}},
	{"climate", []string{"thermostat", "hvac", "climate", "heater", "a/c", "空调"}},
	{"sensor", []string{"sensor", "temperature", "humidity", "motion", "温度", "湿度"}},
}

// inferDomainFromDescription guesses the domain from keywords, or ""
// to search every domain.
func inferDomainFromDescription(description string) string {
	lower := strings.ToLower(description)
	for _, h := range domainHints {
		if slices.ContainsFunc(h.keywords, func(kw string) bool { return strings.Contains(lower, kw) }) {
			return h.domain
		}
	}
	return ""
}
