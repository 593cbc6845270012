package command

import (
	"log/slog"
	"strings"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/entity"
)

// MatchKind records which stage produced a match.
type MatchKind string

// Match stages, in priority order.
const (
	MatchBulk      MatchKind = "bulk"
	MatchExactID   MatchKind = "exact_id"
	MatchExactName MatchKind = "exact_name"
	MatchPattern   MatchKind = "pattern"
)

// BulkEntityID is the EntityID of a bulk match.
const BulkEntityID = "*"

// Target is one entity a match acts on.
type Target struct {
	EntityID     string
	FriendlyName string
}

// Match is a resolved device action.
type Match struct {
	EntityID     string // BulkEntityID for bulk matches
	FriendlyName string
	Domain       string
	Service      string
	MatchedBy    MatchKind
	Targets      []Target
}

// Bulk reports whether the match targets a whole domain.
func (m *Match) Bulk() bool {
	return m.MatchedBy == MatchBulk
}

// Resolver matches utterances against the rule table and executes the
// result.
type Resolver struct {
	rules       []Rule
	onKeywords  []string
	offKeywords []string
	exec        Executor
	logger      *slog.Logger
}

// NewResolver creates a resolver. A nil rules slice uses [DefaultRules].
// exec may be nil when only Resolve is used.
func NewResolver(rules []Rule, exec Executor, logger *slog.Logger) *Resolver {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		rules:       rules,
		onKeywords:  defaultOnKeywords,
		offKeywords: defaultOffKeywords,
		exec:        exec,
		logger:      logger,
	}
}

// Resolve finds at most one action for utterance. Stages run in order
// and the first hit wins:
//
//  1. bulk rules whose domain has at least one entity
//  2. a non-sensor entity whose friendly name (case-insensitive) or id
//     appears in the utterance, together with an on or off keyword
//  3. single rules, whose captured fragment must appear in a friendly
//     name within the rule's domain
//
// Resolve does no I/O. It returns nil when nothing matches.
func (r *Resolver) Resolve(snap *entity.Snapshot, utterance string) *Match {
	if snap == nil || strings.TrimSpace(utterance) == "" {
		return nil
	}
	if m := r.resolveBulk(snap, utterance); m != nil {
		return m
	}
	if m := r.resolveExact(snap, utterance); m != nil {
		return m
	}
	return r.resolvePattern(snap, utterance)
}

func (r *Resolver) resolveBulk(snap *entity.Snapshot, utterance string) *Match {
	for _, rule := range r.rules {
		if rule.Scope != Bulk || !rule.Pattern.MatchString(utterance) {
			continue
		}
		entities := snap.NonSensors.Get(rule.Domain)
		if len(entities) == 0 {
			r.logger.Debug("bulk rule matched an empty domain", "domain", rule.Domain, "pattern", rule.Pattern.String())
			continue
		}
		m := &Match{
			EntityID:  BulkEntityID,
			Domain:    rule.Domain,
			Service:   rule.Service,
			MatchedBy: MatchBulk,
			Targets:   make([]Target, 0, len(entities)),
		}
		for _, e := range entities {
			m.Targets = append(m.Targets, Target{EntityID: e.ID, FriendlyName: e.DisplayName()})
		}
		return m
	}
	return nil
}

// intent returns the service named by the utterance's keywords, or "".
func (r *Resolver) intent(lower string) string {
	for _, kw := range r.onKeywords {
		if strings.Contains(lower, kw) {
			return TurnOn
		}
	}
	for _, kw := range r.offKeywords {
		if strings.Contains(lower, kw) {
			return TurnOff
		}
	}
	return ""
}

func (r *Resolver) resolveExact(snap *entity.Snapshot, utterance string) *Match {
	lower := strings.ToLower(utterance)
	service := r.intent(lower)
	if service == "" {
		return nil
	}

	for _, domain := range snap.NonSensors.Domains {
		for _, e := range snap.NonSensors.Get(domain) {
			name := strings.ToLower(e.FriendlyName)
			var kind MatchKind
			switch {
			case name != "" && strings.Contains(lower, name):
				kind = MatchExactName
			case strings.Contains(utterance, e.ID):
				kind = MatchExactID
			default:
				continue
			}
			return singleMatch(e, domain, service, kind)
		}
	}
	return nil
}

func (r *Resolver) resolvePattern(snap *entity.Snapshot, utterance string) *Match {
	for _, rule := range r.rules {
		if rule.Scope != Single {
			continue
		}
		sub := rule.Pattern.FindStringSubmatch(utterance)
		if sub == nil {
			continue
		}
		fragment := ""
		if len(sub) > 1 {
			fragment = strings.ToLower(sub[1])
		}
		for _, e := range snap.NonSensors.Get(rule.Domain) {
			if strings.Contains(strings.ToLower(e.FriendlyName), fragment) {
				return singleMatch(e, rule.Domain, rule.Service, MatchPattern)
			}
		}
	}
	return nil
}

func singleMatch(e entity.Entity, domain, service string, kind MatchKind) *Match {
	return &Match{
		EntityID:     e.ID,
		FriendlyName: e.DisplayName(),
		Domain:       domain,
		Service:      service,
		MatchedBy:    kind,
		Targets:      []Target{{EntityID: e.ID, FriendlyName: e.DisplayName()}},
	}
}
