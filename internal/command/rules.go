// Package command turns an utterance into a device action using a fixed
// rule table and the current entity snapshot.
package command

import "regexp"

// Scope tells whether a rule targets one entity or a whole domain.
type Scope int

const (
	// Single rules capture a device-name fragment and target the first
	// entity in the domain whose friendly name contains it.
	Single Scope = iota
	// Bulk rules target every entity of the domain.
	Bulk
)

func (s Scope) String() string {
	if s == Bulk {
		return "bulk"
	}
	return "single"
}

// Rule is one entry of the pattern table. A Single rule's Pattern may
// contain one capture group; without one every entity in the domain
// qualifies and the first is chosen.
type Rule struct {
	Pattern *regexp.Regexp
	Domain  string
	Service string
	Scope   Scope
}

// Service names.
const (
	TurnOn  = "turn_on"
	TurnOff = "turn_off"
)

func bulk(pattern, domain, service string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Domain: domain, Service: service, Scope: Bulk}
}

func single(pattern, domain, service string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Domain: domain, Service: service, Scope: Single}
}

// DefaultRules returns the built-in English and Chinese rule table. Order
// matters within each scope: the first matching rule is used.
func DefaultRules() []Rule {
	return []Rule{
		bulk(`(?i)\bturn on all (?:the )?lights?\b`, "light", TurnOn),
		bulk(`(?i)\bturn off all (?:the )?lights?\b`, "light", TurnOff),
		bulk(`(?i)\bturn on all (?:the )?switch(?:es)?\b`, "switch", TurnOn),
		bulk(`(?i)\bturn off all (?:the )?switch(?:es)?\b`, "switch", TurnOff),
		bulk(`(?i)\ball (?:the )?lights? on\b`, "light", TurnOn),
		bulk(`(?i)\ball (?:the )?lights? off\b`, "light", TurnOff),
		bulk(`打开所有灯`, "light", TurnOn),
		bulk(`关闭所有灯`, "light", TurnOff),
		bulk(`打开所有开关`, "switch", TurnOn),
		bulk(`关闭所有开关`, "switch", TurnOff),
		bulk(`全部开灯`, "light", TurnOn),
		bulk(`全部关灯`, "light", TurnOff),
		bulk(`所有灯打开`, "light", TurnOn),
		bulk(`所有灯关闭`, "light", TurnOff),

		single(`(?i)\bturn on (?:the )?(.+?) lights?\b`, "light", TurnOn),
		single(`(?i)\bturn off (?:the )?(.+?) lights?\b`, "light", TurnOff),
		single(`(?i)\bturn on (?:the )?(.+?) switch\b`, "switch", TurnOn),
		single(`(?i)\bturn off (?:the )?(.+?) switch\b`, "switch", TurnOff),
		single(`打开\s*(.+?)灯`, "light", TurnOn),
		single(`关闭\s*(.+?)灯`, "light", TurnOff),
		single(`开灯`, "light", TurnOn),
		single(`关灯`, "light", TurnOff),
		single(`打开\s*(.+?)开关`, "switch", TurnOn),
		single(`关闭\s*(.+?)开关`, "switch", TurnOff),
		single(`开启\s*(.+?)`, "switch", TurnOn),
		single(`关闭\s*(.+?)`, "switch", TurnOff),
	}
}

// Intent keywords for exact name or id matches. On keywords are checked
// first.
var (
	defaultOnKeywords  = []string{"turn on", "switch on", "enable", "打开", "开启"}
	defaultOffKeywords = []string{"turn off", "switch off", "disable", "close", "关闭", "关"}
)
