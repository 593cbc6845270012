package entity

import (
	"cmp"
	"slices"
	"strings"
)

// OtherGroup is the group of entities no rule could place.
const OtherGroup = "other"

// locationKeywords are matched against friendly names, longest first.
var locationKeywords = sortLongestFirst([]string{
	"living room", "bedroom", "master bedroom", "guest room", "kitchen",
	"bathroom", "study", "office", "balcony", "hallway", "dining room",
	"garage", "garden", "yard", "attic", "basement", "nursery", "laundry",
	"客厅", "卧室", "厨房", "卫生间", "浴室", "书房", "儿童房", "主卧", "次卧",
	"阳台", "门厅", "走廊", "餐厅", "车库", "花园", "院子", "阁楼",
})

// nameSeparators are tried in order; the first one present splits the name.
var nameSeparators = []string{"-", "_", "(", "（", " "}

func sortLongestFirst(words []string) []string {
	slices.SortFunc(words, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return words
}

// GroupOf returns the group of a single entity. It depends only on the
// entity's friendly name and id:
//
//  1. a location keyword contained in the name (case-insensitive)
//  2. the trimmed name prefix before the first separator present
//  3. the first two "_"-separated tokens of the id after the domain
//
// and [OtherGroup] when none applies.
func GroupOf(e Entity) string {
	if g := groupFromName(e.FriendlyName); g != "" {
		return g
	}
	if g := groupFromID(e.ID); g != "" {
		return g
	}
	return OtherGroup
}

func groupFromName(name string) string {
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)
	for _, kw := range locationKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	for _, sep := range nameSeparators {
		if prefix, _, ok := strings.Cut(name, sep); ok {
			return strings.TrimSpace(prefix)
		}
	}
	return ""
}

func groupFromID(id string) string {
	_, suffix, ok := strings.Cut(id, ".")
	if !ok {
		return ""
	}
	parts := strings.Split(suffix, "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "_" + parts[1]
}

// Group is one named bucket of entities.
type Group struct {
	Name     string
	Entities []Entity
}

// Groups is sorted by Name; each group's entities are sorted by friendly
// name, then id.
type Groups []Group

// GroupByName buckets entities with [GroupOf].
func GroupByName(entities []Entity) Groups {
	byName := make(map[string][]Entity)
	for _, e := range entities {
		g := GroupOf(e)
		byName[g] = append(byName[g], e)
	}

	groups := make(Groups, 0, len(byName))
	for name, es := range byName {
		slices.SortStableFunc(es, compareEntities)
		groups = append(groups, Group{Name: name, Entities: es})
	}
	slices.SortFunc(groups, func(a, b Group) int { return cmp.Compare(a.Name, b.Name) })
	return groups
}

func compareEntities(a, b Entity) int {
	if c := cmp.Compare(a.FriendlyName, b.FriendlyName); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Names returns the group names in order.
func (g Groups) Names() []string {
	names := make([]string, len(g))
	for i, grp := range g {
		names[i] = grp.Name
	}
	return names
}

// Map returns the groups keyed by name.
func (g Groups) Map() map[string][]Entity {
	m := make(map[string][]Entity, len(g))
	for _, grp := range g {
		m[grp.Name] = grp.Entities
	}
	return m
}

// Flatten returns every entity in group order.
func (g Groups) Flatten() []Entity {
	var out []Entity
	for _, grp := range g {
		out = append(out, grp.Entities...)
	}
	return out
}

// Len returns the total number of entities across groups.
func (g Groups) Len() int {
	n := 0
	for _, grp := range g {
		n += len(grp.Entities)
	}
	return n
}
