package bids

import (
	"sort"
	"strings"
)

// Pair is one (entity name, value) element of a group key.
type Pair struct {
	Name  string
	Value string
}

// GroupKey identifies a logical acquisition group: the sorted non-nil
// entities of a file minus the volatile set (acquisition, suffix,
// extension, datatype). Two files belong to the same group iff their
// keys are equal, independent of entity iteration order.
type GroupKey []Pair

// KeyFromEntities builds the canonical group key for an entity map.
func KeyFromEntities(entities map[string]string) GroupKey {
	key := make(GroupKey, 0, len(entities))
	for name, value := range entities {
		if value == "" || groupExcluded[name] {
			continue
		}
		key = append(key, Pair{Name: name, Value: value})
	}
	sort.Slice(key, func(i, j int) bool {
		if key[i].Name != key[j].Name {
			return key[i].Name < key[j].Name
		}
		return key[i].Value < key[j].Value
	})
	return key
}

// String renders the key in a stable form usable as a map key.
func (k GroupKey) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = p.Name + "=" + p.Value
	}
	return strings.Join(parts, ";")
}

// keyRank orders the entities that lead a human-readable group label.
var keyRank = map[string]int{
	"subject":        0,
	"session":        1,
	"reconstruction": 2,
}

// Label renders the key for display and for deterministic batch
// ordering: subject, then session, then reconstruction, then the
// remaining entities alphabetically.
func (k GroupKey) Label() string {
	pairs := append(GroupKey(nil), k...)
	sort.Slice(pairs, func(i, j int) bool {
		ri, rj := rankOf(pairs[i].Name), rankOf(pairs[j].Name)
		if ri != rj {
			return ri < rj
		}
		if pairs[i].Name != pairs[j].Name {
			return pairs[i].Name < pairs[j].Name
		}
		return pairs[i].Value < pairs[j].Value
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.Name + "-" + p.Value
	}
	return strings.Join(parts, "_")
}

func rankOf(name string) int {
	if r, ok := keyRank[name]; ok {
		return r
	}
	return 99
}

// FilterArgs re-serializes the key as repeatable --bids-filter
// arguments that pin a discovery run to exactly this group.
func (k GroupKey) FilterArgs() []string {
	args := make([]string, 0, 2*len(k))
	for _, p := range k {
		args = append(args, "--bids-filter", p.Name+"="+p.Value)
	}
	return args
}

// GroupLabel renders an entity map as a filename-style label
// (sub-01_ses-a_run-2), used in error messages.
func GroupLabel(entities map[string]string) string {
	var parts []string
	if sub := normalizeEntity("sub", entities["subject"]); sub != "" {
		parts = append(parts, sub)
	}
	if ses := normalizeEntity("ses", entities["session"]); ses != "" {
		parts = append(parts, ses)
	}

	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "subject" || name == "session" || name == "datatype" || groupExcluded[name] {
			continue
		}
		if value := entities[name]; value != "" {
			parts = append(parts, entityToken(name, value))
		}
	}
	return strings.Join(parts, "_")
}
