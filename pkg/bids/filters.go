package bids

import (
	"fmt"
	"strings"
)

// Filters maps canonical entity names to acceptable values. A key with
// several values matches any of them (OR semantics).
type Filters map[string][]string

// ParseFilters parses raw KEY=VALUE[,VALUE...] filter expressions as
// given on the command line. Short keys are resolved through the alias
// table; a missing '=', empty key or empty value is an error.
func ParseFilters(raw []string) (Filters, error) {
	filters := make(Filters, len(raw))
	for _, expr := range raw {
		key, value, ok := strings.Cut(expr, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid --bids-filter %q (expected KEY=VALUE)", expr)
		}
		if canonical, ok := filterKeyAliases[key]; ok {
			key = canonical
		}
		var values []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		filters[key] = values
	}
	return filters, nil
}

// Clone returns an independent copy.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Merge overlays other onto f; other wins on key conflicts.
func (f Filters) Merge(other Filters) {
	for k, v := range other {
		f[k] = append([]string(nil), v...)
	}
}

// Match reports whether the entity map satisfies every filter key. The
// scope pseudo-filter is a query attribute, not an entity, and is
// ignored here.
func (f Filters) Match(entities map[string]string) bool {
	for key, values := range f {
		if key == "scope" {
			continue
		}
		got, ok := entities[key]
		if !ok {
			return false
		}
		found := false
		for _, v := range values {
			if got == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// baseQuery assembles the fixed discovery filter set, merged with the
// user's extra filters (which win on conflicts). The acquisition-plane
// filter is only defaulted when the user did not pin one.
func baseQuery(extra Filters) Filters {
	query := Filters{
		"suffix":    {Suffix},
		"extension": {".nii", ".nii.gz"},
		"datatype":  {"anat"},
		"scope":     {"raw"},
	}
	if _, ok := extra["acquisition"]; !ok {
		query["acquisition"] = append([]string(nil), AcqOrder...)
	}
	query.Merge(extra)
	return query
}
