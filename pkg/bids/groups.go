package bids

import (
	"fmt"
	"sort"
	"strings"
)

// Group is a bucket of same-key acquisitions: at most one path per
// acquisition plane.
type Group struct {
	Key      GroupKey
	Entities map[string]string
	AcqMap   map[string]string
}

// Complete reports whether every required plane is present.
func (g *Group) Complete() bool {
	for _, acq := range AcqOrder {
		if _, ok := g.AcqMap[acq]; !ok {
			return false
		}
	}
	return len(g.AcqMap) == len(AcqOrder)
}

// Filenames returns the group's paths in canonical acquisition order.
func (g *Group) Filenames() []string {
	flist := make([]string, 0, len(AcqOrder))
	for _, acq := range AcqOrder {
		flist = append(flist, g.AcqMap[acq])
	}
	return flist
}

// DuplicateAcquisitionError reports two files claiming the same plane
// of the same group in single-pass mode.
type DuplicateAcquisitionError struct {
	Plane string
	Label string
	PathA string
	PathB string
}

func (e *DuplicateAcquisitionError) Error() string {
	return fmt.Sprintf("duplicate %q acquisition found for %s: %s and %s",
		e.Plane, e.Label, e.PathA, e.PathB)
}

// NoCompleteGroupError reports that discovery found files but no
// complete three-plane set.
type NoCompleteGroupError struct{}

func (e *NoCompleteGroupError) Error() string {
	return "no complete acq-{sag,cor,ax} set found for suffix " + Suffix
}

// AmbiguousGroupsError reports multiple complete sets in single-pass
// mode; Labels is sorted alphabetically.
type AmbiguousGroupsError struct {
	Labels []string
}

func (e *AmbiguousGroupsError) Error() string {
	return fmt.Sprintf("multiple complete BIDS groups found: %s. Use --bids-filter to select one.",
		strings.Join(e.Labels, ", "))
}

// BetterPath picks the preferred of two candidate paths for the same
// plane: shallower directory depth wins, ties go to the
// lexicographically smaller path. It is idempotent and transitive.
func BetterPath(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	depthA := strings.Count(a, "/")
	depthB := strings.Count(b, "/")
	switch {
	case depthB < depthA:
		return b
	case depthA < depthB:
		return a
	case b < a:
		return b
	default:
		return a
	}
}

// CollectGroups buckets records by group key. Records whose acquisition
// is not a known plane are skipped. In strict mode a repeated plane
// within one group is a DuplicateAcquisitionError; otherwise the
// better-path rule resolves it.
func CollectGroups(records []Record, strict bool) (map[string]*Group, error) {
	valid := make(map[string]bool, len(AcqOrder))
	for _, acq := range AcqOrder {
		valid[acq] = true
	}

	groups := make(map[string]*Group)
	for _, rec := range records {
		acq := rec.Entities["acquisition"]
		if !valid[acq] {
			continue
		}

		key := KeyFromEntities(rec.Entities)
		id := key.String()
		group, ok := groups[id]
		if !ok {
			entities := make(map[string]string, len(rec.Entities))
			for k, v := range rec.Entities {
				entities[k] = v
			}
			group = &Group{Key: key, Entities: entities, AcqMap: make(map[string]string)}
			groups[id] = group
		}

		if prev, taken := group.AcqMap[acq]; taken {
			if strict {
				return nil, &DuplicateAcquisitionError{
					Plane: acq,
					Label: GroupLabel(group.Entities),
					PathA: prev,
					PathB: rec.Path,
				}
			}
			group.AcqMap[acq] = BetterPath(prev, rec.Path)
			continue
		}
		group.AcqMap[acq] = rec.Path
	}
	return groups, nil
}

// ChooseComplete selects the single complete group, failing when none
// or more than one exists.
func ChooseComplete(groups map[string]*Group) (*Group, error) {
	var complete []*Group
	for _, g := range groups {
		if g.Complete() {
			complete = append(complete, g)
		}
	}
	switch len(complete) {
	case 0:
		return nil, &NoCompleteGroupError{}
	case 1:
		return complete[0], nil
	default:
		labels := make([]string, len(complete))
		for i, g := range complete {
			labels[i] = GroupLabel(g.Entities)
		}
		sort.Strings(labels)
		return nil, &AmbiguousGroupsError{Labels: labels}
	}
}

// CompleteGroups returns every complete group sorted by canonical
// label, giving batch runs a deterministic processing order.
func CompleteGroups(groups map[string]*Group) []*Group {
	var complete []*Group
	for _, g := range groups {
		if g.Complete() {
			complete = append(complete, g)
		}
	}
	sort.Slice(complete, func(i, j int) bool {
		return complete[i].Key.Label() < complete[j].Key.Label()
	})
	return complete
}
