package bids

import (
	"errors"
	"reflect"
	"testing"
)

func record(path string, entities map[string]string) Record {
	return Record{Path: path, Entities: entities}
}

func planeEntities(sub, ses, acq string) map[string]string {
	e := map[string]string{
		"subject":     sub,
		"acquisition": acq,
		"suffix":      "T2w",
		"extension":   ".nii.gz",
		"datatype":    "anat",
	}
	if ses != "" {
		e["session"] = ses
	}
	return e
}

func TestGroupKeyIgnoresIterationOrderAndVolatiles(t *testing.T) {
	a := map[string]string{
		"subject":     "01",
		"session":     "pre",
		"acquisition": "sag",
		"suffix":      "T2w",
		"extension":   ".nii",
		"datatype":    "anat",
	}
	// Same logical group, different plane, extra empty entity.
	b := map[string]string{
		"acquisition": "ax",
		"run":         "",
		"extension":   ".nii.gz",
		"session":     "pre",
		"suffix":      "T2w",
		"subject":     "01",
	}

	ka, kb := KeyFromEntities(a), KeyFromEntities(b)
	if ka.String() != kb.String() {
		t.Errorf("keys differ: %q vs %q", ka.String(), kb.String())
	}
	want := GroupKey{{"session", "pre"}, {"subject", "01"}}
	if !reflect.DeepEqual(ka, want) {
		t.Errorf("key = %v, want %v", ka, want)
	}
}

func TestBetterPath(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"", "/x/a.nii", "/x/a.nii"},
		{"/x/a.nii", "", "/x/a.nii"},
		{"/x/y/a.nii", "/x/a.nii", "/x/a.nii"},    // shallower wins
		{"/x/a.nii", "/x/y/a.nii", "/x/a.nii"},    // either argument order
		{"/x/b.nii", "/x/a.nii", "/x/a.nii"},      // depth tie: lexicographic
		{"/x/a.nii", "/x/a.nii", "/x/a.nii"},      // idempotent
	}
	for _, tc := range tests {
		if got := BetterPath(tc.a, tc.b); got != tc.want {
			t.Errorf("BetterPath(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestBetterPathTransitive(t *testing.T) {
	a, b, c := "/x/a.nii", "/x/b.nii", "/x/y/c.nii"
	ab := BetterPath(a, b)
	bc := BetterPath(b, c)
	if got := BetterPath(ab, c); got != BetterPath(a, bc) {
		t.Errorf("BetterPath is not transitive: %q vs %q", got, BetterPath(a, bc))
	}
}

func TestCollectGroupsStrictDuplicateIsFatal(t *testing.T) {
	records := []Record{
		record("/d/sub-01_acq-sag_T2w.nii", planeEntities("01", "", "sag")),
		record("/d/extra/sub-01_acq-sag_T2w.nii", planeEntities("01", "", "sag")),
	}
	_, err := CollectGroups(records, true)
	var dup *DuplicateAcquisitionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAcquisitionError, got %v", err)
	}
	if dup.PathA != records[0].Path || dup.PathB != records[1].Path {
		t.Errorf("error should name both paths, got %+v", dup)
	}
}

func TestCollectGroupsBestPathResolvesDuplicates(t *testing.T) {
	records := []Record{
		record("/d/deep/nested/sub-01_acq-sag_T2w.nii", planeEntities("01", "", "sag")),
		record("/d/sub-01_acq-sag_T2w.nii", planeEntities("01", "", "sag")),
	}
	groups, err := CollectGroups(records, false)
	if err != nil {
		t.Fatalf("CollectGroups failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	for _, g := range groups {
		if got := g.AcqMap["sag"]; got != "/d/sub-01_acq-sag_T2w.nii" {
			t.Errorf("kept %q, want the shallower path", got)
		}
	}
}

func TestCollectGroupsSkipsUnknownPlanes(t *testing.T) {
	records := []Record{
		record("/d/sub-01_acq-iso_T2w.nii", planeEntities("01", "", "iso")),
	}
	groups, err := CollectGroups(records, true)
	if err != nil {
		t.Fatalf("CollectGroups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("unknown plane should not create a group: %v", groups)
	}
}

func TestCompleteRequiresExactlyThreePlanes(t *testing.T) {
	g := &Group{AcqMap: map[string]string{"sag": "a", "cor": "b"}}
	if g.Complete() {
		t.Error("two planes should not be complete")
	}
	g.AcqMap["ax"] = "c"
	if !g.Complete() {
		t.Error("three planes should be complete")
	}
}

func TestChooseComplete(t *testing.T) {
	build := func(subs ...string) map[string]*Group {
		var records []Record
		for _, sub := range subs {
			for _, acq := range AcqOrder {
				records = append(records,
					record("/d/sub-"+sub+"_acq-"+acq+"_T2w.nii", planeEntities(sub, "", acq)))
			}
		}
		groups, err := CollectGroups(records, true)
		if err != nil {
			t.Fatalf("CollectGroups failed: %v", err)
		}
		return groups
	}

	if _, err := ChooseComplete(map[string]*Group{}); err == nil {
		t.Error("empty groups should fail")
	} else if _, ok := err.(*NoCompleteGroupError); !ok {
		t.Errorf("want NoCompleteGroupError, got %T", err)
	}

	group, err := ChooseComplete(build("01"))
	if err != nil {
		t.Fatalf("single group should resolve: %v", err)
	}
	if group.Entities["subject"] != "01" {
		t.Errorf("wrong group selected: %v", group.Entities)
	}

	_, err = ChooseComplete(build("02", "01"))
	var amb *AmbiguousGroupsError
	if !errors.As(err, &amb) {
		t.Fatalf("want AmbiguousGroupsError, got %v", err)
	}
	if !reflect.DeepEqual(amb.Labels, []string{"sub-01", "sub-02"}) {
		t.Errorf("labels not sorted: %v", amb.Labels)
	}
}

func TestCompleteGroupsDeterministicOrder(t *testing.T) {
	var records []Record
	for _, sub := range []string{"10", "02", "01"} {
		for _, acq := range AcqOrder {
			records = append(records,
				record("/d/sub-"+sub+"_acq-"+acq+"_T2w.nii", planeEntities(sub, "", acq)))
		}
	}
	groups, err := CollectGroups(records, false)
	if err != nil {
		t.Fatalf("CollectGroups failed: %v", err)
	}

	complete := CompleteGroups(groups)
	var labels []string
	for _, g := range complete {
		labels = append(labels, g.Key.Label())
	}
	want := []string{"subject-01", "subject-02", "subject-10"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("order = %v, want %v", labels, want)
	}
}

func TestGroupKeyLabelRanksLeadingEntities(t *testing.T) {
	key := KeyFromEntities(map[string]string{
		"run":            "2",
		"reconstruction": "filtered",
		"session":        "pre",
		"subject":        "01",
	})
	want := "subject-01_session-pre_reconstruction-filtered_run-2"
	if got := key.Label(); got != want {
		t.Errorf("Label = %q, want %q", got, want)
	}
}

func TestGroupKeyFilterArgs(t *testing.T) {
	key := KeyFromEntities(map[string]string{"subject": "01", "session": "pre"})
	want := []string{"--bids-filter", "session=pre", "--bids-filter", "subject=01"}
	if got := key.FilterArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("FilterArgs = %v, want %v", got, want)
	}
}

func TestGroupLabel(t *testing.T) {
	label := GroupLabel(map[string]string{
		"subject":     "01",
		"session":     "pre",
		"run":         "2",
		"acquisition": "sag",
		"datatype":    "anat",
	})
	if label != "sub-01_ses-pre_run-2" {
		t.Errorf("label = %q", label)
	}
}
