package bids

import (
	"reflect"
	"testing"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want Filters
	}{
		{
			name: "scalar value",
			raw:  []string{"subject=01"},
			want: Filters{"subject": {"01"}},
		},
		{
			name: "alias keys",
			raw:  []string{"sub=01", "ses=pre", "acq=sag", "rec=filtered"},
			want: Filters{
				"subject":        {"01"},
				"session":        {"pre"},
				"acquisition":    {"sag"},
				"reconstruction": {"filtered"},
			},
		},
		{
			name: "multi value",
			raw:  []string{"subject=01,02 , 03"},
			want: Filters{"subject": {"01", "02", "03"}},
		},
		{
			name: "later filter overrides",
			raw:  []string{"subject=01", "subject=02"},
			want: Filters{"subject": {"02"}},
		},
		{
			name: "value containing equals",
			raw:  []string{"desc=a=b"},
			want: Filters{"desc": {"a=b"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFilters(tc.raw)
			if err != nil {
				t.Fatalf("ParseFilters(%v) failed: %v", tc.raw, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseFilters(%v) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseFiltersRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"subject", "=01", "subject=", " =x", "subject= "} {
		if _, err := ParseFilters([]string{raw}); err == nil {
			t.Errorf("ParseFilters(%q) should fail", raw)
		}
	}
}

func TestFiltersMatch(t *testing.T) {
	entities := map[string]string{
		"subject":     "01",
		"acquisition": "sag",
		"suffix":      "T2w",
	}
	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{"empty matches", Filters{}, true},
		{"scalar match", Filters{"subject": {"01"}}, true},
		{"scalar mismatch", Filters{"subject": {"02"}}, false},
		{"multi value match", Filters{"acquisition": {"cor", "sag"}}, true},
		{"missing entity", Filters{"session": {"pre"}}, false},
		{"scope ignored", Filters{"scope": {"raw"}, "subject": {"01"}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filters.Match(entities); got != tc.want {
				t.Errorf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBaseQueryUserFiltersWin(t *testing.T) {
	query := baseQuery(Filters{"suffix": {"T1w"}, "subject": {"01"}})
	if got := query["suffix"]; !reflect.DeepEqual(got, []string{"T1w"}) {
		t.Errorf("user suffix filter lost: %v", got)
	}
	if got := query["acquisition"]; !reflect.DeepEqual(got, AcqOrder) {
		t.Errorf("default acquisition filter missing: %v", got)
	}

	pinned := baseQuery(Filters{"acquisition": {"sag"}})
	if got := pinned["acquisition"]; !reflect.DeepEqual(got, []string{"sag"}) {
		t.Errorf("pinned acquisition filter overridden: %v", got)
	}
}

func TestParseFileEntities(t *testing.T) {
	entities, err := ParseFileEntities("/data/sub-01/ses-a/anat/sub-01_ses-a_acq-sag_run-2_T2w.nii.gz")
	if err != nil {
		t.Fatalf("ParseFileEntities failed: %v", err)
	}
	want := map[string]string{
		"subject":     "01",
		"session":     "a",
		"acquisition": "sag",
		"run":         "2",
		"suffix":      "T2w",
		"extension":   ".nii.gz",
		"datatype":    "anat",
	}
	if !reflect.DeepEqual(entities, want) {
		t.Errorf("entities = %v, want %v", entities, want)
	}
}

func TestParseFileEntitiesRejectsUnstructured(t *testing.T) {
	for _, name := range []string{"brain.nii.gz", "sub-01-T2w.nii", "sub-01__T2w.nii", "noext"} {
		if _, err := ParseFileEntities(name); err == nil {
			t.Errorf("ParseFileEntities(%q) should fail", name)
		}
	}
}

func TestInferDatatype(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/data/sub-01/anat/sub-01_T2w.nii", "anat"},
		{"/data/sub-01/func/sub-01_task-rest_bold.nii", "func"},
		{"/data/sub-01/sub-01_T2w.nii", "anat"},
		{"/dwi/sub-01/other/sub-01_T2w.nii", "dwi"},
	}
	for _, tc := range tests {
		if got := InferDatatype(tc.path); got != tc.want {
			t.Errorf("InferDatatype(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
