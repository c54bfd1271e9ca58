package bids

import (
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// InconsistentFilenamesError reports an explicit file list where only
// some files parse as plane-bearing BIDS names; partial grouping would
// silently mis-pair images, so this is fatal.
type InconsistentFilenamesError struct{}

func (e *InconsistentFilenamesError) Error() string {
	return "explicit filenames must all be BIDS-compatible when using acq-{sag,cor,ax}_" +
		Suffix + " input selection"
}

// DiscoverInputs queries the index for the one complete acquisition set
// matching the base filters plus the caller's extras, and returns the
// input files in canonical plane order together with their manifest.
// rootPath is used to relativize the manifest's source paths.
func DiscoverInputs(idx Index, rootPath string, extra Filters) ([]string, *Manifest, error) {
	records, err := idx.Query(baseQuery(extra))
	if err != nil {
		return nil, nil, err
	}

	kept := records[:0]
	for _, rec := range records {
		if rec.Entities["subject"] == "" {
			// Deliberate: unidentifiable files cannot be grouped.
			logrus.WithField("path", rec.Path).Debug("skipping file without subject entity")
			continue
		}
		kept = append(kept, rec)
	}

	groups, err := CollectGroups(kept, true)
	if err != nil {
		return nil, nil, err
	}
	group, err := ChooseComplete(groups)
	if err != nil {
		return nil, nil, err
	}

	flist := group.Filenames()
	return flist, BuildManifest(group, flist, rootPath), nil
}

// DiscoverGroups returns every complete acquisition set matching the
// base filters plus the caller's extras, in deterministic label order.
// Unlike single-group discovery, duplicate planes resolve by path
// preference instead of failing: batch callers cannot act on a
// duplicate inside one of many groups.
func DiscoverGroups(idx Index, extra Filters) ([]*Group, error) {
	records, err := idx.Query(baseQuery(extra))
	if err != nil {
		return nil, err
	}

	kept := records[:0]
	for _, rec := range records {
		if rec.Entities["subject"] == "" {
			continue
		}
		kept = append(kept, rec)
	}

	groups, err := CollectGroups(kept, false)
	if err != nil {
		return nil, err
	}
	return CompleteGroups(groups), nil
}

// SelectFromFilenames resolves an explicit file list. When every file
// parses as an entity-bearing plane acquisition the list is grouped
// exactly like discovered files; when none do, the list is passed
// through untouched with no manifest; a mixed list is fatal.
func SelectFromFilenames(filenames []string) ([]string, *Manifest, error) {
	var records []Record
	for _, filename := range filenames {
		entities, err := ParseFileEntities(filename)
		if err != nil {
			continue
		}
		if entities["suffix"] != Suffix || entities["subject"] == "" {
			continue
		}
		if !validPlane(entities["acquisition"]) {
			continue
		}
		records = append(records, Record{Path: filename, Entities: entities})
	}

	if len(records) == 0 {
		return filenames, nil, nil
	}
	if len(records) != len(filenames) {
		return nil, nil, &InconsistentFilenamesError{}
	}

	groups, err := CollectGroups(records, true)
	if err != nil {
		return nil, nil, err
	}
	group, err := ChooseComplete(groups)
	if err != nil {
		return nil, nil, err
	}

	flist := group.Filenames()
	return flist, BuildManifest(group, flist, commonDir(flist)), nil
}

func validPlane(acq string) bool {
	for _, a := range AcqOrder {
		if acq == a {
			return true
		}
	}
	return false
}

// commonDir finds the deepest directory containing every path, or ""
// when there is none (already-relative inputs resolve via Abs first).
func commonDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	abs := make([][]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return ""
		}
		abs = append(abs, strings.Split(filepath.Dir(a), string(filepath.Separator)))
	}

	common := abs[0]
	for _, parts := range abs[1:] {
		n := len(common)
		if len(parts) < n {
			n = len(parts)
		}
		i := 0
		for i < n && common[i] == parts[i] {
			i++
		}
		common = common[:i]
	}
	if len(common) == 0 {
		return ""
	}
	dir := strings.Join(common, string(filepath.Separator))
	if dir == "" {
		dir = string(filepath.Separator)
	}
	return dir
}
