// Package bids discovers and groups BIDS-organized acquisition files.
//
// It covers the entity model (subject, session, acquisition plane and
// friends embedded in file names), KEY=VALUE filter parsing, grouping
// of candidate files into complete sagittal/coronal/axial sets, and the
// derivation of output names and provenance manifests. The dataset
// index itself is a capability interface so tests and callers without a
// dataset tree can substitute their own.
package bids

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AcqOrder is the fixed acquisition-plane order: every complete group
// carries exactly these three planes, and input lists are always
// arranged in this order.
var AcqOrder = []string{"sag", "cor", "ax"}

// Suffix is the image suffix this pipeline operates on.
const Suffix = "T2w"

// filterKeyAliases maps short filter keys to canonical entity names.
var filterKeyAliases = map[string]string{
	"sub": "subject",
	"ses": "session",
	"acq": "acquisition",
	"rec": "reconstruction",
}

// entityLabels maps canonical entity names to their filename labels.
var entityLabels = map[string]string{
	"subject":        "sub",
	"session":        "ses",
	"acquisition":    "acq",
	"reconstruction": "rec",
	"run":            "run",
	"echo":           "echo",
	"part":           "part",
	"desc":           "desc",
	"space":          "space",
	"ceagent":        "ce",
	"direction":      "dir",
	"chunk":          "chunk",
	"task":           "task",
	"inversion":      "inv",
}

// labelEntities is the inverse of entityLabels.
var labelEntities = func() map[string]string {
	m := make(map[string]string, len(entityLabels))
	for name, label := range entityLabels {
		m[label] = name
	}
	return m
}()

var knownDatatypes = map[string]bool{
	"anat": true, "func": true, "dwi": true, "fmap": true, "perf": true,
	"pet": true, "meg": true, "eeg": true, "ieeg": true, "micr": true,
}

// groupExcluded lists the volatile entities that never participate in
// group identity.
var groupExcluded = map[string]bool{
	"acquisition": true,
	"suffix":      true,
	"extension":   true,
	"datatype":    true,
}

// Record is one discovered acquisition file: a path plus the entities
// parsed from (or indexed for) that path.
type Record struct {
	Path     string
	Entities map[string]string
}

// SplitExtension splits a filename into stem and imaging extension,
// treating .nii.gz as a single extension.
func SplitExtension(name string) (stem, ext string) {
	switch {
	case strings.HasSuffix(name, ".nii.gz"):
		return name[:len(name)-7], ".nii.gz"
	case strings.HasSuffix(name, ".nii"):
		return name[:len(name)-4], ".nii"
	default:
		ext = filepath.Ext(name)
		return name[:len(name)-len(ext)], ext
	}
}

// ParseFileEntities derives the entity map from a BIDS-style filename
// such as sub-01_ses-a_acq-sag_T2w.nii.gz. The trailing token is the
// suffix; every other token must be a label-value pair. The datatype is
// inferred from the parent directories.
func ParseFileEntities(path string) (map[string]string, error) {
	stem, ext := SplitExtension(filepath.Base(path))
	if stem == "" || ext == "" {
		return nil, fmt.Errorf("filename %q has no extension", filepath.Base(path))
	}

	tokens := strings.Split(stem, "_")
	if len(tokens) < 2 {
		return nil, fmt.Errorf("filename %q is not entity-structured", filepath.Base(path))
	}

	entities := make(map[string]string, len(tokens)+2)
	suffix := tokens[len(tokens)-1]
	if strings.Contains(suffix, "-") {
		return nil, fmt.Errorf("filename %q has no suffix token", filepath.Base(path))
	}

	for _, token := range tokens[:len(tokens)-1] {
		label, value, ok := strings.Cut(token, "-")
		if !ok || label == "" || value == "" {
			return nil, fmt.Errorf("malformed entity token %q in %q", token, filepath.Base(path))
		}
		name := label
		if canonical, ok := labelEntities[label]; ok {
			name = canonical
		}
		entities[name] = value
	}

	entities["suffix"] = suffix
	entities["extension"] = ext
	entities["datatype"] = InferDatatype(path)
	return entities, nil
}

// InferDatatype walks the path from the innermost directory outwards
// looking for a known BIDS datatype directory; anat is the default.
func InferDatatype(path string) string {
	dir := filepath.Dir(path)
	for dir != "" {
		base := filepath.Base(dir)
		if knownDatatypes[base] {
			return base
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "anat"
}

// entityToken renders one name/value pair in filename form (acq-sag).
func entityToken(name, value string) string {
	label := name
	if l, ok := entityLabels[name]; ok {
		label = l
	}
	return label + "-" + value
}

// normalizeEntity prefixes a bare value with its label when needed, so
// both "01" and "sub-01" render as "sub-01".
func normalizeEntity(label, value string) string {
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, label+"-") {
		return value
	}
	return label + "-" + value
}
