package bids

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ReconstructionLabel is the reconstruction entity value attached to
// the pipeline's output files.
const ReconstructionLabel = "superesolution"

// ManifestFileName is the provenance manifest written next to the
// intermediate artifacts for the reconstruction stage.
const ManifestFileName = "bids_output_name.json"

// Manifest records where a resolved group's output belongs and which
// source images feed it.
type Manifest struct {
	OutputName        string            `json:"output_name"`
	OutputRelDir      string            `json:"output_rel_dir"`
	Subject           string            `json:"subject"`
	Session           *string           `json:"session"`
	Datatype          string            `json:"datatype"`
	InputAcquisitions []string          `json:"input_acquisitions"`
	SourceImages      []string          `json:"source_images"`
	SourceEntities    map[string]string `json:"source_entities"`
}

// OutputName derives the output filename from the sagittal reference
// file: drop acquisition and reconstruction tokens, inject the
// superesolution reconstruction token, keep the suffix and extension.
// It returns "" when the reference name does not have the expected
// token shape. Re-applying the derivation to its own output (with the
// reconstruction token stripped again) is a fixed point.
func OutputName(referenceFile string) string {
	stem, ext := SplitExtension(filepath.Base(referenceFile))
	if ext != ".nii" && ext != ".nii.gz" {
		return ""
	}
	tokens := strings.Split(stem, "_")
	if len(tokens) < 2 || tokens[len(tokens)-1] != Suffix {
		return ""
	}

	out := make([]string, 0, len(tokens)+1)
	for _, token := range tokens[:len(tokens)-1] {
		if strings.HasPrefix(token, "acq-") || strings.HasPrefix(token, "rec-") {
			continue
		}
		out = append(out, token)
	}
	out = append(out, "rec-"+ReconstructionLabel, Suffix)
	return strings.Join(out, "_") + ext
}

// RelativizePaths maps each path to a slash-separated path relative to
// root when the file lives under it, and to an absolute path otherwise.
// An empty root yields absolute paths.
func RelativizePaths(paths []string, root string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			out = append(out, p)
			continue
		}
		if root == "" {
			out = append(out, abs)
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			out = append(out, abs)
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			out = append(out, abs)
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

// BuildManifest assembles the provenance manifest for a resolved group.
// It returns nil when the group carries no subject, since there is no
// derivable output location in that case.
func BuildManifest(group *Group, flist []string, rootPath string) *Manifest {
	sub := normalizeEntity("sub", group.Entities["subject"])
	if sub == "" {
		return nil
	}
	var ses *string
	if s := normalizeEntity("ses", group.Entities["session"]); s != "" {
		ses = &s
	}

	relDir := path.Join(sub, "anat")
	if ses != nil {
		relDir = path.Join(sub, *ses, "anat")
	}

	reference := flist[0]
	if sag, ok := group.AcqMap[AcqOrder[0]]; ok {
		reference = sag
	}
	outputName := OutputName(reference)
	if outputName == "" {
		if ses == nil {
			outputName = fmt.Sprintf("%s_rec-%s_%s.nii.gz", sub, ReconstructionLabel, Suffix)
		} else {
			outputName = fmt.Sprintf("%s_%s_rec-%s_%s.nii.gz", sub, *ses, ReconstructionLabel, Suffix)
		}
	}

	entities := make(map[string]string)
	for name, value := range group.Entities {
		if value == "" || groupExcluded[name] {
			continue
		}
		entities[name] = value
	}

	return &Manifest{
		OutputName:        outputName,
		OutputRelDir:      relDir,
		Subject:           sub,
		Session:           ses,
		Datatype:          "anat",
		InputAcquisitions: append([]string(nil), AcqOrder...),
		SourceImages:      RelativizePaths(flist, rootPath),
		SourceEntities:    entities,
	}
}

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// RemoveManifest deletes a stale manifest; a missing file is fine. This
// keeps later resolution-without-manifest invocations from leaving an
// outdated provenance record behind.
func RemoveManifest(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale manifest: %w", err)
	}
	return nil
}
