package bids

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// ErrIndexUnavailable signals that no dataset index can be built (for
// example the search root does not exist). Callers distinguish it from
// "no data found" so batch drivers can degrade to a single pass.
var ErrIndexUnavailable = errors.New("bids: dataset index unavailable")

// Index answers entity-filtered queries over a dataset. The production
// implementation is Layout; tests substitute deterministic fakes.
type Index interface {
	Query(filters Filters) ([]Record, error)
}

// Layout walks a BIDS dataset root on the filesystem and parses
// entities out of the filenames it finds.
type Layout struct {
	root string
}

// Directories that never belong to the raw scope.
var nonRawDirs = map[string]bool{
	"derivatives": true,
	"sourcedata":  true,
	"code":        true,
}

// NewLayout opens a dataset root. A missing or unreadable root returns
// an error wrapping ErrIndexUnavailable.
func NewLayout(root string) (*Layout, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexUnavailable, root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrIndexUnavailable, root)
	}
	return &Layout{root: root}, nil
}

// Root returns the dataset root path.
func (l *Layout) Root() string {
	return l.root
}

// Query walks the dataset and returns every file whose parsed entities
// satisfy the filters, sorted by path. Files that do not parse as
// entity-structured are skipped.
func (l *Layout) Query(filters Filters) ([]Record, error) {
	var records []Record
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == l.root {
				return nil
			}
			if nonRawDirs[name] || (len(name) > 0 && name[0] == '.') {
				return filepath.SkipDir
			}
			return nil
		}

		entities, perr := ParseFileEntities(path)
		if perr != nil {
			logrus.WithField("path", path).WithError(perr).Debug("skipping non-BIDS file")
			return nil
		}
		if !filters.Match(entities) {
			return nil
		}
		records = append(records, Record{Path: path, Entities: entities})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dataset %s: %w", l.root, err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

var _ Index = (*Layout)(nil)
