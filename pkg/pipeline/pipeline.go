// Package pipeline chains the preprocess and reconstruction stages over
// one or many acquisition groups. Arguments before the "--" separator
// belong to the preprocess stage; arguments after it belong to the
// reconstruction stage. Without an explicit filename list the driver
// expands to every complete group the dataset index can discover.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"ggrrecon/pkg/bids"
)

// Stage runs one pipeline stage with the given arguments.
type Stage interface {
	Run(ctx context.Context, args []string) error
}

// Runner drives preprocess/reconstruct pairs.
type Runner struct {
	preprocess Stage
	recon      Stage
	dataRoot   string
	log        *logrus.Entry
}

// Option configures a Runner.
type Option func(*Runner)

// WithDataRoot sets the search path used for group discovery when the
// preprocess arguments carry no explicit --path.
func WithDataRoot(root string) Option {
	return func(r *Runner) {
		if root != "" {
			r.dataRoot = root
		}
	}
}

// NewRunner builds a driver over the two stages.
func NewRunner(preprocess, recon Stage, opts ...Option) (*Runner, error) {
	if preprocess == nil || recon == nil {
		return nil, errors.New("both pipeline stages are required")
	}
	r := &Runner{
		preprocess: preprocess,
		recon:      recon,
		log:        logrus.WithField("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the pipeline for argv. With an explicit filename list
// exactly one preprocess/reconstruct pair runs; otherwise every
// discovered complete group gets its own pair, stopping at the first
// failure. When the dataset index is unavailable or finds nothing the
// driver degrades to a single pair with the arguments as given.
func (r *Runner) Run(ctx context.Context, argv []string) error {
	pre, recon := SplitArgs(argv)
	recon = PropagatePaths(pre, recon)

	if HasFilenames(pre) {
		return r.runPair(ctx, pre, recon)
	}

	groups, err := r.discover(pre)
	if err != nil {
		if errors.Is(err, bids.ErrIndexUnavailable) {
			r.log.WithError(err).Warn("dataset index unavailable, running a single preprocess/reconstruct pair")
			return r.runPair(ctx, pre, recon)
		}
		return err
	}
	if len(groups) == 0 {
		r.log.Info("no complete acquisition groups found, running a single pass")
		return r.runPair(ctx, pre, recon)
	}

	r.log.WithField("groups", len(groups)).Info("discovered complete acquisition groups")
	for i, group := range groups {
		r.log.WithFields(logrus.Fields{
			"group":    group.Key.Label(),
			"progress": fmt.Sprintf("%d/%d", i+1, len(groups)),
		}).Info("processing group")

		args := append(append([]string(nil), pre...), group.Key.FilterArgs()...)
		if err := r.runPair(ctx, args, recon); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runPair(ctx context.Context, pre, recon []string) error {
	if err := r.preprocess.Run(ctx, pre); err != nil {
		return fmt.Errorf("preprocess stage: %w", err)
	}
	if err := r.recon.Run(ctx, recon); err != nil {
		return fmt.Errorf("reconstruction stage: %w", err)
	}
	return nil
}

func (r *Runner) discover(pre []string) ([]*bids.Group, error) {
	root := PathArg(pre, r.dataRoot)
	layout, err := bids.NewLayout(root)
	if err != nil {
		return nil, err
	}
	filters, err := bids.ParseFilters(FilterValues(pre))
	if err != nil {
		return nil, err
	}
	return bids.DiscoverGroups(layout, filters)
}

// SplitArgs splits argv at the first "--" into preprocess and
// reconstruction argument lists.
func SplitArgs(argv []string) (pre, recon []string) {
	for i, token := range argv {
		if token == "--" {
			return argv[:i], argv[i+1:]
		}
	}
	return argv, nil
}

// HasFilenames reports whether the preprocess arguments carry an
// explicit input file list.
func HasFilenames(args []string) bool {
	return hasFlag(args, "-f", "--filenames")
}

// PathArg returns the input search path from the preprocess arguments,
// or fallback if none was given.
func PathArg(args []string, fallback string) string {
	if v, ok := argValue(args, "-p", "--path"); ok {
		return v
	}
	return fallback
}

// FilterValues collects every repeatable --bids-filter value in order.
func FilterValues(args []string) []string {
	var values []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--bids-filter" && i+1 < len(args) {
			values = append(values, args[i+1])
			i++
			continue
		}
		if strings.HasPrefix(args[i], "--bids-filter=") {
			values = append(values, strings.TrimPrefix(args[i], "--bids-filter="))
		}
	}
	return values
}

// PropagatePaths copies the temp and output paths given to the
// preprocess stage onto the reconstruction arguments, unless the caller
// already set them there.
func PropagatePaths(pre, recon []string) []string {
	out := append([]string(nil), recon...)
	if v, ok := argValue(pre, "-t", "--temp_path", "-w", "--working_path"); ok {
		if !hasFlag(recon, "-t", "--temp_path", "-w", "--working_path") {
			out = append(out, "--temp_path", v)
		}
	}
	if v, ok := argValue(pre, "-o", "--out_path"); ok {
		if !hasFlag(recon, "-o", "--out_path") {
			out = append(out, "--out_path", v)
		}
	}
	return out
}

// argValue scans for the last occurrence of any of the named flags,
// accepting both "--flag value" and "--flag=value" forms.
func argValue(args []string, names ...string) (string, bool) {
	value, found := "", false
	for i := 0; i < len(args); i++ {
		for _, name := range names {
			if args[i] == name && i+1 < len(args) {
				value, found = args[i+1], true
			} else if strings.HasPrefix(name, "--") && strings.HasPrefix(args[i], name+"=") {
				value, found = args[i][len(name)+1:], true
			}
		}
	}
	return value, found
}

func hasFlag(args []string, names ...string) bool {
	for _, arg := range args {
		for _, name := range names {
			if arg == name {
				return true
			}
			if strings.HasPrefix(name, "--") && strings.HasPrefix(arg, name+"=") {
				return true
			}
		}
	}
	return false
}
