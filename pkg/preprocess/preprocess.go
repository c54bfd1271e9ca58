// Package preprocess turns a set of orthogonal anatomical acquisitions
// into the aligned, resampled, and filtered artifact set the
// super-resolution reconstruction stage consumes. The first input is
// the reference; every other volume is resampled onto the reference
// lattice and rigidly registered to it.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"ggrrecon/pkg/mat"
	"ggrrecon/pkg/nifti"
	"ggrrecon/pkg/registration"
	"ggrrecon/pkg/resample"
)

// Params configures one preprocessing run.
type Params struct {
	// Filenames are the input volumes with the reference first.
	Filenames []string

	// Size, when set, fixes the isotropic lattice to exactly these
	// voxel counts; otherwise the lattice is derived from the
	// reference's smallest native spacing.
	Size []int

	// ResampleOnly stops after the reference has been resampled,
	// writing it to OutDir instead of WorkingDir.
	ResampleOnly bool

	// WorkingDir receives every intermediate artifact; OutDir receives
	// the resample-only result.
	WorkingDir string
	OutDir     string

	// Workers bounds per-image parallelism. Zero means one worker per
	// logical CPU.
	Workers int

	// Registrar performs the rigid alignments. Nil selects the
	// external command-line tool.
	Registrar registration.Registrar
}

// Result summarizes what a run produced.
type Result struct {
	Geometry   Geometry
	IsoSpacing float64

	// LowResSizes holds, per input, the effective acquired resolution
	// on the shared lattice, forced even along every axis.
	LowResSizes [][3]int

	// ResampledReference is set in resample-only mode; FusedVolume
	// after a full run.
	ResampledReference string
	FusedVolume        string
}

// imageName carries the pieces every artifact name is built from. The
// base is the filename up to the first dot so stacked extensions like
// .nii.gz survive intact.
type imageName struct {
	src  string
	base string
	ext  string
}

func splitName(path string) imageName {
	name := filepath.Base(path)
	if i := strings.Index(name, "."); i >= 0 {
		return imageName{src: path, base: name[:i], ext: name[i:]}
	}
	return imageName{src: path, base: name}
}

func (n imageName) reoriented() string { return n.base + n.ext }
func (n imageName) resampled() string  { return n.base + "_x" + n.ext }
func (n imageName) registered() string { return "reg_" + n.base + "_x" + n.ext }
func (n imageName) transform() string  { return "tfm2_" + n.base + ".tfm" }
func (n imageName) filter() string     { return "h_" + n.base + ".mat" }

// FusedFileName is the averaged volume a full run leaves in the
// working directory.
const FusedFileName = "img_mean"

// Preprocessor runs the pipeline for one group of inputs.
type Preprocessor struct {
	params  Params
	names   []imageName
	workers int
	reg     registration.Registrar
	log     *logrus.Entry
}

// New validates params and prepares a run.
func New(params Params) (*Preprocessor, error) {
	if len(params.Filenames) == 0 {
		return nil, errors.New("no input images")
	}
	if !params.ResampleOnly && len(params.Filenames) < 3 {
		return nil, fmt.Errorf("need at least 3 input images, got %d", len(params.Filenames))
	}
	if err := ValidateSize(params.Size); err != nil {
		return nil, err
	}
	if params.WorkingDir == "" {
		return nil, errors.New("working directory required")
	}
	if params.ResampleOnly && params.OutDir == "" {
		return nil, errors.New("output directory required for resampling")
	}

	p := &Preprocessor{
		params:  params,
		workers: params.Workers,
		reg:     params.Registrar,
		log:     logrus.WithField("component", "preprocess"),
	}
	if p.workers < 1 {
		p.workers = runtime.NumCPU()
	}
	if p.reg == nil {
		p.reg = registration.NewCLI()
	}

	seen := make(map[string]bool, len(params.Filenames))
	for _, fn := range params.Filenames {
		n := splitName(fn)
		if seen[n.base] {
			return nil, fmt.Errorf("duplicate image name %q", n.base)
		}
		seen[n.base] = true
		p.names = append(p.names, n)
	}
	return p, nil
}

// ValidateSize checks a user-supplied lattice size: absent, or exactly
// three positive voxel counts.
func ValidateSize(size []int) error {
	if len(size) == 0 {
		return nil
	}
	if len(size) != 3 {
		return fmt.Errorf("SIZE should comprise 3 positive integers, got %d", len(size))
	}
	for _, n := range size {
		if n <= 0 {
			return fmt.Errorf("SIZE should comprise 3 positive integers, got %v", size)
		}
	}
	return nil
}

// Run executes the pipeline. Intermediates land in the working
// directory; the returned Result names the final artifacts.
func (p *Preprocessor) Run(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(p.params.WorkingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	if p.params.OutDir != "" {
		if err := os.MkdirAll(p.params.OutDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	n := len(p.names)
	nativeSpacing := make([][3]float64, n)
	nativeSize := make([][3]int, n)

	p.log.WithField("images", n).Info("reorienting input images")
	err := p.forEach(ctx, 0, n, "Reorienting images", func(i int) error {
		img, err := nifti.Read(p.names[i].src)
		if err != nil {
			return err
		}
		oriented := resample.ToLPS(img)
		nativeSpacing[i] = oriented.Spacing
		nativeSize[i] = oriented.Size()
		return nifti.Write(oriented, p.workingPath(p.names[i].reoriented()))
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("resampling reference onto isotropic lattice")
	ref, err := nifti.Read(p.workingPath(p.names[0].reoriented()))
	if err != nil {
		return nil, err
	}
	var refX *nifti.Image
	if len(p.params.Size) == 3 {
		refX, err = resample.IsoWithSize(ref, [3]int{p.params.Size[0], p.params.Size[1], p.params.Size[2]})
		if err != nil {
			return nil, err
		}
	} else {
		refX = resample.Iso(ref)
	}

	result := &Result{
		Geometry:   GeometryOf(refX),
		IsoSpacing: refX.Spacing[0],
	}

	if p.params.ResampleOnly {
		out := filepath.Join(p.params.OutDir, p.names[0].resampled())
		if err := nifti.Write(refX, out); err != nil {
			return nil, err
		}
		result.ResampledReference = out
		return result, nil
	}

	if err := nifti.Write(refX, p.workingPath(p.names[0].resampled())); err != nil {
		return nil, err
	}

	sz := refX.Size()
	result.LowResSizes = make([][3]int, n)
	for i := range p.names {
		result.LowResSizes[i] = lowResSize(nativeSize[i], nativeSpacing[i], refX.Spacing, sz)
	}

	err = p.forEach(ctx, 1, n, "Resampling images", func(i int) error {
		img, err := nifti.Read(p.workingPath(p.names[i].reoriented()))
		if err != nil {
			return err
		}
		return nifti.Write(resample.Like(img, refX), p.workingPath(p.names[i].resampled()))
	})
	if err != nil {
		return nil, err
	}

	if err := result.Geometry.Save(p.params.WorkingDir); err != nil {
		return nil, err
	}
	if err := writeDataList(p.params.WorkingDir, p.names); err != nil {
		return nil, err
	}

	p.log.WithField("images", n-1).Info("aligning images to reference")
	err = p.forEach(ctx, 1, n, "Aligning images", func(i int) error {
		return p.reg.Register(ctx, registration.Request{
			Fixed:     p.workingPath(p.names[0].resampled()),
			Moving:    p.workingPath(p.names[i].resampled()),
			OutVolume: p.workingPath(p.names[i].registered()),
			OutTfm:    p.workingPath(p.names[i].transform()),
		})
	})
	if err != nil {
		return nil, err
	}

	err = p.forEach(ctx, 0, n, "Creating filters", func(i int) error {
		arr := deconvFilter(nativeSpacing[i], refX.Spacing, sz)
		return mat.WriteFile(p.workingPath(p.names[i].filter()), []mat.Array{arr})
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("fusing aligned images")
	registered := make([]*nifti.Image, 0, n-1)
	for _, name := range p.names[1:] {
		img, err := nifti.Read(p.workingPath(name.registered()))
		if err != nil {
			return nil, err
		}
		registered = append(registered, img)
	}
	fused, err := fuse(refX, registered)
	if err != nil {
		return nil, err
	}
	fusedPath := p.workingPath(FusedFileName + p.names[0].ext)
	if err := nifti.Write(fused, fusedPath); err != nil {
		return nil, err
	}
	result.FusedVolume = fusedPath
	return result, nil
}

func (p *Preprocessor) workingPath(name string) string {
	return filepath.Join(p.params.WorkingDir, name)
}

// lowResSize estimates how many meaningful samples an image contributes
// along each axis of the shared lattice. The count never exceeds the
// native size and is forced even so the frequency-domain stage can
// split it symmetrically.
func lowResSize(native [3]int, spacing, isoSpacing [3]float64, sz [3]int) [3]int {
	var out [3]int
	for a := 0; a < 3; a++ {
		n := int(math.Round(isoSpacing[a] / spacing[a] * float64(sz[a])))
		if n > native[a] {
			n = native[a]
		}
		n -= n % 2
		if n < 2 {
			n = 2
		}
		out[a] = n
	}
	return out
}

// forEach runs fn over image indices [start, n) with bounded
// parallelism. The first failure cancels outstanding work and is
// returned after all workers drain.
func (p *Preprocessor) forEach(ctx context.Context, start, n int, label string, fn func(i int) error) error {
	count := n - start
	if count <= 0 {
		return nil
	}
	workers := p.workers
	if workers > count {
		workers = count
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bar := progressbar.Default(int64(count), label)
	defer bar.Finish()

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := fn(i); err != nil {
					fail(err)
					continue
				}
				bar.Add(1)
			}
		}()
	}
	for i := start; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
