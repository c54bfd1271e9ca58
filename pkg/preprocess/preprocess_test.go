package preprocess

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ggrrecon/pkg/mat"
	"ggrrecon/pkg/nifti"
	"ggrrecon/pkg/registration"
)

// fakeRegistrar records requests and stands in for the external tool by
// copying the moving volume to the output path.
type fakeRegistrar struct {
	mu   sync.Mutex
	reqs []registration.Request
	err  error
}

func (f *fakeRegistrar) Register(_ context.Context, req registration.Request) error {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(req.Moving)
	if err != nil {
		return err
	}
	if err := os.WriteFile(req.OutVolume, data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(req.OutTfm, []byte("rigid"), 0o644)
}

func constantVolume(t *testing.T, dir, name string, value float64) string {
	t.Helper()
	img := nifti.NewImage(4, 4, 4)
	for i := range img.Data {
		img.Data[i] = value
	}
	path := filepath.Join(dir, name)
	if err := nifti.Write(img, path); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSplitName(t *testing.T) {
	n := splitName("/data/sub-01_acq-sag_T2w.nii.gz")
	if n.base != "sub-01_acq-sag_T2w" || n.ext != ".nii.gz" {
		t.Errorf("splitName = %+v", n)
	}
	if got := n.registered(); got != "reg_sub-01_acq-sag_T2w_x.nii.gz" {
		t.Errorf("registered = %q", got)
	}
	if got := n.filter(); got != "h_sub-01_acq-sag_T2w.mat" {
		t.Errorf("filter = %q", got)
	}
	if bare := splitName("volume"); bare.ext != "" {
		t.Errorf("bare name ext = %q", bare.ext)
	}
}

func TestValidateSize(t *testing.T) {
	if err := ValidateSize(nil); err != nil {
		t.Errorf("nil size should pass: %v", err)
	}
	if err := ValidateSize([]int{128, 128, 128}); err != nil {
		t.Errorf("valid size should pass: %v", err)
	}
	for _, bad := range [][]int{{128}, {128, 128}, {128, 0, 128}, {128, -1, 128}} {
		if err := ValidateSize(bad); err == nil {
			t.Errorf("ValidateSize(%v) should fail", bad)
		}
	}
}

func TestLowResSize(t *testing.T) {
	got := lowResSize([3]int{4, 4, 4}, [3]float64{1, 1, 3}, [3]float64{1, 1, 1}, [3]int{12, 12, 12})
	if got != [3]int{4, 4, 4} {
		t.Errorf("lowResSize = %v", got)
	}
	// Odd counts round down to even.
	got = lowResSize([3]int{5, 5, 5}, [3]float64{1, 1, 1}, [3]float64{1, 1, 1}, [3]int{5, 5, 5})
	if got != [3]int{4, 4, 4} {
		t.Errorf("lowResSize = %v", got)
	}
}

func TestGaussianSpectrum(t *testing.T) {
	spec := gaussianSpectrum(3, 16)
	if math.Abs(spec[0]-1) > 1e-12 {
		t.Errorf("DC gain = %v, want 1", spec[0])
	}
	for i := 1; i < 8; i++ {
		if math.Abs(spec[i]-spec[16-i]) > 1e-12 {
			t.Errorf("spectrum not symmetric at %d: %v vs %v", i, spec[i], spec[16-i])
		}
	}
	for i := 1; i < len(spec); i++ {
		if spec[i] > spec[0]+1e-12 {
			t.Errorf("spectrum exceeds DC at %d: %v", i, spec[i])
		}
	}
}

func TestDeconvFilterIdentity(t *testing.T) {
	arr := deconvFilter([3]float64{1, 1, 1}, [3]float64{1, 1, 1}, [3]int{8, 8, 8})
	if arr.Name != "fft_win" {
		t.Errorf("name = %q", arr.Name)
	}
	if len(arr.Data) != 1 || arr.Data[0] != 1 {
		t.Errorf("identity filter = %+v", arr)
	}
}

func TestDeconvFilterCoarseAxis(t *testing.T) {
	arr := deconvFilter([3]float64{1, 1, 3}, [3]float64{1, 1, 1}, [3]int{4, 4, 4})
	wantDims := []int{8, 8, 8}
	for i, d := range wantDims {
		if arr.Dims[i] != d {
			t.Fatalf("dims = %v, want %v", arr.Dims, wantDims)
		}
	}
	at := func(x, y, z int) float64 { return arr.Data[x+8*(y+8*z)] }
	// The window varies only along the coarse axis.
	for z := 0; z < 8; z++ {
		want := at(0, 0, z)
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				if at(x, y, z) != want {
					t.Fatalf("filter varies off the coarse axis at (%d,%d,%d)", x, y, z)
				}
			}
		}
	}
	if math.Abs(at(0, 0, 0)-1) > 1e-12 {
		t.Errorf("DC gain = %v, want 1", at(0, 0, 0))
	}
	if at(0, 0, 4) >= at(0, 0, 1) {
		t.Errorf("spectrum should decay toward Nyquist: %v vs %v", at(0, 0, 4), at(0, 0, 1))
	}
}

func TestFuse(t *testing.T) {
	ref := nifti.NewImage(2, 1, 1)
	ref.Data = []float64{2, 4}
	a := nifti.NewImage(2, 1, 1)
	a.Data = []float64{4, 0}
	b := nifti.NewImage(2, 1, 1)
	b.Data = []float64{0, 8}

	fused, err := fuse(ref, []*nifti.Image{a, b})
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	// Zero voxels do not count toward the divisor.
	if fused.Data[0] != 3 || fused.Data[1] != 6 {
		t.Errorf("fused = %v, want [3 6]", fused.Data)
	}
}

func TestFuseSizeMismatch(t *testing.T) {
	ref := nifti.NewImage(2, 2, 2)
	other := nifti.NewImage(2, 2, 3)
	if _, err := fuse(ref, []*nifti.Image{other}); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Params{}); err == nil {
		t.Error("empty params should fail")
	}
	if _, err := New(Params{Filenames: []string{"a.nii", "b.nii"}, WorkingDir: "/w"}); err == nil {
		t.Error("two images should fail for a full run")
	}
	if _, err := New(Params{
		Filenames: []string{"/x/a.nii", "/y/a.nii", "/z/b.nii"}, WorkingDir: "/w",
	}); err == nil {
		t.Error("duplicate base names should fail")
	}
	if _, err := New(Params{
		Filenames: []string{"a.nii"}, ResampleOnly: true, WorkingDir: "/w", OutDir: "/o",
	}); err != nil {
		t.Errorf("single image resample-only should pass: %v", err)
	}
}

func TestRunResampleOnly(t *testing.T) {
	src := t.TempDir()
	working := t.TempDir()
	out := t.TempDir()

	img := nifti.NewImage(4, 4, 2)
	img.Spacing = [3]float64{1, 1, 2}
	for i := range img.Data {
		img.Data[i] = 5
	}
	path := filepath.Join(src, "ref.nii.gz")
	if err := nifti.Write(img, path); err != nil {
		t.Fatal(err)
	}

	p, err := New(Params{
		Filenames:    []string{path},
		ResampleOnly: true,
		WorkingDir:   working,
		OutDir:       out,
		Workers:      2,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ResampledReference != filepath.Join(out, "ref_x.nii.gz") {
		t.Errorf("output path = %q", result.ResampledReference)
	}
	got, err := nifti.Read(result.ResampledReference)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if got.Spacing != [3]float64{1, 1, 1} {
		t.Errorf("spacing = %v, want isotropic 1mm", got.Spacing)
	}
	if got.Size() != [3]int{4, 4, 4} {
		t.Errorf("size = %v", got.Size())
	}
	if result.FusedVolume != "" {
		t.Error("resample-only run must not fuse")
	}
}

func TestRunFullPipeline(t *testing.T) {
	src := t.TempDir()
	working := t.TempDir()

	flist := []string{
		constantVolume(t, src, "sag.nii.gz", 2),
		constantVolume(t, src, "cor.nii.gz", 4),
		constantVolume(t, src, "ax.nii.gz", 6),
	}
	reg := &fakeRegistrar{}
	p, err := New(Params{
		Filenames:  flist,
		WorkingDir: working,
		Workers:    2,
		Registrar:  reg,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, name := range []string{
		"sag.nii.gz", "sag_x.nii.gz",
		"cor_x.nii.gz", "reg_cor_x.nii.gz", "tfm2_cor.tfm",
		"ax_x.nii.gz", "reg_ax_x.nii.gz", "tfm2_ax.tfm",
		"h_sag.mat", "h_cor.mat", "h_ax.mat",
		GeometryFileName, DataListFileName,
	} {
		if _, err := os.Stat(filepath.Join(working, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	if len(reg.reqs) != 2 {
		t.Fatalf("got %d registrations, want 2", len(reg.reqs))
	}
	for _, req := range reg.reqs {
		if req.Fixed != filepath.Join(working, "sag_x.nii.gz") {
			t.Errorf("fixed volume = %q, want resampled reference", req.Fixed)
		}
	}

	fused, err := nifti.Read(result.FusedVolume)
	if err != nil {
		t.Fatalf("read fused volume: %v", err)
	}
	for i, v := range fused.Data {
		if v != 4 {
			t.Fatalf("fused voxel %d = %v, want 4", i, v)
		}
	}

	arrays, err := mat.ReadFile(filepath.Join(working, GeometryFileName))
	if err != nil {
		t.Fatalf("read geometry: %v", err)
	}
	sz, ok := arrays["sz"]
	if !ok || len(sz.Data) != 3 || sz.Data[0] != 4 {
		t.Errorf("geometry sz = %+v", sz)
	}
	if _, ok := arrays["direction"]; !ok {
		t.Error("geometry missing direction")
	}

	// All inputs share the isotropic spacing, so filters are identity.
	filters, err := mat.ReadFile(filepath.Join(working, "h_sag.mat"))
	if err != nil {
		t.Fatalf("read filter: %v", err)
	}
	if win := filters["fft_win"]; len(win.Data) != 1 || win.Data[0] != 1 {
		t.Errorf("filter = %+v, want identity", win)
	}

	list, err := os.ReadFile(filepath.Join(working, DataListFileName))
	if err != nil {
		t.Fatalf("read data list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(list)), "\n")
	want := []string{
		"sag_x.nii.gz,h_sag.mat",
		"reg_cor_x.nii.gz,h_cor.mat",
		"reg_ax_x.nii.gz,h_ax.mat",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("data list line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestRunRegistrationFailureAborts(t *testing.T) {
	src := t.TempDir()
	working := t.TempDir()

	flist := []string{
		constantVolume(t, src, "sag.nii.gz", 2),
		constantVolume(t, src, "cor.nii.gz", 4),
		constantVolume(t, src, "ax.nii.gz", 6),
	}
	boom := errors.New("alignment diverged")
	p, err := New(Params{
		Filenames:  flist,
		WorkingDir: working,
		Registrar:  &fakeRegistrar{err: boom},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want registration failure", err)
	}
	if _, err := os.Stat(filepath.Join(working, FusedFileName+".nii.gz")); !os.IsNotExist(err) {
		t.Error("fusion must not run after a failed registration")
	}
}
