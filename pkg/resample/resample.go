package resample

import (
	"fmt"
	"math"

	"ggrrecon/pkg/nifti"
)

// Iso resamples img onto an isotropic lattice whose spacing is the
// smallest native spacing. Each axis is sized to cover the native
// extent; origin and direction are preserved.
func Iso(img *nifti.Image) *nifti.Image {
	iso := math.Min(img.Spacing[0], math.Min(img.Spacing[1], img.Spacing[2]))
	size := img.Size()
	var target [3]int
	for c := 0; c < 3; c++ {
		n := int(math.Round(float64(size[c]) * img.Spacing[c] / iso))
		if n < 1 {
			n = 1
		}
		target[c] = n
	}
	return onLattice(img, img, iso, target)
}

// IsoWithSize resamples img onto an isotropic lattice of exactly the
// requested size. The spacing is chosen as the largest per-axis
// extent/size ratio so the native extent always fits inside the lattice.
func IsoWithSize(img *nifti.Image, size [3]int) (*nifti.Image, error) {
	for _, n := range size {
		if n <= 0 {
			return nil, fmt.Errorf("target size %v must be positive on every axis", size)
		}
	}
	iso := 0.0
	native := img.Size()
	for c := 0; c < 3; c++ {
		r := float64(native[c]) * img.Spacing[c] / float64(size[c])
		if r > iso {
			iso = r
		}
	}
	return onLattice(img, img, iso, size), nil
}

// Like resamples moving onto ref's lattice with trilinear
// interpolation. Voxels that fall outside moving map to zero.
func Like(moving, ref *nifti.Image) *nifti.Image {
	out := ref.CloneGeometry()
	fill(out, moving)
	return out
}

// onLattice builds a lattice from geom's origin/direction with the
// given isotropic spacing and size, then interpolates src onto it.
func onLattice(src, geom *nifti.Image, iso float64, size [3]int) *nifti.Image {
	out := nifti.NewImage(size[0], size[1], size[2])
	out.Origin = geom.Origin
	out.Direction = geom.Direction
	out.Spacing = [3]float64{iso, iso, iso}
	fill(out, src)
	return out
}

func fill(out, src *nifti.Image) {
	for k := 0; k < out.Nz; k++ {
		for j := 0; j < out.Ny; j++ {
			for i := 0; i < out.Nx; i++ {
				p := out.IndexToPhysical(float64(i), float64(j), float64(k))
				out.Set(i, j, k, sampleTrilinear(src, src.PhysicalToIndex(p)))
			}
		}
	}
}

// sampleTrilinear evaluates src at a continuous voxel index. Points
// outside [0, size-1] on any axis take the background value zero.
func sampleTrilinear(src *nifti.Image, c [3]float64) float64 {
	size := src.Size()
	for a := 0; a < 3; a++ {
		if c[a] < 0 || c[a] > float64(size[a]-1) {
			return 0
		}
	}

	var lo [3]int
	var frac [3]float64
	for a := 0; a < 3; a++ {
		f := math.Floor(c[a])
		lo[a] = int(f)
		if lo[a] > size[a]-2 && size[a] > 1 {
			lo[a] = size[a] - 2
		}
		frac[a] = c[a] - float64(lo[a])
		if size[a] == 1 {
			lo[a], frac[a] = 0, 0
		}
	}

	hi := [3]int{lo[0], lo[1], lo[2]}
	for a := 0; a < 3; a++ {
		if size[a] > 1 {
			hi[a] = lo[a] + 1
		}
	}

	c000 := src.At(lo[0], lo[1], lo[2])
	c100 := src.At(hi[0], lo[1], lo[2])
	c010 := src.At(lo[0], hi[1], lo[2])
	c110 := src.At(hi[0], hi[1], lo[2])
	c001 := src.At(lo[0], lo[1], hi[2])
	c101 := src.At(hi[0], lo[1], hi[2])
	c011 := src.At(lo[0], hi[1], hi[2])
	c111 := src.At(hi[0], hi[1], hi[2])

	fx, fy, fz := frac[0], frac[1], frac[2]
	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx
	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}
