// Package resample reorients volumes to a canonical anatomical frame
// and resamples them between voxel lattices. It stands in for the
// DICOMOrient/Resample pair the registration workflow expects: inputs
// are first flipped and permuted into the LPS axis order, then
// interpolated onto a shared isotropic lattice.
package resample

import (
	"math"

	"ggrrecon/pkg/nifti"
)

// ToLPS permutes and flips the voxel axes so that the i, j, k axes run
// along +L, +P, +S. The voxel payload is reshuffled accordingly; any
// residual obliquity stays in the direction matrix. Applying ToLPS to
// an already-canonical volume returns an identical copy.
func ToLPS(img *nifti.Image) *nifti.Image {
	// Dominant physical axis and sign for each voxel axis.
	var axisFor [3]int  // physical axis -> source voxel axis
	var flipFor [3]bool // physical axis -> source axis runs negative
	used := [3]bool{}
	for j := 0; j < 3; j++ {
		best, bestAbs := -1, -1.0
		for r := 0; r < 3; r++ {
			if used[r] {
				continue
			}
			if a := math.Abs(img.Direction[r][j]); a > bestAbs {
				best, bestAbs = r, a
			}
		}
		used[best] = true
		axisFor[best] = j
		flipFor[best] = img.Direction[best][j] < 0
	}

	srcSize := img.Size()
	out := nifti.NewImage(srcSize[axisFor[0]], srcSize[axisFor[1]], srcSize[axisFor[2]])
	for i := 0; i < 3; i++ {
		j := axisFor[i]
		out.Spacing[i] = img.Spacing[j]
		s := 1.0
		if flipFor[i] {
			s = -1
		}
		for r := 0; r < 3; r++ {
			out.Direction[r][i] = s * img.Direction[r][j]
		}
	}

	// Origin is the physical position of the voxel that lands at (0,0,0).
	var first [3]float64 // indexed by source axis
	for i := 0; i < 3; i++ {
		if flipFor[i] {
			first[axisFor[i]] = float64(srcSize[axisFor[i]] - 1)
		}
	}
	out.Origin = img.IndexToPhysical(first[0], first[1], first[2])

	outSize := out.Size()
	var src [3]int
	for k := 0; k < outSize[2]; k++ {
		for j := 0; j < outSize[1]; j++ {
			for i := 0; i < outSize[0]; i++ {
				v := [3]int{i, j, k}
				for p := 0; p < 3; p++ {
					a := axisFor[p]
					if flipFor[p] {
						src[a] = srcSize[a] - 1 - v[p]
					} else {
						src[a] = v[p]
					}
				}
				out.Set(i, j, k, img.At(src[0], src[1], src[2]))
			}
		}
	}
	return out
}
