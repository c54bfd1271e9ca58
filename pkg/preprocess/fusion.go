package preprocess

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"ggrrecon/pkg/nifti"
)

// fuse averages the reference with its registered companions voxel by
// voxel. A zero voxel in a registered volume marks a region the
// alignment could not cover, so it does not count toward that voxel's
// divisor; the reference always counts.
func fuse(ref *nifti.Image, registered []*nifti.Image) (*nifti.Image, error) {
	sum := append([]float64(nil), ref.Data...)
	coverage := make([]float64, len(sum))
	for i := range coverage {
		coverage[i] = 1
	}

	for _, reg := range registered {
		if reg.Size() != ref.Size() {
			return nil, fmt.Errorf("registered volume size %v does not match reference %v",
				reg.Size(), ref.Size())
		}
		floats.Add(sum, reg.Data)
		for i, v := range reg.Data {
			if v != 0 {
				coverage[i]++
			}
		}
	}

	for i := range sum {
		if coverage[i] != 0 {
			sum[i] /= coverage[i]
		}
	}
	return ref.WithData(sum)
}
