package preprocess

import (
	"fmt"
	"os"
	"path/filepath"

	"ggrrecon/pkg/mat"
	"ggrrecon/pkg/nifti"
)

// GeometryFileName is the shared-lattice record consumed by the
// reconstruction stage.
const GeometryFileName = "geo_property.mat"

// DataListFileName maps each resampled volume to its filter file.
const DataListFileName = "data_fn.txt"

// Geometry is the shared isotropic lattice captured from the resampled
// reference volume and reused for every image in the run.
type Geometry struct {
	Origin    [3]float64
	Spacing   [3]float64
	Direction [3][3]float64
	Size      [3]int
}

// GeometryOf captures the lattice of a volume.
func GeometryOf(img *nifti.Image) Geometry {
	return Geometry{
		Origin:    img.Origin,
		Spacing:   img.Spacing,
		Direction: img.Direction,
		Size:      img.Size(),
	}
}

// Save writes the geometry record with the exact field names the
// reconstruction stage looks up: sz, origin, spacing, direction.
func (g Geometry) Save(dir string) error {
	direction := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			direction = append(direction, g.Direction[r][c])
		}
	}
	arrays := []mat.Array{
		mat.Vector("sz", []float64{float64(g.Size[0]), float64(g.Size[1]), float64(g.Size[2])}),
		mat.Vector("origin", g.Origin[:]),
		mat.Vector("spacing", g.Spacing[:]),
		mat.Vector("direction", direction),
	}
	return mat.WriteFile(filepath.Join(dir, GeometryFileName), arrays)
}

// writeDataList records, per image, the resampled volume the
// reconstruction stage should load (the registered one for non-reference
// images) and the filter file that goes with it.
func writeDataList(dir string, names []imageName) error {
	path := filepath.Join(dir, DataListFileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create data list: %w", err)
	}
	defer f.Close()

	for i, n := range names {
		prefix := "reg_"
		if i == 0 {
			prefix = ""
		}
		line := fmt.Sprintf("%s%s_x%s,h_%s.mat\n", prefix, n.base, n.ext, n.base)
		if _, err := f.WriteString(line); err != nil {
			return fmt.Errorf("write data list: %w", err)
		}
	}
	return nil
}
