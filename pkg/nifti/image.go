package nifti

import "fmt"

// Image is a 3D volume with LPS geometry attached.
//
// Data holds one float64 per voxel with x varying fastest, then y, then
// z: voxel (x, y, z) lives at index x + Nx*(y + Ny*z). Direction columns
// are the physical (LPS) unit vectors of the voxel axes; Origin is the
// physical position of voxel (0, 0, 0).
type Image struct {
	Nx, Ny, Nz int
	Origin     [3]float64
	Spacing    [3]float64
	Direction  [3][3]float64
	Data       []float64
}

// NewImage allocates a zero-filled volume with identity direction.
func NewImage(nx, ny, nz int) *Image {
	return &Image{
		Nx:      nx,
		Ny:      ny,
		Nz:      nz,
		Spacing: [3]float64{1, 1, 1},
		Direction: [3][3]float64{
			{1, 0, 0},
			{0, 1, 0},
			{0, 0, 1},
		},
		Data: make([]float64, nx*ny*nz),
	}
}

// Size returns the voxel counts along x, y, z.
func (img *Image) Size() [3]int {
	return [3]int{img.Nx, img.Ny, img.Nz}
}

// At returns the voxel value at (x, y, z). Callers must stay in bounds.
func (img *Image) At(x, y, z int) float64 {
	return img.Data[x+img.Nx*(y+img.Ny*z)]
}

// Set stores a voxel value at (x, y, z).
func (img *Image) Set(x, y, z int, v float64) {
	img.Data[x+img.Nx*(y+img.Ny*z)] = v
}

// IndexToPhysical maps a continuous voxel index to LPS physical space.
func (img *Image) IndexToPhysical(i, j, k float64) [3]float64 {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = img.Origin[r] +
			img.Direction[r][0]*img.Spacing[0]*i +
			img.Direction[r][1]*img.Spacing[1]*j +
			img.Direction[r][2]*img.Spacing[2]*k
	}
	return p
}

// PhysicalToIndex maps an LPS physical point to this image's continuous
// voxel index. Direction matrices here are orthonormal, so the inverse
// rotation is the transpose.
func (img *Image) PhysicalToIndex(p [3]float64) [3]float64 {
	var d [3]float64
	for r := 0; r < 3; r++ {
		d[r] = p[r] - img.Origin[r]
	}
	var idx [3]float64
	for c := 0; c < 3; c++ {
		dot := img.Direction[0][c]*d[0] + img.Direction[1][c]*d[1] + img.Direction[2][c]*d[2]
		idx[c] = dot / img.Spacing[c]
	}
	return idx
}

// CloneGeometry returns an empty volume on the same lattice as img.
func (img *Image) CloneGeometry() *Image {
	out := NewImage(img.Nx, img.Ny, img.Nz)
	out.Origin = img.Origin
	out.Spacing = img.Spacing
	out.Direction = img.Direction
	return out
}

// WithData returns a copy of img's lattice carrying the given voxels.
func (img *Image) WithData(data []float64) (*Image, error) {
	if len(data) != img.Nx*img.Ny*img.Nz {
		return nil, fmt.Errorf("voxel count %d does not match %dx%dx%d lattice",
			len(data), img.Nx, img.Ny, img.Nz)
	}
	out := img.CloneGeometry()
	copy(out.Data, data)
	return out, nil
}
