package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Read loads a .nii or .nii.gz volume from disk. Only the first three
// dimensions are read; trailing singleton time/stat dimensions are
// accepted and ignored.
func Read(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open volume: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read volume %s: %w", path, err)
	}
	img, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode volume %s: %w", path, err)
	}
	return img, nil
}

// Decode parses an in-memory single-file NIfTI-1 payload.
func Decode(raw []byte) (*Image, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("truncated file: %d bytes", len(raw))
	}

	hdr, order, err := readHeader(raw)
	if err != nil {
		return nil, err
	}

	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("non-positive volume dimensions %dx%dx%d", nx, ny, nz)
	}
	for d := 4; d <= int(hdr.Dim[0]); d++ {
		if hdr.Dim[d] > 1 {
			return nil, fmt.Errorf("volume has non-singleton dimension %d (extent %d)", d, hdr.Dim[d])
		}
	}

	offset := int(hdr.VoxOffset)
	if offset < headerSize {
		offset = dataOffset
	}
	bytesPer := int(hdr.BitPix) / 8
	need := offset + nx*ny*nz*bytesPer
	if len(raw) < need {
		return nil, fmt.Errorf("truncated voxel data: have %d bytes, need %d", len(raw), need)
	}

	img := NewImage(nx, ny, nz)
	if err := decodeVoxels(img.Data, raw[offset:need], hdr, order); err != nil {
		return nil, err
	}
	applyGeometry(img, hdr)
	return img, nil
}

// readHeader decodes the fixed header, probing the byte order through
// dim[0] the same way nifti1_io.c does.
func readHeader(raw []byte) (*header, binary.ByteOrder, error) {
	hdr := new(header)
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(raw), order, hdr); err != nil {
		return nil, nil, fmt.Errorf("parse header: %w", err)
	}
	if hdr.Dim[0] < 1 || hdr.Dim[0] > 7 {
		hdr = new(header)
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw), order, hdr); err != nil {
			return nil, nil, fmt.Errorf("parse header: %w", err)
		}
	}
	if err := hdr.validate(); err != nil {
		return nil, nil, err
	}
	return hdr, order, nil
}

func decodeVoxels(dst []float64, src []byte, hdr *header, order binary.ByteOrder) error {
	slope := float64(hdr.SclSlope)
	inter := float64(hdr.SclInter)
	if slope == 0 {
		slope, inter = 1, 0
	}

	n := len(dst)
	switch hdr.DataType {
	case dtUint8:
		for i := 0; i < n; i++ {
			dst[i] = slope*float64(src[i]) + inter
		}
	case dtInt16:
		for i := 0; i < n; i++ {
			v := int16(order.Uint16(src[2*i:]))
			dst[i] = slope*float64(v) + inter
		}
	case dtInt32:
		for i := 0; i < n; i++ {
			v := int32(order.Uint32(src[4*i:]))
			dst[i] = slope*float64(v) + inter
		}
	case dtFloat32:
		for i := 0; i < n; i++ {
			v := math.Float32frombits(order.Uint32(src[4*i:]))
			dst[i] = slope*float64(v) + inter
		}
	case dtFloat64:
		for i := 0; i < n; i++ {
			dst[i] = slope*math.Float64frombits(order.Uint64(src[8*i:])) + inter
		}
	default:
		return fmt.Errorf("unsupported datatype code %d", hdr.DataType)
	}
	return nil
}

// applyGeometry derives origin/spacing/direction from the header. The
// stored affine maps voxel indices to RAS coordinates; the first two
// rows are negated to obtain the LPS frame used throughout the
// pipeline. sform wins over qform, qform over a plain pixdim diagonal.
func applyGeometry(img *Image, hdr *header) {
	var affine [3][4]float64
	switch {
	case hdr.SFormCode > 0:
		for c := 0; c < 4; c++ {
			affine[0][c] = float64(hdr.SRowX[c])
			affine[1][c] = float64(hdr.SRowY[c])
			affine[2][c] = float64(hdr.SRowZ[c])
		}
	case hdr.QFormCode > 0:
		affine = quaternToAffine(hdr)
	default:
		affine[0][0] = float64(hdr.PixDim[1])
		affine[1][1] = float64(hdr.PixDim[2])
		affine[2][2] = float64(hdr.PixDim[3])
	}

	// RAS -> LPS.
	for c := 0; c < 4; c++ {
		affine[0][c] = -affine[0][c]
		affine[1][c] = -affine[1][c]
	}

	for c := 0; c < 3; c++ {
		norm := math.Sqrt(affine[0][c]*affine[0][c] + affine[1][c]*affine[1][c] + affine[2][c]*affine[2][c])
		if norm == 0 {
			norm = 1
			affine[c][c] = 1
		}
		img.Spacing[c] = norm
		for r := 0; r < 3; r++ {
			img.Direction[r][c] = affine[r][c] / norm
		}
	}
	for r := 0; r < 3; r++ {
		img.Origin[r] = affine[r][3]
	}
}

// quaternToAffine reconstructs the rotation from the qform quaternion
// per the NIfTI-1 standard. pixdim[0] carries qfac, the handedness of
// the k axis.
func quaternToAffine(hdr *header) [3][4]float64 {
	b := float64(hdr.QuaternB)
	c := float64(hdr.QuaternC)
	d := float64(hdr.QuaternD)
	a := 1 - b*b - c*c - d*d
	if a < 0 {
		a = 0
	}
	a = math.Sqrt(a)

	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2*b*c - 2*a*d, 2*b*d + 2*a*c},
		{2*b*c + 2*a*d, a*a + c*c - b*b - d*d, 2*c*d - 2*a*b},
		{2*b*d - 2*a*c, 2*c*d + 2*a*b, a*a + d*d - c*c - b*b},
	}

	qfac := 1.0
	if hdr.PixDim[0] < 0 {
		qfac = -1
	}
	sp := [3]float64{float64(hdr.PixDim[1]), float64(hdr.PixDim[2]), qfac * float64(hdr.PixDim[3])}

	var affine [3][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			affine[i][j] = r[i][j] * sp[j]
		}
	}
	affine[0][3] = float64(hdr.QOffsetX)
	affine[1][3] = float64(hdr.QOffsetY)
	affine[2][3] = float64(hdr.QOffsetZ)
	return affine
}
