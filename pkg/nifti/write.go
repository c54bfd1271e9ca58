package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Write stores the volume as a single-file NIfTI-1 image, gzipped when
// the path ends in .gz. Voxels are written as float32; geometry goes
// out as an sform affine (code 1) converted back from LPS to RAS.
func Write(img *Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create volume: %w", err)
	}
	defer f.Close()

	var w io.Writer
	bw := bufio.NewWriter(f)
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	} else {
		w = bw
	}

	if err := Encode(img, w); err != nil {
		return fmt.Errorf("write volume %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("write volume %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write volume %s: %w", path, err)
	}
	return nil
}

// Encode serializes the volume into w in little-endian byte order.
func Encode(img *Image, w io.Writer) error {
	if len(img.Data) != img.Nx*img.Ny*img.Nz {
		return fmt.Errorf("voxel count %d does not match %dx%dx%d lattice",
			len(img.Data), img.Nx, img.Ny, img.Nz)
	}

	hdr := buildHeader(img)
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return err
	}
	// Four zero bytes: no header extensions.
	buf.Write([]byte{0, 0, 0, 0})

	payload := make([]byte, 4*len(img.Data))
	for i, v := range img.Data {
		binary.LittleEndian.PutUint32(payload[4*i:], math.Float32bits(float32(v)))
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func buildHeader(img *Image) *header {
	hdr := &header{
		SizeOfHdr: headerSize,
		DataType:  dtFloat32,
		BitPix:    32,
		VoxOffset: dataOffset,
		SclSlope:  1,
		XYZTUnits: spatialUnitMM,
		SFormCode: xformScannerAnat,
		Magic:     magicSingleFile,
	}
	hdr.Dim[0] = 3
	hdr.Dim[1] = int16(img.Nx)
	hdr.Dim[2] = int16(img.Ny)
	hdr.Dim[3] = int16(img.Nz)
	for d := 4; d < 8; d++ {
		hdr.Dim[d] = 1
	}
	hdr.PixDim[0] = 1
	hdr.PixDim[1] = float32(img.Spacing[0])
	hdr.PixDim[2] = float32(img.Spacing[1])
	hdr.PixDim[3] = float32(img.Spacing[2])

	// LPS -> RAS: negate the first two affine rows.
	sign := [3]float64{-1, -1, 1}
	for c := 0; c < 3; c++ {
		hdr.SRowX[c] = float32(sign[0] * img.Direction[0][c] * img.Spacing[c])
		hdr.SRowY[c] = float32(sign[1] * img.Direction[1][c] * img.Spacing[c])
		hdr.SRowZ[c] = float32(sign[2] * img.Direction[2][c] * img.Spacing[c])
	}
	hdr.SRowX[3] = float32(sign[0] * img.Origin[0])
	hdr.SRowY[3] = float32(sign[1] * img.Origin[1])
	hdr.SRowZ[3] = float32(sign[2] * img.Origin[2])
	return hdr
}
