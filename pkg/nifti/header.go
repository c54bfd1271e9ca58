// Package nifti reads and writes NIfTI-1 volumes (.nii and .nii.gz).
//
// The on-disk header layout follows the official nifti1.h definition.
// Voxel data is decoded to float64 with the x index varying fastest,
// which matches the raw on-disk ordering. Geometry (origin, spacing,
// direction cosines) is exposed in the LPS convention used by the
// registration tool; the RAS affine stored in the file is converted on
// read and restored on write.
package nifti

import (
	"fmt"
)

// NIfTI-1 datatype codes for the voxel payload.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

// Transform codes for qform/sform.
const (
	xformUnknown     = 0
	xformScannerAnat = 1
)

const (
	headerSize    = 348
	dataOffset    = 352 // header + 4-byte extension flag
	spatialUnitMM = 2
)

// header is the 348-byte NIfTI-1 header.
//
// Field types map the C definition: int -> int32, float -> float32,
// short -> int16, char -> int8.
type header struct {
	SizeOfHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     int8
	XYZTUnits     int8
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	UnusedGlmax   int32
	UnusedGlmin   int32

	Descrip [80]int8
	AuxFile [24]int8

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]int8

	Magic [4]int8
}

var magicSingleFile = [4]int8{'n', '+', '1', 0}

func (h *header) validate() error {
	if h.SizeOfHdr != headerSize {
		return fmt.Errorf("invalid header size %d (want %d)", h.SizeOfHdr, headerSize)
	}
	if h.Magic != magicSingleFile {
		return fmt.Errorf("unsupported file magic %v: header and data must share one file", h.Magic)
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return fmt.Errorf("invalid dimension count %d", h.Dim[0])
	}
	switch h.DataType {
	case dtUint8, dtInt16, dtInt32, dtFloat32, dtFloat64:
	default:
		return fmt.Errorf("unsupported datatype code %d", h.DataType)
	}
	return nil
}
