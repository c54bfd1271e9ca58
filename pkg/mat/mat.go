// Package mat writes Level 5 MAT-files, the interchange format consumed
// by the super-resolution reconstruction stage. Only little-endian
// double-precision numeric arrays are supported, which covers every
// artifact this pipeline emits (geometry records and frequency-domain
// filters). A matching reader lives in this package for verification.
package mat

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// MAT5 data and array type codes.
const (
	miINT8   = 1
	miINT32  = 5
	miUINT32 = 6
	miDOUBLE = 9
	miMATRIX = 14

	mxDoubleClass = 6
)

// Array is a named numeric array in column-major order: for dims
// (d1, d2, d3) element (i1, i2, i3) lives at i1 + d1*(i2 + d2*i3).
type Array struct {
	Name string
	Dims []int
	Data []float64
}

// Scalar wraps a single value as a 1x1 array.
func Scalar(name string, v float64) Array {
	return Array{Name: name, Dims: []int{1, 1}, Data: []float64{v}}
}

// Vector wraps values as a 1xN row vector, matching how scipy stores
// Python sequences.
func Vector(name string, v []float64) Array {
	return Array{Name: name, Dims: []int{1, len(v)}, Data: append([]float64(nil), v...)}
}

func (a *Array) count() int {
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

func (a *Array) validate() error {
	if a.Name == "" {
		return fmt.Errorf("array has no name")
	}
	if len(a.Dims) < 2 {
		return fmt.Errorf("array %q needs at least 2 dimensions, got %d", a.Name, len(a.Dims))
	}
	for _, d := range a.Dims {
		if d <= 0 {
			return fmt.Errorf("array %q has non-positive dimension %d", a.Name, d)
		}
	}
	if a.count() != len(a.Data) {
		return fmt.Errorf("array %q: %d values do not fill dims %v", a.Name, len(a.Data), a.Dims)
	}
	return nil
}

// WriteFile stores the arrays in a new MAT-file at path.
func WriteFile(path string, arrays []Array) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mat file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeAll(w, arrays); err != nil {
		return fmt.Errorf("write mat file %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write mat file %s: %w", path, err)
	}
	return nil
}

func writeAll(w *bufio.Writer, arrays []Array) error {
	if err := writeFileHeader(w); err != nil {
		return err
	}
	for i := range arrays {
		if err := arrays[i].validate(); err != nil {
			return err
		}
		if err := writeArray(w, &arrays[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeFileHeader(w *bufio.Writer) error {
	text := "MATLAB 5.0 MAT-file, created by ggrrecon"
	head := make([]byte, 128)
	for i := range head[:116] {
		head[i] = ' '
	}
	copy(head, text)
	binary.LittleEndian.PutUint16(head[124:], 0x0100)
	head[126] = 'I'
	head[127] = 'M'
	_, err := w.Write(head)
	return err
}

func writeArray(w *bufio.Writer, a *Array) error {
	dimBytes := 4 * len(a.Dims)
	dimPad := pad8(dimBytes)
	namePad := pad8(len(a.Name))

	// flags(16) + dims tag(8)+payload + name tag(8)+payload + data tag(8)+payload
	total := 16 + 8 + dimBytes + dimPad + 8 + len(a.Name) + namePad + 8 + 8*len(a.Data)

	if err := writeTag(w, miMATRIX, total); err != nil {
		return err
	}

	// Array flags subelement.
	if err := writeTag(w, miUINT32, 8); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(mxDoubleClass)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil {
		return err
	}

	// Dimensions subelement.
	if err := writeTag(w, miINT32, dimBytes); err != nil {
		return err
	}
	for _, d := range a.Dims {
		if err := binary.Write(w, binary.LittleEndian, int32(d)); err != nil {
			return err
		}
	}
	if err := writeZeros(w, dimPad); err != nil {
		return err
	}

	// Name subelement.
	if err := writeTag(w, miINT8, len(a.Name)); err != nil {
		return err
	}
	if _, err := w.WriteString(a.Name); err != nil {
		return err
	}
	if err := writeZeros(w, namePad); err != nil {
		return err
	}

	// Real data subelement.
	if err := writeTag(w, miDOUBLE, 8*len(a.Data)); err != nil {
		return err
	}
	buf := make([]byte, 8)
	for _, v := range a.Data {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func writeTag(w *bufio.Writer, dataType, numBytes int) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(dataType)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, uint32(numBytes))
}

func writeZeros(w *bufio.Writer, n int) error {
	for i := 0; i < n; i++ {
		if err := w.WriteByte(0); err != nil {
			return err
		}
	}
	return nil
}

func pad8(n int) int {
	if r := n % 8; r != 0 {
		return 8 - r
	}
	return 0
}
