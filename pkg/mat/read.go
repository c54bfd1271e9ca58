package mat

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// ReadFile parses a MAT-file written by this package and returns its
// arrays keyed by name. It understands exactly the subset WriteFile
// produces (little-endian double arrays, full-format subelement tags).
func ReadFile(path string) (map[string]Array, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mat file: %w", err)
	}
	if len(raw) < 128 {
		return nil, fmt.Errorf("mat file %s: truncated header", path)
	}
	if raw[126] != 'I' || raw[127] != 'M' {
		return nil, fmt.Errorf("mat file %s: not little-endian", path)
	}

	arrays := make(map[string]Array)
	pos := 128
	for pos+8 <= len(raw) {
		dtype := binary.LittleEndian.Uint32(raw[pos:])
		size := int(binary.LittleEndian.Uint32(raw[pos+4:]))
		body := raw[pos+8 : pos+8+size]
		if dtype != miMATRIX {
			return nil, fmt.Errorf("mat file %s: unexpected element type %d", path, dtype)
		}
		a, err := parseArray(body)
		if err != nil {
			return nil, fmt.Errorf("mat file %s: %w", path, err)
		}
		arrays[a.Name] = a
		pos += 8 + size + pad8(size)
	}
	return arrays, nil
}

func parseArray(body []byte) (Array, error) {
	var a Array
	pos := 0

	next := func(wantType int) ([]byte, error) {
		if pos+8 > len(body) {
			return nil, fmt.Errorf("truncated subelement")
		}
		dtype := int(binary.LittleEndian.Uint32(body[pos:]))
		size := int(binary.LittleEndian.Uint32(body[pos+4:]))
		if dtype != wantType {
			return nil, fmt.Errorf("subelement type %d, want %d", dtype, wantType)
		}
		if pos+8+size > len(body) {
			return nil, fmt.Errorf("truncated subelement payload")
		}
		payload := body[pos+8 : pos+8+size]
		pos += 8 + size + pad8(size)
		return payload, nil
	}

	flags, err := next(miUINT32)
	if err != nil {
		return a, err
	}
	if cls := flags[0]; cls != mxDoubleClass {
		return a, fmt.Errorf("array class %d, want double", cls)
	}

	dims, err := next(miINT32)
	if err != nil {
		return a, err
	}
	for i := 0; i+4 <= len(dims); i += 4 {
		a.Dims = append(a.Dims, int(int32(binary.LittleEndian.Uint32(dims[i:]))))
	}

	name, err := next(miINT8)
	if err != nil {
		return a, err
	}
	a.Name = string(name)

	data, err := next(miDOUBLE)
	if err != nil {
		return a, err
	}
	a.Data = make([]float64, len(data)/8)
	for i := range a.Data {
		a.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	if a.count() != len(a.Data) {
		return a, fmt.Errorf("array %q: %d values do not fill dims %v", a.Name, len(a.Data), a.Dims)
	}
	return a, nil
}
