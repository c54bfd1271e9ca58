package preprocess

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"ggrrecon/pkg/mat"
)

// filterArrayName is the variable the reconstruction stage loads from
// each per-image filter file.
const filterArrayName = "fft_win"

// fwhmToSigma converts a full-width-at-half-maximum to a Gaussian sigma.
const fwhmToSigma = 2.355

// deconvFilter builds the frequency-domain deconvolution window for one
// image. The per-axis ratio of native spacing to the shared isotropic
// spacing identifies the axis that was acquired coarsest; that axis gets
// a Gaussian blur model whose magnitude spectrum becomes the filter,
// broadcast over the doubled reconstruction domain. An image that was
// never downsampled keeps the identity scalar.
func deconvFilter(nativeSpacing, isoSpacing [3]float64, sz [3]int) mat.Array {
	axis := -1
	ratio := 1.0
	for a := 0; a < 3; a++ {
		if r := nativeSpacing[a] / isoSpacing[a]; r > ratio {
			ratio, axis = r, a
		}
	}
	if axis < 0 {
		return mat.Scalar(filterArrayName, 1)
	}

	spectrum := gaussianSpectrum(ratio, 2*sz[axis])

	dims := [3]int{2 * sz[0], 2 * sz[1], 2 * sz[2]}
	data := make([]float64, dims[0]*dims[1]*dims[2])
	idx := 0
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				along := [3]int{i, j, k}[axis]
				data[idx] = spectrum[along]
				idx++
			}
		}
	}
	return mat.Array{Name: filterArrayName, Dims: dims[:], Data: data}
}

// gaussianSpectrum returns the magnitude spectrum of a unit-area
// Gaussian window of length n modelling a blur of the given
// spacing ratio. The window is circularly centred on sample zero before
// the transform so the spectrum carries no linear phase.
func gaussianSpectrum(ratio float64, n int) []float64 {
	sigma := ratio / fwhmToSigma
	centre := float64(n-1) / 2

	win := make([]float64, n)
	for i := range win {
		d := (float64(i) - centre) / sigma
		win[i] = math.Exp(-0.5 * d * d)
	}
	floats.Scale(1/floats.Sum(win), win)

	shifted := make([]float64, n)
	for i := range shifted {
		shifted[i] = win[(i+n/2)%n]
	}

	fft := fourier.NewFFT(n)
	half := fft.Coefficients(nil, shifted)

	// The real transform yields n/2+1 coefficients; the upper half of
	// the spectrum mirrors them.
	mag := make([]float64, n)
	for i, c := range half {
		mag[i] = cmplx.Abs(c)
	}
	for i := len(half); i < n; i++ {
		mag[i] = mag[n-i]
	}
	return mag
}
