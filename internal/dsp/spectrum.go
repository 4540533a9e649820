// Package dsp provides spectral analysis of IQ sample batches.
package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// fftShift reorders FFT output so that DC sits in the center bin.
func fftShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	return append(data[half:], data[:half]...)
}

// Analyzer computes power spectra over fixed-size IQ batches. The Hamming
// window, its normalization sum, and the FFT plan are computed once and
// reused; gonum's CmplxFFT is not safe for concurrent use, so calls are
// serialized with a mutex.
type Analyzer struct {
	mu        sync.Mutex
	size      int
	window    []float64
	windowSum float64
	fft       *fourier.CmplxFFT
	scratch   []complex128
}

// NewAnalyzer builds an analyzer for batches of the given sample count.
func NewAnalyzer(size int) *Analyzer {
	if size <= 0 {
		size = 1024
	}
	win := Hamming(size)
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	return &Analyzer{
		size:      size,
		window:    win,
		windowSum: sum,
		fft:       fourier.NewCmplxFFT(size),
		scratch:   make([]complex128, size),
	}
}

// Size returns the batch length the analyzer was planned for.
func (a *Analyzer) Size() int { return a.size }

// PowerSpectrum returns the DC-centered spectrum in dBFS. Samples are
// expected to be normalized to [-1, 1), the sdrnet decoder's convention, so
// 0 dBFS corresponds to a full-scale tone. Batches whose length differs
// from the planned size yield nil.
func (a *Analyzer) PowerSpectrum(samples []complex64) []float64 {
	if len(samples) != a.size {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, v := range samples {
		a.scratch[i] = complex(float64(real(v))*a.window[i], float64(imag(v))*a.window[i])
	}

	coeffs := a.fft.Coefficients(nil, a.scratch)
	for i := range coeffs {
		coeffs[i] /= complex(a.windowSum, 0)
	}

	shifted := fftShift(coeffs)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = math.Inf(-1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag)
	}
	return dbfs
}

// Peak describes the strongest bin of one spectrum.
type Peak struct {
	Bin      int
	OffsetHz float64
	PowerDB  float64
}

// FindPeak locates the strongest bin of a DC-centered spectrum and converts
// its index to a frequency offset from the tuned center.
func FindPeak(spectrum []float64, sampleRateHz float64) Peak {
	if len(spectrum) == 0 {
		return Peak{PowerDB: math.Inf(-1)}
	}
	best := 0
	for i, v := range spectrum {
		if v > spectrum[best] {
			best = i
		}
	}
	n := float64(len(spectrum))
	binWidth := sampleRateHz / n
	return Peak{
		Bin:      best,
		OffsetHz: (float64(best) - n/2) * binWidth,
		PowerDB:  spectrum[best],
	}
}
