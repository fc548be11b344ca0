// Package filter selects the interferograms of a stack that are usable for a time-series inversion:
// coherence and coverage thresholding around a reference point, deduplication by date pair
// and merging of the acquisition intervals to report the temporal gaps.
package filter

import (
	"math"

	"github.com/airbusgeo/insar-timeseries/raster"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Window is a pixel rectangle: X = [first pixel, last pixel[, Y = [first line, last line[
type Window struct {
	X, Y [2]int
}

// NewReferenceWindow returns the window of half-size (hw, hh) centered on (pixel, line)
func NewReferenceWindow(pixel, line, hw, hh int) Window {
	return Window{X: [2]int{pixel - hw, pixel + hw}, Y: [2]int{line - hh, line + hh}}
}

// Empty returns true if the window does not contain any pixel
func (w Window) Empty() bool {
	return w.X[0] >= w.X[1] || w.Y[0] >= w.Y[1]
}

// Within returns true if the window is inside a width x length raster
func (w Window) Within(width, length int) bool {
	return w.X[0] >= 0 && w.X[1] <= width && w.Y[0] >= 0 && w.Y[1] <= length
}

// Evaluation is the result of the coverage filter
type Evaluation struct {
	Accept       bool
	Coverage     float64 // Fraction of valid lines of the best-covered column
	RefMeanPhase float64 // Mean of the valid phases in the reference window (NaN if none)
	Reason       Outcome // Reason of the rejection
}

// CoverageMask returns a mask of the size of coherence, where a pixel is valid (1) iff
// its coherence is greater or equal to cohth and its phase is not noData.
// Invalid pixels are NaN.
func CoverageMask(phase, coherence *raster.Grid, cohth, noData float64) *mat.Dense {
	r, c := coherence.Dims()
	mask := mat.NewDense(r, c, nil)
	mask.Apply(func(i, j int, v float64) float64 {
		if v >= cohth && phase.At(i, j) != noData {
			return 1
		}
		return math.NaN()
	}, coherence)
	return mask
}

// ReferenceMeanPhase returns the mean of phase*mask in the window, ignoring NaN values.
// Returns NaN if the window does not contain any valid value.
func ReferenceMeanPhase(phase *raster.Grid, mask *mat.Dense, window Window) float64 {
	phsRef := phase.Slice(window.Y[0], window.Y[1], window.X[0], window.X[1])
	maskRef := mask.Slice(window.Y[0], window.Y[1], window.X[0], window.X[1])
	var ref mat.Dense
	ref.MulElem(phsRef, maskRef)

	r, c := ref.Dims()
	values := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for _, v := range ref.RawRowView(i) {
			if !math.IsNaN(v) {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

// LatitudeCoverage returns the maximum over the columns of the fraction of valid lines.
// An empty mask has a coverage of 0.
func LatitudeCoverage(mask mat.Matrix) float64 {
	r, c := mask.Dims()
	if r == 0 || c == 0 {
		return 0
	}
	valid := func(v float64) bool { return !math.IsNaN(v) }
	col := make([]float64, r)
	best := 0
	for j := 0; j < c; j++ {
		mat.Col(col, j, mask)
		if n := floats.Count(valid, col); n > best {
			best = n
		}
	}
	return float64(best) / float64(r)
}

// Evaluate decides whether an aligned interferogram is usable:
// the reference window must contain at least one valid phase and
// the latitude coverage of the valid pixels must be greater or equal to covth.
// phase and coherence must have the same size and the window must be within them (it panics otherwise).
func Evaluate(phase, coherence *raster.Grid, window Window, cohth, covth, noData float64) Evaluation {
	mask := CoverageMask(phase, coherence, cohth, noData)
	e := Evaluation{
		RefMeanPhase: ReferenceMeanPhase(phase, mask, window),
		Coverage:     LatitudeCoverage(mask),
	}
	if math.IsNaN(e.RefMeanPhase) {
		e.Reason = OutcomeNoReferencePhase
		return e
	}
	if e.Coverage < covth {
		e.Reason = OutcomeLowCoverage
		return e
	}
	e.Accept = true
	return e
}
