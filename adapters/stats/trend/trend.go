// Package trend fits a least-squares line through an ordered series of
// monthly averages and extrapolates it forward.
package trend

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultOffset projects one year ahead over monthly buckets.
const DefaultOffset = 12

// MaxOffset bounds how far ahead callers may project (one hundred years).
const MaxOffset = 1200

// Result is a fitted line y = Slope*x + Intercept over x = 0..N-1.
type Result struct {
	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`
	RSquared  float64   `json:"r_squared"`
	Fitted    []float64 `json:"fitted"`
}

// FitAndPredict fits ordinary least squares through (i, averages[i]).
// Input order is the chronological order and is never re-sorted.
//
// With one point the line is flat through it. With none, slope and intercept
// are zero and Fitted is empty. NaN inputs are not filtered and propagate
// into the coefficients.
func FitAndPredict(averages []float64) Result {
	n := len(averages)
	switch n {
	case 0:
		return Result{Fitted: []float64{}}
	case 1:
		return Result{
			Intercept: averages[0],
			RSquared:  1,
			Fitted:    []float64{averages[0]},
		}
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, v := range averages {
		xs[i] = float64(i)
		ys[i] = v
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)

	res := Result{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  rSquared(xs, ys, intercept, slope),
		Fitted:    make([]float64, n),
	}
	for i := range res.Fitted {
		res.Fitted[i] = res.PredictAt(float64(i))
	}
	return res
}

// rSquared is 1 for a constant series, where the flat fit is exact.
func rSquared(xs, ys []float64, intercept, slope float64) float64 {
	v := stat.Variance(ys, nil)
	if v == 0 {
		return 1
	}
	if math.IsNaN(v) {
		return math.NaN()
	}
	return stat.RSquared(xs, ys, nil, intercept, slope)
}

// Len is the number of observed points.
func (r Result) Len() int { return len(r.Fitted) }

// PredictAt evaluates the line at x.
func (r Result) PredictAt(x float64) float64 {
	return r.Slope*x + r.Intercept
}

// Extrapolate evaluates the line offset positions past the last observed
// index. On an empty fit it evaluates at offset-1 of a zero line.
func (r Result) Extrapolate(offset int) float64 {
	return r.PredictAt(float64(r.Len()-1) + float64(offset))
}

// Project shifts every observed index forward by offset:
// out[i] = PredictAt(i + offset).
func (r Result) Project(offset int) []float64 {
	out := make([]float64, r.Len())
	for i := range out {
		out[i] = r.PredictAt(float64(i) + float64(offset))
	}
	return out
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
