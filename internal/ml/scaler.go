package ml

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardises features to zero mean and unit variance. It is fitted on training
// rows only and stored with the model so inference applies the identical transform.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a scale of 1.
func FitScaler(x [][]float64) *Scaler {
	if len(x) == 0 {
		return &Scaler{}
	}
	d := len(x[0])
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}

	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = 1
		if variance > 1e-24 {
			s.Scale[j] = math.Sqrt(variance)
		}
	}
	return s
}

// Transform returns a standardised copy of row.
func (s *Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if j < len(s.Mean) {
			out[j] = (v - s.Mean[j]) / s.Scale[j]
		} else {
			out[j] = v
		}
	}
	return out
}

// TransformAll standardises every row.
func (s *Scaler) TransformAll(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = s.Transform(row)
	}
	return out
}
