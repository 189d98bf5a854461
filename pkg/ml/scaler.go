package ml

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes each feature to zero mean and unit variance.
type StandardScaler struct {
	means  []float64
	scales []float64
}

// NewStandardScaler returns a scaler from previously fitted parameters.
func NewStandardScaler(means, scales []float64) (*StandardScaler, error) {
	if len(means) != len(scales) {
		return nil, fmt.Errorf("scaler has %d means but %d scales", len(means), len(scales))
	}
	return &StandardScaler{
		means:  append([]float64(nil), means...),
		scales: append([]float64(nil), scales...),
	}, nil
}

// FitScaler computes the per-feature mean and population standard deviation.
// Constant features get a scale of 1.
func FitScaler(rows [][]float64) (*StandardScaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows to fit scaler")
	}
	width := len(rows[0])
	s := &StandardScaler{
		means:  make([]float64, width),
		scales: make([]float64, width),
	}
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			if len(row) != width {
				return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.means[j] = mean
		s.scales[j] = std
	}
	return s, nil
}

// Fitted reports whether the scaler has parameters.
func (s *StandardScaler) Fitted() bool {
	return s != nil && len(s.means) > 0
}

// Transform returns the standardized copy of features.
func (s *StandardScaler) Transform(features []float64) ([]float64, error) {
	if !s.Fitted() {
		return nil, errors.New("scaler not fitted")
	}
	if len(features) != len(s.means) {
		return nil, fmt.Errorf("got %d features, scaler fitted on %d", len(features), len(s.means))
	}
	out := make([]float64, len(features))
	for i, v := range features {
		out[i] = (v - s.means[i]) / s.scales[i]
	}
	return out, nil
}

// Params returns copies of the means and scales.
func (s *StandardScaler) Params() ([]float64, []float64) {
	if s == nil {
		return nil, nil
	}
	return append([]float64(nil), s.means...), append([]float64(nil), s.scales...)
}
