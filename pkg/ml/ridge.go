package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultLambdas are the regularization strengths tried during training.
var DefaultLambdas = []float64{0.001, 0.01, 0.1, 1, 10, 100}

// validationFraction of the (time ordered) samples is held out to pick the
// regularization strength.
const validationFraction = 0.2

// RidgeModel is a linear model fitted with L2 regularization.
type RidgeModel struct {
	Weights []float64
	Bias    float64
	Lambda  float64
}

// Predict returns the model output for x.
func (m RidgeModel) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("got %d features, model has %d weights", len(x), len(m.Weights))
	}
	y := m.Bias
	for i, w := range m.Weights {
		y += w * x[i]
	}
	return y, nil
}

// FitRidge solves (XᵀX + λI)w = Xᵀy on centered data. The bias is not
// regularized.
func FitRidge(x [][]float64, y []float64, lambda float64) (RidgeModel, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return RidgeModel{}, fmt.Errorf("invalid training set: %d rows, %d targets", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return RidgeModel{}, errors.New("no features")
	}

	xMeans := make([]float64, p)
	for _, row := range x {
		if len(row) != p {
			return RidgeModel{}, errors.New("ragged feature matrix")
		}
		for j, v := range row {
			xMeans[j] += v / float64(n)
		}
	}
	yMean := stat.Mean(y, nil)

	design := mat.NewDense(n, p, nil)
	for i, row := range x {
		for j, v := range row {
			design.Set(i, j, v-xMeans[j])
		}
	}
	target := mat.NewVecDense(n, nil)
	for i, v := range y {
		target.SetVec(i, v-yMean)
	}

	var gram mat.Dense
	gram.Mul(design.T(), design)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+lambda)
	}
	var moment mat.VecDense
	moment.MulVec(design.T(), target)

	var w mat.VecDense
	if err := w.SolveVec(&gram, &moment); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return RidgeModel{}, fmt.Errorf("failed to solve ridge system: %w", err)
		}
	}

	m := RidgeModel{
		Weights: make([]float64, p),
		Bias:    yMean,
		Lambda:  lambda,
	}
	for j := 0; j < p; j++ {
		m.Weights[j] = w.AtVec(j)
		m.Bias -= m.Weights[j] * xMeans[j]
	}
	for _, v := range m.Weights {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return RidgeModel{}, fmt.Errorf("non-finite weights for lambda %v", lambda)
		}
	}
	return m, nil
}

// RSquared returns the coefficient of determination of m on (x, y).
func RSquared(m RidgeModel, x [][]float64, y []float64) (float64, error) {
	estimates := make([]float64, len(x))
	for i, row := range x {
		v, err := m.Predict(row)
		if err != nil {
			return 0, err
		}
		estimates[i] = v
	}
	r2 := stat.RSquaredFrom(estimates, y, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0, nil
	}
	return r2, nil
}

// SelectRidge picks the lambda with the best validation R² on a
// chronological 80/20 split and refits on all rows. The returned accuracy is
// that validation R² clamped to [0,1].
func SelectRidge(x [][]float64, y []float64, lambdas []float64) (RidgeModel, float64, error) {
	if len(lambdas) == 0 {
		lambdas = DefaultLambdas
	}
	n := len(x)
	split := int(math.Round(float64(n) * (1 - validationFraction)))
	if split < 2 || n-split < 2 {
		return RidgeModel{}, 0, fmt.Errorf("not enough rows to validate: %d", n)
	}

	bestLambda, bestR2 := math.NaN(), math.Inf(-1)
	var errs []error
	for _, lambda := range lambdas {
		m, err := FitRidge(x[:split], y[:split], lambda)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r2, err := RSquared(m, x[split:], y[split:])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r2 > bestR2 {
			bestLambda, bestR2 = lambda, r2
		}
	}
	if math.IsNaN(bestLambda) {
		return RidgeModel{}, 0, fmt.Errorf("no lambda could be fitted: %w", errors.Join(errs...))
	}

	m, err := FitRidge(x, y, bestLambda)
	if err != nil {
		return RidgeModel{}, 0, err
	}
	return m, math.Max(0, math.Min(1, bestR2)), nil
}
