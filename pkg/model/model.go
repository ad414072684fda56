// Package model defines the contracts of the scoring artifacts (scaler,
// classifier, explainer) and the linear implementations loaded from disk.
package model

import (
	"fmt"
	"math"
)

// Scaler normalizes a model input vector.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

// Model returns the probability of the positive (reject) class.
type Model interface {
	PredictProbability(x []float64) (float64, error)
}

// Explainer attributes a model output to each input feature.
type Explainer interface {
	Explain(x []float64) (*Explanation, error)
}

// Explanation holds one attribution per column plus the value the
// attributions accumulate from.
type Explanation struct {
	BaseValue float64
	Values    []float64
}

// StandardScaler applies (x - mean) / scale per column. NaN passes through.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler expects %d values, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

// LogisticModel is a binary logistic regression over scaled inputs.
// A NaN input is replaced by its Impute value, or by 0 (the scaled mean)
// when Impute is nil.
type LogisticModel struct {
	Intercept    float64
	Coefficients []float64
	Impute       []float64
}

// Logit returns the log-odds of the positive class.
func (m *LogisticModel) Logit(x []float64) (float64, error) {
	if len(x) != len(m.Coefficients) {
		return 0, fmt.Errorf("model expects %d values, got %d", len(m.Coefficients), len(x))
	}
	if m.Impute != nil && len(m.Impute) != len(m.Coefficients) {
		return 0, fmt.Errorf("model has %d coefficients but %d imputation values", len(m.Coefficients), len(m.Impute))
	}
	z := m.Intercept
	for i, v := range x {
		if math.IsNaN(v) {
			if m.Impute == nil {
				continue
			}
			v = m.Impute[i]
		}
		z += m.Coefficients[i] * v
	}
	return z, nil
}

func (m *LogisticModel) PredictProbability(x []float64) (float64, error) {
	z, err := m.Logit(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(z), nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// LinearExplainer computes exact attributions for a LogisticModel in
// log-odds space: coef_i * (x_i - background_i). A NaN input gets no
// attribution, so the model must impute the background for it.
type LinearExplainer struct {
	Model      *LogisticModel
	Background []float64
	Base       *float64
}

func (e *LinearExplainer) BaseValue() float64 {
	if e.Base != nil {
		return *e.Base
	}
	z := e.Model.Intercept
	for i, c := range e.Model.Coefficients {
		z += c * e.Background[i]
	}
	return z
}

func (e *LinearExplainer) Explain(x []float64) (*Explanation, error) {
	if len(x) != len(e.Background) {
		return nil, fmt.Errorf("explainer expects %d values, got %d", len(e.Background), len(x))
	}
	vals := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			continue
		}
		vals[i] = e.Model.Coefficients[i] * (v - e.Background[i])
	}
	return &Explanation{
		BaseValue: e.BaseValue(),
		Values:    vals,
	}, nil
}
