// Package scoring runs the prediction and explanation pipeline:
// derive features, scale, then delegate to the model or the explainer.
package scoring

import (
	"fmt"
	"math"

	"github.com/mchmarny/riskscore/pkg/features"
	"github.com/mchmarny/riskscore/pkg/model"
)

const (
	// ResultAccepted is the decision for a probability at or below the threshold.
	ResultAccepted = 0
	// ResultRejected is the decision for a probability above the threshold.
	ResultRejected = 1
)

// Prediction is the decision for a single row.
type Prediction struct {
	Result      int     `json:"result" yaml:"result"`
	Probability float64 `json:"result_proba" yaml:"result_proba"`
	Threshold   float64 `json:"seuil" yaml:"seuil"`
}

// Explanation is the sorted per-feature attribution of a single row.
type Explanation struct {
	BaseValue    float64      `json:"base_value" yaml:"base_value"`
	Attributions Attributions `json:"attributions" yaml:"attributions"`
}

// Service scores rows against an immutable artifact set. It is safe for
// concurrent use as long as the artifacts are.
type Service struct {
	deriver   *features.Deriver
	scaler    model.Scaler
	model     model.Model
	explainer model.Explainer
	threshold float64
}

// NewService creates a Service from loaded artifacts.
func NewService(a *model.Artifacts) (*Service, error) {
	if a == nil {
		return nil, fmt.Errorf("artifacts required")
	}
	if a.Scaler == nil || a.Model == nil || a.Explainer == nil {
		return nil, fmt.Errorf("scaler, model and explainer are all required")
	}
	if err := model.ValidateThreshold(a.Threshold); err != nil {
		return nil, err
	}
	return &Service{
		deriver:   features.NewDeriver(a.Columns),
		scaler:    a.Scaler,
		model:     a.Model,
		explainer: a.Explainer,
		threshold: a.Threshold,
	}, nil
}

// Threshold returns the decision threshold.
func (s *Service) Threshold() float64 {
	return s.threshold
}

// Columns returns the column list the model is fed with.
func (s *Service) Columns() []string {
	return s.deriver.Columns()
}

// Decide returns ResultRejected only when p is strictly greater than the threshold.
func Decide(p, threshold float64) int {
	if p > threshold {
		return ResultRejected
	}
	return ResultAccepted
}

// Predict scores the row.
func (s *Service) Predict(row features.Row) (*Prediction, error) {
	x, err := s.prepare(row)
	if err != nil {
		return nil, err
	}

	p, err := s.model.PredictProbability(x)
	if err != nil {
		return nil, fmt.Errorf("predicting probability: %w", err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, fmt.Errorf("model returned invalid probability: %v", p)
	}

	return &Prediction{
		Result:      Decide(p, s.threshold),
		Probability: p,
		Threshold:   s.threshold,
	}, nil
}

// Explain returns the attributions of the row sorted by absolute value.
func (s *Service) Explain(row features.Row) (*Explanation, error) {
	x, err := s.prepare(row)
	if err != nil {
		return nil, err
	}

	exp, err := s.explainer.Explain(x)
	if err != nil {
		return nil, fmt.Errorf("explaining row: %w", err)
	}

	cols := s.deriver.Columns()
	if len(exp.Values) != len(cols) {
		return nil, fmt.Errorf("explainer returned %d values for %d columns", len(exp.Values), len(cols))
	}

	return &Explanation{
		BaseValue:    exp.BaseValue,
		Attributions: NewAttributions(cols, exp.Values),
	}, nil
}

func (s *Service) prepare(row features.Row) ([]float64, error) {
	vec, err := s.deriver.Derive(row)
	if err != nil {
		return nil, fmt.Errorf("deriving features: %w", err)
	}

	x, err := s.scaler.Transform(vec)
	if err != nil {
		return nil, fmt.Errorf("scaling features: %w", err)
	}
	return x, nil
}
