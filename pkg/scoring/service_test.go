package scoring

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mchmarny/riskscore/pkg/features"
	"github.com/mchmarny/riskscore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var testColumns = []string{"AMT_CREDIT", "PAYMENT_RATE", "DAYS_EMPLOYED_PERC", "CNT_CHILDREN"}

func testArtifacts() *model.Artifacts {
	lm := &model.LogisticModel{
		Intercept:    -1,
		Coefficients: []float64{0.5, 2, -1, 0.1},
	}
	return &model.Artifacts{
		Columns: testColumns,
		Scaler: &model.StandardScaler{
			Mean:  []float64{100000, 0.05, 0.2, 1},
			Scale: []float64{50000, 0.01, 0.1, 1},
		},
		Model:     lm,
		Explainer: &model.LinearExplainer{Model: lm, Background: []float64{0, 0, 0, 0}},
		Threshold: model.DefaultThreshold,
	}
}

func testRow() features.Row {
	return features.Row{
		"DAYS_EMPLOYED":    -2000.0,
		"DAYS_BIRTH":       -10000.0,
		"AMT_INCOME_TOTAL": 120000.0,
		"AMT_CREDIT":       150000.0,
		"AMT_ANNUITY":      9000.0,
		"AMT_GOODS_PRICE":  140000.0,
		"CNT_FAM_MEMBERS":  3.0,
		"CNT_CHILDREN":     1.0,
		"EXT_SOURCE_MEAN":  "0.42",
	}
}

type fixedModel float64

func (m fixedModel) PredictProbability(_ []float64) (float64, error) {
	return float64(m), nil
}

func TestNewService_Invalid(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)

	a := testArtifacts()
	a.Model = nil
	_, err = NewService(a)
	assert.Error(t, err)

	a = testArtifacts()
	a.Threshold = 2
	_, err = NewService(a)
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	s, err := NewService(testArtifacts())
	require.NoError(t, err)

	p, err := s.Predict(testRow())
	require.NoError(t, err)

	// scaled: [1, 1, 0, 0] -> logit -1 + 0.5 + 2 = 1.5
	assert.InDelta(t, 1/(1+math.Exp(-1.5)), p.Probability, 1e-12)
	assert.Equal(t, ResultRejected, p.Result)
	assert.Equal(t, model.DefaultThreshold, p.Threshold)
}

func TestPredict_Deterministic(t *testing.T) {
	s, err := NewService(testArtifacts())
	require.NoError(t, err)

	first, err := s.Predict(testRow())
	require.NoError(t, err)
	for range 10 {
		next, err := s.Predict(testRow())
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestPredict_Boundary(t *testing.T) {
	const threshold = 0.3
	tests := []struct {
		name string
		p    float64
		want int
	}{
		{"below", threshold - 0.1, ResultAccepted},
		{"equal", threshold, ResultAccepted},
		{"above by epsilon", math.Nextafter(threshold, 1), ResultRejected},
		{"above", threshold + 0.1, ResultRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArtifacts()
			a.Model = fixedModel(tt.p)
			a.Threshold = threshold
			s, err := NewService(a)
			require.NoError(t, err)

			p, err := s.Predict(testRow())
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Result)
			assert.Equal(t, tt.want, Decide(tt.p, threshold))
		})
	}
}

func TestPredict_InvalidProbability(t *testing.T) {
	a := testArtifacts()
	a.Model = fixedModel(math.NaN())
	s, err := NewService(a)
	require.NoError(t, err)

	_, err = s.Predict(testRow())
	assert.Error(t, err)
}

func TestPredict_MissingField(t *testing.T) {
	s, err := NewService(testArtifacts())
	require.NoError(t, err)

	row := testRow()
	delete(row, "AMT_GOODS_PRICE")

	_, err = s.Predict(row)
	require.Error(t, err)
	assert.True(t, errors.Is(err, features.ErrMissingField))

	var mf *features.MissingFieldError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{"AMT_GOODS_PRICE"}, mf.Fields)
}

func TestExplain(t *testing.T) {
	s, err := NewService(testArtifacts())
	require.NoError(t, err)

	exp, err := s.Explain(testRow())
	require.NoError(t, err)
	assert.Equal(t, -1.0, exp.BaseValue)

	attrs := exp.Attributions
	require.Len(t, attrs, len(testColumns))
	assert.ElementsMatch(t, testColumns, attrs.Names())

	for i := 1; i < len(attrs); i++ {
		assert.GreaterOrEqual(t, attrs[i-1].Abs, attrs[i].Abs)
	}
	assert.Equal(t, "PAYMENT_RATE", attrs[0].Feature)
	assert.InDelta(t, 2.0, attrs[0].Value, 1e-9)
	assert.Equal(t, "AMT_CREDIT", attrs[1].Feature)
}

func TestAttributions_Order(t *testing.T) {
	attrs := NewAttributions(
		[]string{"a", "b", "c", "d", "e"},
		[]float64{0.1, -3, 2, math.NaN(), -0.1},
	)

	assert.Equal(t, []string{"b", "c", "a", "e", "d"}, attrs.Names())
	assert.Equal(t, -3.0, attrs[0].Value)
	assert.Equal(t, 3.0, attrs[0].Abs)
	assert.Equal(t, 0.0, attrs[4].Value)

	assert.Len(t, attrs.Top(2), 2)
	assert.Len(t, attrs.Top(10), 5)
	assert.Len(t, attrs.Top(-1), 5)
}

func TestAttributions_MarshalJSONKeepsOrder(t *testing.T) {
	attrs := NewAttributions([]string{"small", "big"}, []float64{0.5, -2})

	b, err := json.Marshal(attrs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"big":{"shap":-2,"abs":2},"small":{"shap":0.5,"abs":0.5}}`, string(b))
	assert.Less(t, strings.Index(string(b), "big"), strings.Index(string(b), "small"))

	empty, err := json.Marshal(Attributions{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}

func TestAttributions_MarshalYAMLKeepsOrder(t *testing.T) {
	attrs := NewAttributions([]string{"small", "big"}, []float64{0.5, -2})

	b, err := yaml.Marshal(attrs)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "shap: -2")
	assert.Less(t, strings.Index(out, "big"), strings.Index(out, "small"))
}
