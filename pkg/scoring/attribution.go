package scoring

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// Attribution is the contribution of one feature to a model output.
type Attribution struct {
	Feature string  `json:"feature" yaml:"feature"`
	Value   float64 `json:"shap" yaml:"shap"`
	Abs     float64 `json:"abs" yaml:"abs"`
}

// Attributions is ordered by absolute value, largest first. It marshals to
// an object keyed by feature name that keeps that order.
type Attributions []Attribution

// NewAttributions pairs names with values and sorts them. Ties keep the
// column order. NaN values are reported as zero.
func NewAttributions(names []string, values []float64) Attributions {
	list := make(Attributions, len(names))
	for i, n := range names {
		v := values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		list[i] = Attribution{Feature: n, Value: v, Abs: math.Abs(v)}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Abs > list[j].Abs
	})
	return list
}

// Top returns at most n leading attributions.
func (a Attributions) Top(n int) Attributions {
	if n < 0 || n >= len(a) {
		return a
	}
	return a[:n]
}

// Names returns the feature names in order.
func (a Attributions) Names() []string {
	names := make([]string, len(a))
	for i, v := range a {
		names[i] = v.Feature
	}
	return names
}

type attributionValue struct {
	Value float64 `json:"shap" yaml:"shap"`
	Abs   float64 `json:"abs" yaml:"abs"`
}

func (a Attributions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(v.Feature)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(attributionValue{Value: v.Value, Abs: v.Abs})
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a Attributions) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, v := range a {
		val := &yaml.Node{}
		if err := val.Encode(attributionValue{Value: v.Value, Abs: v.Abs}); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Feature},
			val,
		)
	}
	return node, nil
}
