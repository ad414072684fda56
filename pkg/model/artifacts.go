package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultThreshold is used when the artifact set carries no threshold.
	DefaultThreshold = 0.09

	ColumnsArtifact   = "columns"
	ScalerArtifact    = "scaler"
	ModelArtifact     = "model"
	ExplainerArtifact = "explainer"
	ThresholdArtifact = "threshold"
)

var (
	// Extensions lists the accepted artifact file extensions in lookup order.
	Extensions = []string{".json", ".yaml", ".yml"}

	// ErrArtifactNotFound is returned when no file exists for an artifact.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// ArtifactFile describes one file of the artifact set.
type ArtifactFile struct {
	Name     string
	Optional bool
}

// ArtifactFiles is the artifact set in load order.
var ArtifactFiles = []ArtifactFile{
	{Name: ColumnsArtifact},
	{Name: ScalerArtifact},
	{Name: ModelArtifact},
	{Name: ExplainerArtifact},
	{Name: ThresholdArtifact, Optional: true},
}

// Artifacts is the immutable artifact set the service scores with.
type Artifacts struct {
	Columns   []string
	Scaler    Scaler
	Model     Model
	Explainer Explainer
	Threshold float64

	// ThresholdSource is the file the threshold came from, empty for the default.
	ThresholdSource string
}

type scalerDoc struct {
	Columns []string  `json:"columns,omitempty" yaml:"columns,omitempty"`
	Mean    []float64 `json:"mean" yaml:"mean"`
	Scale   []float64 `json:"scale" yaml:"scale"`
}

type modelDoc struct {
	Intercept    float64   `json:"intercept" yaml:"intercept"`
	Coefficients []float64 `json:"coefficients" yaml:"coefficients"`
}

type explainerDoc struct {
	BaseValue  *float64  `json:"base_value,omitempty" yaml:"base_value,omitempty"`
	Background []float64 `json:"background" yaml:"background"`
}

// Load reads the artifact set from dir. Files are read concurrently; any
// failure aborts the load.
func Load(ctx context.Context, dir string) (*Artifacts, error) {
	if dir == "" {
		return nil, errors.New("artifact directory required")
	}

	var (
		columns   []string
		scaler    scalerDoc
		model     modelDoc
		explainer explainerDoc
		threshold any
		thPath    string
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := readArtifact(dir, ColumnsArtifact, &columns)
		return err
	})
	g.Go(func() error {
		_, err := readArtifact(dir, ScalerArtifact, &scaler)
		return err
	})
	g.Go(func() error {
		_, err := readArtifact(dir, ModelArtifact, &model)
		return err
	})
	g.Go(func() error {
		_, err := readArtifact(dir, ExplainerArtifact, &explainer)
		return err
	})
	g.Go(func() error {
		p, err := readArtifact(dir, ThresholdArtifact, &threshold)
		if errors.Is(err, ErrArtifactNotFound) {
			return nil
		}
		thPath = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := validateColumns(columns); err != nil {
		return nil, err
	}
	n := len(columns)

	if len(scaler.Columns) > 0 && !slices.Equal(scaler.Columns, columns) {
		return nil, errors.New("scaler columns do not match the column list")
	}
	if err := checkLen(ScalerArtifact+".mean", scaler.Mean, n); err != nil {
		return nil, err
	}
	if err := checkLen(ScalerArtifact+".scale", scaler.Scale, n); err != nil {
		return nil, err
	}
	if err := checkLen(ModelArtifact+".coefficients", model.Coefficients, n); err != nil {
		return nil, err
	}
	if err := checkLen(ExplainerArtifact+".background", explainer.Background, n); err != nil {
		return nil, err
	}

	a := &Artifacts{
		Columns:   columns,
		Scaler:    &StandardScaler{Mean: scaler.Mean, Scale: scaler.Scale},
		Threshold: DefaultThreshold,
	}
	lm := &LogisticModel{
		Intercept:    model.Intercept,
		Coefficients: model.Coefficients,
		Impute:       explainer.Background,
	}
	a.Model = lm
	a.Explainer = &LinearExplainer{Model: lm, Background: explainer.Background, Base: explainer.BaseValue}

	if thPath != "" {
		t, err := parseThreshold(threshold)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid threshold in %s", thPath)
		}
		a.Threshold = t
		a.ThresholdSource = thPath
	}

	slog.Debug("artifacts loaded",
		"dir", dir,
		"columns", n,
		"threshold", a.Threshold,
		"threshold_source", a.ThresholdSource,
	)

	return a, nil
}

// FindArtifact returns the path of the first existing file for the artifact.
func FindArtifact(dir, name string) (string, error) {
	for _, ext := range Extensions {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Wrapf(ErrArtifactNotFound, "%s in %s", name, dir)
}

func readArtifact(dir, name string, target any) (string, error) {
	p, err := FindArtifact(dir, name)
	if err != nil {
		return "", err
	}

	b, err := os.ReadFile(p)
	if err != nil {
		return p, errors.Wrapf(err, "error reading artifact: %s", p)
	}

	if filepath.Ext(p) == ".json" {
		err = json.Unmarshal(b, target)
	} else {
		err = yaml.Unmarshal(b, target)
	}
	if err != nil {
		return p, errors.Wrapf(err, "error decoding artifact: %s", p)
	}
	return p, nil
}

func parseThreshold(v any) (float64, error) {
	var t float64
	switch x := v.(type) {
	case float64:
		t = x
	case int:
		t = float64(x)
	case map[string]any:
		inner, ok := x["threshold"]
		if !ok {
			return 0, errors.New("missing threshold key")
		}
		return parseThreshold(inner)
	default:
		return 0, errors.Errorf("unsupported threshold value: %v", v)
	}
	if err := ValidateThreshold(t); err != nil {
		return 0, err
	}
	return t, nil
}

// ValidateThreshold checks that t is a probability.
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return errors.Errorf("threshold must be within [0, 1], got %v", t)
	}
	return nil
}

func validateColumns(cols []string) error {
	if len(cols) == 0 {
		return errors.New("column list is empty")
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if c == "" {
			return errors.New("column list contains an empty name")
		}
		if _, ok := seen[c]; ok {
			return errors.Errorf("duplicate column: %s", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

func checkLen(name string, v []float64, n int) error {
	if len(v) != n {
		return fmt.Errorf("%s has %d values, expected %d", name, len(v), n)
	}
	return nil
}
