package features

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingField is matched by errors returned when a row lacks a field
// needed to build the model input.
var ErrMissingField = errors.New("missing required field")

// MissingFieldError lists every field a row was missing, sorted.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingField, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Row is a client feature row keyed by raw field name.
type Row map[string]any

// Vector is a feature row aligned with a column list.
type Vector []float64

// Derived is a feature computed from raw fields of the row.
type Derived struct {
	Name    string
	Inputs  []string
	Compute func(in []float64) float64
}

func ratio(name, num, den string) Derived {
	return Derived{
		Name:    name,
		Inputs:  []string{num, den},
		Compute: func(in []float64) float64 { return in[0] / in[1] },
	}
}

func diff(name, a, b string) Derived {
	return Derived{
		Name:    name,
		Inputs:  []string{a, b},
		Compute: func(in []float64) float64 { return in[0] - in[1] },
	}
}

// DerivedFeatures is the fixed set of features added to every row before scaling.
var DerivedFeatures = []Derived{
	ratio("DAYS_EMPLOYED_PERC", "DAYS_EMPLOYED", "DAYS_BIRTH"),
	ratio("INCOME_CREDIT_PERC", "AMT_INCOME_TOTAL", "AMT_CREDIT"),
	ratio("INCOME_PER_PERSON", "AMT_INCOME_TOTAL", "CNT_FAM_MEMBERS"),
	ratio("ANNUITY_INCOME_PERC", "AMT_ANNUITY", "AMT_INCOME_TOTAL"),
	ratio("PAYMENT_RATE", "AMT_ANNUITY", "AMT_CREDIT"),
	{
		Name:    "EXT_SOURCE_MEAN_x_DAYS_EMPLOYED",
		Inputs:  []string{"EXT_SOURCE_MEAN", "DAYS_EMPLOYED"},
		Compute: func(in []float64) float64 { return in[0] * in[1] },
	},
	diff("AMT_CREDIT_-_AMT_GOODS_PRICE", "AMT_CREDIT", "AMT_GOODS_PRICE"),
	ratio("AMT_CREDIT_r_AMT_GOODS_PRICE", "AMT_CREDIT", "AMT_GOODS_PRICE"),
	ratio("AMT_CREDIT_r_AMT_ANNUITY", "AMT_CREDIT", "AMT_ANNUITY"),
	ratio("AMT_CREDIT_r_AMT_INCOME_TOTAL", "AMT_CREDIT", "AMT_INCOME_TOTAL"),
	{
		Name:    "AMT_INCOME_TOTAL_r_12_-_AMT_ANNUITY",
		Inputs:  []string{"AMT_INCOME_TOTAL", "AMT_ANNUITY"},
		Compute: func(in []float64) float64 { return in[0]/12 - in[1] },
	},
	ratio("AMT_INCOME_TOTAL_r_AMT_ANNUITY", "AMT_INCOME_TOTAL", "AMT_ANNUITY"),
	ratio("CNT_CHILDREN_r_CNT_FAM_MEMBERS", "CNT_CHILDREN", "CNT_FAM_MEMBERS"),
}

// RequiredFields returns the sorted raw fields the derived features read.
func RequiredFields() []string {
	seen := make(map[string]struct{})
	for _, d := range DerivedFeatures {
		for _, in := range d.Inputs {
			seen[in] = struct{}{}
		}
	}
	list := make([]string, 0, len(seen))
	for k := range seen {
		list = append(list, k)
	}
	sort.Strings(list)
	return list
}

// Deriver turns client rows into model input vectors ordered by a column list.
type Deriver struct {
	columns []string
	derived []Derived
}

// NewDeriver creates a Deriver for the given column list.
func NewDeriver(columns []string) *Deriver {
	c := make([]string, len(columns))
	copy(c, columns)
	return &Deriver{
		columns: c,
		derived: DerivedFeatures,
	}
}

// Columns returns a copy of the column list.
func (d *Deriver) Columns() []string {
	c := make([]string, len(d.columns))
	copy(c, d.columns)
	return c
}

// Augment coerces every field of the row and adds the derived features.
// A derived value overwrites a client field with the same name.
func (d *Deriver) Augment(row Row) (map[string]float64, error) {
	missing := make(map[string]struct{})
	for _, f := range d.derived {
		for _, in := range f.Inputs {
			if _, ok := row[in]; !ok {
				missing[in] = struct{}{}
			}
		}
	}
	if len(missing) > 0 {
		return nil, newMissingFieldError(missing)
	}

	out := make(map[string]float64, len(row)+len(d.derived))
	for k, v := range row {
		out[k] = Coerce(v)
	}

	in := make([]float64, 0, 2)
	for _, f := range d.derived {
		in = in[:0]
		for _, name := range f.Inputs {
			in = append(in, out[name])
		}
		out[f.Name] = finite(f.Compute(in))
	}
	return out, nil
}

// Derive builds the model input vector for the row. Absent fields fail the
// row; present but non-numeric values become NaN.
func (d *Deriver) Derive(row Row) (Vector, error) {
	aug, err := d.Augment(row)
	if err != nil {
		return nil, err
	}

	vec := make(Vector, len(d.columns))
	missing := make(map[string]struct{})
	for i, c := range d.columns {
		v, ok := aug[c]
		if !ok {
			missing[c] = struct{}{}
			continue
		}
		vec[i] = v
	}
	if len(missing) > 0 {
		return nil, newMissingFieldError(missing)
	}
	return vec, nil
}

func newMissingFieldError(set map[string]struct{}) error {
	fields := make([]string, 0, len(set))
	for k := range set {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return &MissingFieldError{Fields: fields}
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
