package features

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidRow is matched by errors returned for payloads that do not hold
// exactly one feature row.
var ErrInvalidRow = errors.New("invalid feature row")

// Coerce converts a decoded JSON value to a float. Values that are not
// numbers, numeric strings or booleans become NaN.
func Coerce(v any) float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		p, err := t.Float64()
		if err != nil {
			return math.NaN()
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return math.NaN()
		}
		f = p
	case bool:
		if t {
			f = 1
		}
	case float64:
		f = t
	default:
		return math.NaN()
	}
	if math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

// ParseRow decodes a single feature row. The payload may be the row object,
// a JSON string holding the serialized row, a one-record list, or a
// single-row column-oriented frame ({"col": {"0": v}}).
func ParseRow(raw json.RawMessage) (Row, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.Wrap(ErrInvalidRow, "no data")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrapf(ErrInvalidRow, "decoding serialized row: %v", err)
		}
		if strings.HasPrefix(strings.TrimSpace(s), `"`) {
			return nil, errors.Wrap(ErrInvalidRow, "row serialized more than once")
		}
		return ParseRow(json.RawMessage(s))
	}

	v, err := decodeValue(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRow, "decoding row: %v", err)
	}

	switch t := v.(type) {
	case map[string]any:
		return fromObject(t)
	case []any:
		if len(t) != 1 {
			return nil, errors.Wrapf(ErrInvalidRow, "expected one record, got %d", len(t))
		}
		m, ok := t[0].(map[string]any)
		if !ok {
			return nil, errors.Wrap(ErrInvalidRow, "record is not an object")
		}
		return fromObject(m)
	default:
		return nil, errors.Wrap(ErrInvalidRow, "row is not an object")
	}
}

// decodeValue decodes a single JSON value keeping numbers as json.Number.
func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after row")
	}
	return v, nil
}

func fromObject(m map[string]any) (Row, error) {
	if len(m) == 0 {
		return nil, errors.Wrap(ErrInvalidRow, "row is empty")
	}

	if !isColumnFrame(m) {
		return Row(m), nil
	}

	row := make(Row, len(m))
	for k, v := range m {
		cell := v.(map[string]any)
		if len(cell) != 1 {
			return nil, errors.Wrapf(ErrInvalidRow, "column %s holds %d rows, expected 1", k, len(cell))
		}
		for _, c := range cell {
			row[k] = c
		}
	}
	return row, nil
}

// isColumnFrame reports whether every value is an object keyed by row index.
func isColumnFrame(m map[string]any) bool {
	for _, v := range m {
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// Keys returns the sorted field names of the row.
func (r Row) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
