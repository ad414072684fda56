package scoring

import (
	"strings"
	"testing"

	"github.com/mchmarny/riskscore/pkg/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"serialized object", `{"data": "{\"AMT_CREDIT\": 1000}"}`},
		{"object", `{"data": {"AMT_CREDIT": 1000}}`},
		{"records", `{"data": "[{\"AMT_CREDIT\": 1000}]"}`},
		{"columns frame", `{"data": "{\"AMT_CREDIT\": {\"0\": 1000}}"}`},
		{"trailing whitespace", "{\"data\": {\"AMT_CREDIT\": 1000}}\n\t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := DecodeRequest(strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, 1000.0, features.Coerce(row["AMT_CREDIT"]))
		})
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"malformed", `{"data": `},
		{"no data", `{"rows": {}}`},
		{"null data", `{"data": null}`},
		{"empty row", `{"data": "{}"}`},
		{"scalar", `{"data": 42}`},
		{"trailing data", `{"data": {"AMT_CREDIT": 1000}} junk`},
		{"second object", `{"data": {"AMT_CREDIT": 1000}}{"data": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(strings.NewReader(tt.body))
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestDecodeRequest_Nil(t *testing.T) {
	_, err := DecodeRequest(nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
