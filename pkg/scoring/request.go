package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mchmarny/riskscore/pkg/features"
)

// ErrInvalidRequest is matched by errors returned for bodies that cannot be
// decoded into a feature row.
var ErrInvalidRequest = errors.New("invalid request")

// Request is the body accepted by the scoring endpoints.
type Request struct {
	Data json.RawMessage `json:"data"`
}

// DecodeRequest reads a Request from r and parses its row.
func DecodeRequest(r io.Reader) (features.Row, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}

	var req Request
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty body", ErrInvalidRequest)
		}
		return nil, fmt.Errorf("%w: decoding body: %v", ErrInvalidRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after body", ErrInvalidRequest)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: data field required", ErrInvalidRequest)
	}

	row, err := features.ParseRow(req.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return row, nil
}
