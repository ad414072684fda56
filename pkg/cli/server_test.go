package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/riskscore/pkg/data"
	"github.com/mchmarny/riskscore/pkg/metrics"
	"github.com/mchmarny/riskscore/pkg/model"
	"github.com/mchmarny/riskscore/pkg/scoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArtifactsDir = "../model/testdata/json"

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testRow() map[string]any {
	return map[string]any{
		"DAYS_EMPLOYED":    -2000,
		"DAYS_BIRTH":       -10000,
		"AMT_INCOME_TOTAL": 120000,
		"AMT_CREDIT":       150000,
		"AMT_ANNUITY":      9000,
		"AMT_GOODS_PRICE":  140000,
		"CNT_FAM_MEMBERS":  3,
		"CNT_CHILDREN":     1,
		"EXT_SOURCE_MEAN":  0.42,
	}
}

// testBody wraps row the way clients send it: a JSON string under "data".
func testBody(t *testing.T, row map[string]any) string {
	t.Helper()
	b, err := json.Marshal(row)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"data": string(b)})
	require.NoError(t, err)
	return string(body)
}

func testService(t *testing.T) *scoring.Service {
	t.Helper()
	a, err := model.Load(context.Background(), testArtifactsDir)
	require.NoError(t, err)
	svc, err := scoring.NewService(a)
	require.NoError(t, err)
	return svc
}

func testJournal(t *testing.T) *data.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), data.DataFileName)
	require.NoError(t, data.Init(path))
	db, err := data.GetDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testAPI(t *testing.T, db *data.DB) (*apiContext, http.Handler) {
	t.Helper()
	a := newAPIContext(testService(t), db, metrics.New(""))
	return a, makeRouter(a)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestHomeHandler(t *testing.T) {
	_, h := testAPI(t, nil)
	rec := serve(h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "hello world"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestEchoHandler(t *testing.T) {
	_, h := testAPI(t, nil)
	rec := serve(h, http.MethodGet, "/api?name=ada&score=1&name=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name": "ada", "score": "1"}`, rec.Body.String())
}

func TestPredictHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			_, h := testAPI(t, nil)
			rec := serve(h, method, "/predict", testBody(t, testRow()))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, contentTypeJSON, rec.Header().Get("Content-Type"))

			var p scoring.Prediction
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			// logit: -2.5 + 0.3*-1.4 + 0.8*0.5 - 0.4*0.05 = -2.54
			assert.InDelta(t, 0.07313, p.Probability, 1e-4)
			assert.Equal(t, scoring.ResultAccepted, p.Result)
			assert.Equal(t, 0.12, p.Threshold)
		})
	}
}

func TestPredictHandler_ObjectData(t *testing.T) {
	_, h := testAPI(t, nil)
	body, err := json.Marshal(map[string]any{"data": []map[string]any{testRow()}})
	require.NoError(t, err)

	rec := serve(h, http.MethodPost, "/predict", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredictHandler_Deterministic(t *testing.T) {
	_, h := testAPI(t, nil)
	body := testBody(t, testRow())
	first := serve(h, http.MethodPost, "/predict", body).Body.String()
	for range 5 {
		assert.Equal(t, first, serve(h, http.MethodPost, "/predict", body).Body.String())
	}
}

func TestPredictHandler_MissingField(t *testing.T) {
	_, h := testAPI(t, nil)
	row := testRow()
	delete(row, "CNT_CHILDREN")
	delete(row, "AMT_ANNUITY")
	body := testBody(t, row)

	for range 3 {
		rec := serve(h, http.MethodPost, "/predict", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"AMT_ANNUITY", "CNT_CHILDREN"}, resp.Missing)
		assert.Contains(t, resp.Error, "missing required field")
	}
}

func TestScoringHandlers_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"malformed", `{"data": `},
		{"no data", `{"row": {}}`},
		{"empty row", `{"data": "{}"}`},
		{"too large", `{"data": "` + strings.Repeat("x", serverMaxBodyBytes+1) + `"}`},
	}

	a, h := testAPI(t, nil)
	for _, path := range []string{"/predict", "/dataframe", "/plot/waterfall"} {
		for _, tt := range tests {
			t.Run(path+" "+tt.name, func(t *testing.T) {
				rec := serve(h, http.MethodPost, path, tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, rec.Body.String(), `"error"`)
			})
		}
	}
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(a.metrics.ScoringErrors.WithLabelValues(opPredict, "invalid_request")))
}

func TestPredictHandler_Journal(t *testing.T) {
	db := testJournal(t)
	a, h := testAPI(t, db)

	rec := serve(h, http.MethodPost, "/predict", testBody(t, testRow()))
	require.Equal(t, http.StatusOK, rec.Code)

	list, err := data.ListDecisions(db, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, scoring.ResultAccepted, list[0].Result)
	assert.Equal(t, 0.12, list[0].Threshold)
	assert.Equal(t, len(testRow()), list[0].Features)
	assert.Equal(t, "192.0.2.1:1234", list[0].Remote)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.JournalWrites.WithLabelValues("ok")))
}

func TestPredictHandler_JournalFailureIsNotFatal(t *testing.T) {
	db := testJournal(t)
	require.NoError(t, db.Close())
	a, h := testAPI(t, db)

	rec := serve(h, http.MethodPost, "/predict", testBody(t, testRow()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.JournalWrites.WithLabelValues("error")))
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(t *testing.T, b []byte) []string {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	require.NoError(t, err)
	require.Equal(t, json.Delim('{'), tok)

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		var v json.RawMessage
		require.NoError(t, dec.Decode(&v))
	}
	return keys
}

func TestDataframeHandler(t *testing.T) {
	_, h := testAPI(t, nil)
	rec := serve(h, http.MethodGet, "/dataframe", testBody(t, testRow()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	keys := objectKeys(t, rec.Body.Bytes())
	assert.Equal(t, []string{"AMT_CREDIT", "PAYMENT_RATE", "DAYS_EMPLOYED_PERC"}, keys)

	cols, err := model.Load(context.Background(), testArtifactsDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, cols.Columns, keys)

	var values map[string]struct {
		Shap float64 `json:"shap"`
		Abs  float64 `json:"abs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &values))
	assert.InDelta(t, -0.42, values["AMT_CREDIT"].Shap, 1e-9)
	assert.InDelta(t, 0.42, values["AMT_CREDIT"].Abs, 1e-9)
	assert.InDelta(t, 0.4, values["PAYMENT_RATE"].Shap, 1e-9)
	assert.InDelta(t, -0.02, values["DAYS_EMPLOYED_PERC"].Shap, 1e-9)

	prev := values[keys[0]].Abs
	for _, k := range keys[1:] {
		assert.LessOrEqual(t, values[k].Abs, prev)
		prev = values[k].Abs
	}
}

func TestPlotHandler(t *testing.T) {
	a, h := testAPI(t, nil)
	for _, forme := range []string{"waterfall", "bar", "anything", "BAR"} {
		t.Run(forme, func(t *testing.T) {
			rec := serve(h, http.MethodPost, "/plot/"+forme, testBody(t, testRow()))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, contentTypePNG, rec.Header().Get("Content-Type"))
			assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), pngMagic))
		})
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(a.metrics.ChartsRendered.WithLabelValues("bar")))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.metrics.ChartsRendered.WithLabelValues("waterfall")))
}

func TestPlotHandler_MissingField(t *testing.T) {
	_, h := testAPI(t, nil)
	row := testRow()
	delete(row, "AMT_CREDIT")

	rec := serve(h, http.MethodGet, "/plot/bar", testBody(t, row))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "AMT_CREDIT")
}

func TestRouter_MethodAndPath(t *testing.T) {
	_, h := testAPI(t, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodDelete, "/predict", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/plot/", "").Code)
}

func TestRequestID(t *testing.T) {
	_, h := testAPI(t, nil)

	const id = "9b2b0f0a-53b3-4c5e-9a39-6a1f1d7b4b6e"
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(requestIDHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(requestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(requestIDHeader))
}

func TestMetricsHandler(t *testing.T) {
	_, h := testAPI(t, nil)
	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/predict", testBody(t, testRow())).Code)
	serve(h, http.MethodGet, "/nope", "")

	rec := serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `riskscore_scoring_predictions_total{result="0"} 1`)
	assert.Contains(t, body, `riskscore_http_requests_total{code="200",route="POST /predict"} 1`)
	assert.Contains(t, body, `riskscore_http_requests_total{code="404",route="unmatched"} 1`)
	assert.Contains(t, body, "riskscore_artifacts_threshold 0.12")
	assert.Contains(t, body, "riskscore_artifacts_columns 3")
}
