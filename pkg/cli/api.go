package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mchmarny/riskscore/pkg/chart"
	"github.com/mchmarny/riskscore/pkg/data"
	"github.com/mchmarny/riskscore/pkg/features"
	"github.com/mchmarny/riskscore/pkg/scoring"
)

const (
	contentTypeJSON = "application/json"
	contentTypePNG  = "image/png"

	opPredict   = "predict"
	opDataframe = "dataframe"
	opPlot      = "plot"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeScoringError maps a scoring pipeline error to its response.
func (a *apiContext) writeScoringError(w http.ResponseWriter, op string, err error) {
	var missing *features.MissingFieldError
	switch {
	case errors.As(err, &missing):
		a.metrics.ScoringErrors.WithLabelValues(op, "missing_field").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Missing: missing.Fields})
	case errors.Is(err, scoring.ErrInvalidRequest), errors.Is(err, features.ErrInvalidRow):
		a.metrics.ScoringErrors.WithLabelValues(op, "invalid_request").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.metrics.ScoringErrors.WithLabelValues(op, "internal").Inc()
		slog.Error("scoring failed", "operation", op, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func homeAPIHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello world"})
}

// echoAPIHandler returns the first value of every query parameter.
func echoAPIHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func predictAPIHandler(a *apiContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err := scoring.DecodeRequest(r.Body)
		if err != nil {
			a.writeScoringError(w, opPredict, err)
			return
		}

		p, err := a.svc.Predict(row)
		if err != nil {
			a.writeScoringError(w, opPredict, err)
			return
		}

		a.metrics.ObservePrediction(p.Result, p.Probability)
		a.record(r, p, len(row))
		writeJSON(w, http.StatusOK, p)
	}
}

func dataframeAPIHandler(a *apiContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, err := a.explain(r)
		if err != nil {
			a.writeScoringError(w, opDataframe, err)
			return
		}
		writeJSON(w, http.StatusOK, exp.Attributions)
	}
}

func plotAPIHandler(a *apiContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, err := a.explain(r)
		if err != nil {
			a.writeScoringError(w, opPlot, err)
			return
		}

		style := chart.ParseStyle(r.PathValue("forme"))
		var buf bytes.Buffer
		if err := chart.Render(&buf, style, exp.BaseValue, toBars(exp.Attributions)); err != nil {
			a.writeScoringError(w, opPlot, err)
			return
		}
		a.metrics.ChartsRendered.WithLabelValues(string(style)).Inc()

		w.Header().Set("Content-Type", contentTypePNG)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(buf.Bytes()); err != nil {
			slog.Error("failed to write chart", "error", err)
		}
	}
}

func (a *apiContext) explain(r *http.Request) (*scoring.Explanation, error) {
	row, err := scoring.DecodeRequest(r.Body)
	if err != nil {
		return nil, err
	}
	return a.svc.Explain(row)
}

// record writes p to the journal. Failures are logged, never returned.
func (a *apiContext) record(r *http.Request, p *scoring.Prediction, n int) {
	if a.db == nil {
		return
	}
	d := &data.Decision{
		Result:      p.Result,
		Probability: p.Probability,
		Threshold:   p.Threshold,
		Features:    n,
		Remote:      r.RemoteAddr,
	}
	if err := data.SaveDecision(a.db, d); err != nil {
		a.metrics.JournalWrites.WithLabelValues("error").Inc()
		slog.Error("failed to record decision", "error", err)
		return
	}
	a.metrics.JournalWrites.WithLabelValues("ok").Inc()
}

func toBars(list scoring.Attributions) []chart.Bar {
	bars := make([]chart.Bar, len(list))
	for i, at := range list {
		bars[i] = chart.Bar{Label: at.Feature, Value: at.Value}
	}
	return bars
}
