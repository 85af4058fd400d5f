// Package api serves stored GLUE batches over HTTP: JSON listings of batches
// and curves, the interactive sensitivity page, and the report directory.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/permafrost.glue/internal/db"
	"github.com/banshee-data/permafrost.glue/internal/glue"
	"github.com/banshee-data/permafrost.glue/internal/httputil"
	"github.com/banshee-data/permafrost.glue/internal/monitoring"
	"github.com/banshee-data/permafrost.glue/internal/report"
	"github.com/banshee-data/permafrost.glue/internal/security"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type Server struct {
	db        *db.DB
	reportDir string
}

// NewServer serves the batches in store. reportDir, when not empty, is
// exposed under /reports/.
func NewServer(store *db.DB, reportDir string) *Server {
	return &Server{db: store, reportDir: reportDir}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/batches", s.listBatches)
	mux.HandleFunc("GET /api/batches/{id}", s.showBatch)
	mux.HandleFunc("GET /api/batches/{id}/curves", s.listCurves)
	mux.HandleFunc("GET /batches/{id}/sensitivity.html", s.sensitivityPage)
	mux.HandleFunc("GET /batches/{id}/samples.csv", s.samplesCSV)
	if s.reportDir != "" {
		mux.HandleFunc("GET /reports/{file...}", s.serveReport)
	}
	return mux
}

type boundJSON struct {
	Name   string  `json:"name"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Degree int     `json:"degree,omitempty"`
}

type batchJSON struct {
	BatchID      string      `json:"batch_id"`
	Backend      string      `json:"backend"`
	Seed         uint64      `json:"seed"`
	Centered     bool        `json:"centered"`
	SampleCount  int         `json:"sample_count"`
	MissingCount int         `json:"missing_count"`
	Observed     []float64   `json:"observed"`
	Bounds       []boundJSON `json:"bounds"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	CreatedAt    time.Time   `json:"created_at"`
}

type sampleJSON struct {
	Index     int                `json:"index"`
	Params    map[string]float64 `json:"params"`
	Simulated *float64           `json:"simulated"`
	Failure   string             `json:"failure,omitempty"`
}

type curveJSON struct {
	Parameter string     `json:"parameter"`
	Degree    int        `json:"degree"`
	Values    []float64  `json:"values"`
	MeanBias  []float64  `json:"mean_bias"`
	Counts    []int      `json:"counts"`
	Coeffs    []float64  `json:"coeffs,omitempty"`
	Domain    [2]float64 `json:"domain"`
	FitError  string     `json:"fit_error,omitempty"`
}

func toBatchJSON(b *db.Batch) batchJSON {
	out := batchJSON{
		BatchID:      b.BatchID,
		Backend:      b.Backend,
		Seed:         b.Seed,
		Centered:     b.Centered,
		SampleCount:  b.SampleCount,
		MissingCount: b.MissingCount,
		Observed:     b.Observed,
		StartedAt:    b.StartedAt,
		FinishedAt:   b.FinishedAt,
		CreatedAt:    b.CreatedAt,
	}
	for _, bd := range b.Bounds {
		out.Bounds = append(out.Bounds, boundJSON{Name: bd.Name, Lower: bd.Lower, Upper: bd.Upper, Degree: bd.Degree})
	}
	return out
}

func toCurveJSON(c glue.SensitivityCurve) curveJSON {
	out := curveJSON{
		Parameter: c.Parameter,
		Degree:    c.Degree,
		Values:    c.Values,
		MeanBias:  c.MeanBias,
		Counts:    c.Counts,
	}
	if c.HasFit() {
		out.Coeffs = c.Fit.Coeffs
		out.Domain = c.Fit.Domain
	}
	if c.FitErr != nil {
		out.FitError = c.FitErr.Error()
	}
	return out
}

// writeStoreError maps store errors to a status code.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	monitoring.Logf("api: %v", err)
	httputil.InternalServerError(w, "failed to read batch store")
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.db.ListBatches()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]batchJSON, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchJSON(b))
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showBatch(w http.ResponseWriter, r *http.Request) {
	stored, err := s.db.LoadBatch(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	samples := make([]sampleJSON, len(stored.Samples))
	for i, smp := range stored.Samples {
		samples[i] = sampleJSON{Index: smp.Index, Params: smp.Params, Failure: smp.Failure}
		if smp.Result.OK {
			v := smp.Result.Value
			samples[i].Simulated = &v
		}
	}
	httputil.WriteJSONOK(w, struct {
		batchJSON
		Samples []sampleJSON `json:"samples"`
	}{toBatchJSON(&stored.Batch), samples})
}

func (s *Server) listCurves(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	curves, err := s.db.ListCurves(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(curves) == 0 {
		httputil.NotFound(w, fmt.Sprintf("batch %s has no curves", id))
		return
	}
	out := make([]curveJSON, len(curves))
	for i, c := range curves {
		out[i] = toCurveJSON(c)
	}
	httputil.WriteJSONOK(w, out)
}

// reportData rebuilds the report input of a stored batch. The bias of every
// retained sample is recomputed; the stored curves replace the recomputed
// ones so that refitted degrees are shown as stored.
func (s *Server) reportData(id string) (report.Data, error) {
	stored, err := s.db.LoadBatch(id)
	if err != nil {
		return report.Data{}, err
	}
	curves, err := s.db.ListCurves(id)
	if err != nil {
		return report.Data{}, err
	}
	set, results := stored.SampleSet(), stored.Results()
	ev, err := glue.Evaluate(set, results, stored.Observed, glue.EvalOptions{Degrees: glue.DegreesFromBounds(stored.Bounds)})
	if err != nil {
		return report.Data{}, err
	}
	if len(curves) > 0 {
		ev.Curves = curves
	}
	return report.Data{BatchID: id, Set: set, Results: results, Eval: ev}, nil
}

func (s *Server) sensitivityPage(w http.ResponseWriter, r *http.Request) {
	d, err := s.reportData(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteHTML(&buf, d); err != nil {
		monitoring.Logf("api: render %s: %v", d.BatchID, err)
		httputil.InternalServerError(w, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) samplesCSV(w http.ResponseWriter, r *http.Request) {
	d, err := s.reportData(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteSamples(&buf, d); err != nil {
		monitoring.Logf("api: csv %s: %v", d.BatchID, err)
		httputil.InternalServerError(w, "failed to write samples")
		return
	}
	name := security.SanitizeFilename("glue_"+d.BatchID) + "_" + report.SamplesCSV
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) serveReport(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.reportDir, filepath.FromSlash(r.PathValue("file")))
	if err := security.ValidatePathWithinDirectory(path, s.reportDir); err != nil {
		httputil.BadRequest(w, "invalid report path")
		return
	}
	http.ServeFile(w, r, path)
}
