package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/toraxia/internal/i18n"
	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/preprocess"
	"github.com/MeKo-Tech/toraxia/internal/report"
	"github.com/MeKo-Tech/toraxia/internal/session"
	"github.com/MeKo-Tech/toraxia/internal/utils"
	"github.com/MeKo-Tech/toraxia/internal/version"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
	formatText = "text"
	formatPNG  = "png"
)

// errTimeout is returned when a request outlives the configured timeout.
var errTimeout = errors.New("analysis timed out")

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, _, _ := version.Info()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Version:  v,
		Time:     time.Now().UTC().Format(time.RFC3339),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: s.sessions.Len(),
	})
}

// modelHandler describes the loaded classifier and its thresholds.
func (s *Server) modelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	info := s.analyzer.Info()
	table := s.analyzer.Thresholds()
	thresholds := make(map[string]float64, len(info.Labels))
	for _, l := range info.Labels {
		thresholds[l] = table.Threshold(l)
	}
	s.writeJSON(w, http.StatusOK, ModelResponse{Model: info, Thresholds: thresholds})
}

// analyzeHandler classifies an uploaded radiograph, explains the top class
// and retains the analysis for further explanations.
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	img, _, err := utils.DecodeImage(file)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateImageConstraints(img, s.constraints); err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	an, err := s.analyze(r.Context(), img)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errTimeout):
			status = http.StatusServiceUnavailable
		case errors.Is(err, preprocess.ErrInputShapeMismatch):
			status = http.StatusUnprocessableEntity
		}
		s.writeErrorResponse(w, fmt.Sprintf("Analysis failed: %v", err), status)
		return
	}

	tr := s.translator(r)
	var extra []*pipeline.Explanation
	for _, name := range r.MultipartForm.Value["class"] {
		ex, err := s.explainClass(an, name, tr)
		if err != nil {
			s.writeExplainError(w, err)
			return
		}
		extra = append(extra, ex)
	}

	res, err := pipeline.NewResult(an, tr, extra...)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res.File = header.Filename

	switch requestFormat(r) {
	case formatCSV:
		out, err := pipeline.ToCSV(res)
		if err != nil {
			http.Error(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("X-Analysis-ID", an.ID)
		_, _ = w.Write([]byte(out))
	case formatText:
		out, err := pipeline.ToPlainText(res, tr)
		if err != nil {
			http.Error(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Analysis-ID", an.ID)
		_, _ = w.Write([]byte(out))
	case formatPNG:
		s.writePNG(w, an.ID, an.Explanation)
	default:
		resp := AnalyzeResponse{Success: true, Result: res}
		if r.FormValue("overlay") != "0" {
			resp.Overlay = encodeOverlay(an.Explanation)
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// analyze runs the analyzer and stores the result, giving up when ctx ends.
// An abandoned analysis still finishes in the background and is discarded.
func (s *Server) analyze(ctx context.Context, img image.Image) (*pipeline.Analysis, error) {
	type outcome struct {
		an  *pipeline.Analysis
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		an, err := s.analyzer.Analyze(img)
		done <- outcome{an, err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		analysesTotal.WithLabelValues("timeout").Inc()
		return nil, errTimeout
	}
	if o.err != nil {
		analysesTotal.WithLabelValues("error").Inc()
		slog.Warn("Analysis failed", "error", o.err)
		return nil, o.err
	}
	analysesTotal.WithLabelValues("success").Inc()
	analysisDuration.Observe(o.an.Duration.Seconds())
	observeExplanation(o.an.Explanation.Strategy, o.an.Explanation.Degraded)

	s.sessions.Put(o.an.ID, o.an)
	activeSessions.Inc()
	return o.an, nil
}

// explainClass resolves name, translated display names included, and
// explains it for an.
func (s *Server) explainClass(an *pipeline.Analysis, name string, tr *i18n.Translator) (*pipeline.Explanation, error) {
	if canonical, ok := tr.Canonical(name); ok {
		name = canonical
	}
	ex, err := s.analyzer.ExplainName(an, name)
	if err != nil {
		return nil, err
	}
	observeExplanation(ex.Strategy, ex.Degraded)
	return ex, nil
}

// analysisHandler returns or deletes a retained analysis.
func (s *Server) analysisHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		an, ok := s.lookup(w, id)
		if !ok {
			return
		}
		res, err := pipeline.NewResult(an, s.translator(r))
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, AnalyzeResponse{Success: true, Result: res})
	case http.MethodDelete:
		if !s.sessions.Delete(id) {
			s.writeErrorResponse(w, "Analysis not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// explainHandler explains another class of a retained analysis.
func (s *Server) explainHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	an, ok := s.lookup(w, r.PathValue("id"))
	if !ok {
		return
	}

	var req ExplainRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
	} else {
		req.Class = r.FormValue("class")
		req.Language = r.FormValue("lang")
	}
	if req.Class == "" {
		s.writeErrorResponse(w, "No class provided", http.StatusBadRequest)
		return
	}

	tr := s.translator(r)
	if req.Language != "" {
		tr = i18n.New(req.Language)
	}
	ex, err := s.explainClass(an, req.Class, tr)
	if err != nil {
		s.writeExplainError(w, err)
		return
	}
	if requestFormat(r) == formatPNG {
		s.writePNG(w, an.ID, ex)
		return
	}
	res := pipeline.NewExplanationResult(ex, tr)
	s.writeJSON(w, http.StatusOK, ExplainResponse{
		Success:     true,
		AnalysisID:  an.ID,
		Explanation: &res,
		Overlay:     encodeOverlay(ex),
	})
}

// reportHandler renders a PDF report for a retained analysis. Every class
// query value adds an explanation page.
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	an, ok := s.lookup(w, r.PathValue("id"))
	if !ok {
		return
	}
	tr := s.translator(r)
	explanations := []*pipeline.Explanation{an.Explanation}
	for _, name := range r.URL.Query()["class"] {
		ex, err := s.explainClass(an, name, tr)
		if err != nil {
			s.writeExplainError(w, err)
			return
		}
		explanations = append(explanations, ex)
	}

	b, err := pipeline.ReportBundle("Chest X-ray analysis "+an.ID, an, tr, explanations...)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "report_"+an.ID+".pdf"))
	if err := report.Write(w, b); err != nil {
		slog.Error("Failed to write report", "id", an.ID, "error", err)
	}
}

func (s *Server) lookup(w http.ResponseWriter, id string) (*pipeline.Analysis, bool) {
	an, err := s.sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.writeErrorResponse(w, "Analysis not found or expired", http.StatusNotFound)
		} else {
			s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		}
		return nil, false
	}
	return an, true
}

// translator picks the response language from ?lang=, Accept-Language or
// the server default.
func (s *Server) translator(r *http.Request) *i18n.Translator {
	if lang := r.FormValue("lang"); lang != "" {
		return i18n.New(lang)
	}
	if al := r.Header.Get("Accept-Language"); al != "" {
		tag, _, _ := strings.Cut(al, ",")
		tag, _, _ = strings.Cut(tag, ";")
		return i18n.New(strings.TrimSpace(tag))
	}
	return i18n.New(s.language)
}

func requestFormat(r *http.Request) string {
	f := r.FormValue("format")
	if f == "" {
		f = r.URL.Query().Get("format")
	}
	if f == "" {
		return formatJSON
	}
	return strings.ToLower(f)
}

func (s *Server) writeExplainError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrUnknownClass) {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeErrorResponse(w, fmt.Sprintf("Explanation failed: %v", err), http.StatusInternalServerError)
}

func (s *Server) writePNG(w http.ResponseWriter, id string, ex *pipeline.Explanation) {
	data, err := pipeline.EncodePNG(ex.Overlay)
	if err != nil {
		s.writeErrorResponse(w, "overlay failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Analysis-ID", id)
	w.Header().Set("X-Attribution", ex.Status())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func encodeOverlay(ex *pipeline.Explanation) string {
	if ex == nil {
		return ""
	}
	data, err := pipeline.EncodePNG(ex.Overlay)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, AnalyzeResponse{Success: false, Error: message})
}
