package server

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/preprocess"
	"github.com/MeKo-Tech/toraxia/internal/report"
	"github.com/MeKo-Tech/toraxia/internal/testutil"
)

func decodeAnalyze(t *testing.T, resp *http.Response) AnalyzeResponse {
	t.Helper()
	var out AnalyzeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewServerWithAnalyzer_Nil(t *testing.T) {
	_, err := NewServerWithAnalyzer(DefaultConfig(), nil)
	require.Error(t, err)
}

func TestHealthHandler(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var h HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "dev", h.Version)
	_, err = time.Parse(time.RFC3339, h.Time)
	require.NoError(t, err)

	post, err := http.Post(ts.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	_ = post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestModelHandler(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))

	resp, err := http.Get(ts.URL + "/model")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m ModelResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, testutil.Labels, m.Model.Labels)
	assert.Equal(t, "backbone/features", m.Model.Layer)
	assert.Len(t, m.Thresholds, len(testutil.Labels))
	assert.InDelta(t, 0.5, m.Thresholds["Mass"], 1e-9)
}

func TestAnalyzeHandler_JSON(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))

	resp := postImage(t, ts.URL, map[string][]string{"class": {"Mass", "derrame pleural"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeAnalyze(t, resp)

	require.True(t, out.Success)
	require.NotNil(t, out.Result)
	assert.Equal(t, "chest.png", out.Result.File)
	assert.Equal(t, 96, out.Result.Width)
	assert.Equal(t, "Pneumonia", out.Result.Top.Class)
	require.Len(t, out.Result.Explanations, 3)
	assert.Equal(t, "gradcam", out.Result.Explanations[0].Status)
	assert.Equal(t, "Mass", out.Result.Explanations[1].Class)
	assert.Equal(t, "Effusion", out.Result.Explanations[2].Class)

	raw, err := base64.StdEncoding.DecodeString(out.Overlay)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	assert.Equal(t, 1, s.sessions.Len())
	_, err = s.sessions.Get(out.Result.ID)
	require.NoError(t, err)
}

func TestAnalyzeHandler_Formats(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))

	t.Run("csv", func(t *testing.T) {
		resp := postImage(t, ts.URL, map[string][]string{"format": {"csv"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, resp.Header.Get("X-Analysis-ID"))
		rows, err := csv.NewReader(resp.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 1+len(testutil.Labels))
	})

	t.Run("text in spanish", func(t *testing.T) {
		resp := postImage(t, ts.URL, map[string][]string{"format": {"text"}, "lang": {"es"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "Neumonía")
	})

	t.Run("png", func(t *testing.T) {
		resp := postImage(t, ts.URL, map[string][]string{"format": {"png"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Equal(t, "gradcam", resp.Header.Get("X-Attribution"))
		_, err := png.Decode(resp.Body)
		require.NoError(t, err)
	})

	t.Run("without overlay", func(t *testing.T) {
		resp := postImage(t, ts.URL, map[string][]string{"overlay": {"0"}})
		out := decodeAnalyze(t, resp)
		assert.Empty(t, out.Overlay)
	})
}

func TestAnalyzeHandler_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadMB = 1
	s, ts := newTestServer(t, cfg, newTestAnalyzer(t))

	t.Run("method", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/analyze")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("no file", func(t *testing.T) {
		body, ct := multipartUpload(t, "", "", nil, map[string][]string{"format": {"json"}})
		resp, err := http.Post(ts.URL+"/analyze", ct, body)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "No image file provided", decodeAnalyze(t, resp).Error)
	})

	t.Run("not an image", func(t *testing.T) {
		body, ct := multipartUpload(t, "image", "x.png", []byte("definitely not a png"), nil)
		resp, err := http.Post(ts.URL+"/analyze", ct, body)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid image format", decodeAnalyze(t, resp).Error)
	})

	t.Run("too small", func(t *testing.T) {
		body, ct := multipartUpload(t, "image", "x.png", pngBytes(t, testutil.Xray(8, 8)), nil)
		resp, err := http.Post(ts.URL+"/analyze", ct, body)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeAnalyze(t, resp).Error, "too small")
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := multipartUpload(t, "image", "x.png", bytes.Repeat([]byte{1}, 2<<20), nil)
		req := httptest.NewRequest(http.MethodPost, "/analyze", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		s.analyzeHandler(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("unknown class", func(t *testing.T) {
		resp := postImage(t, ts.URL, map[string][]string{"class": {"Fracture"}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, decodeAnalyze(t, resp).Error, "unknown class")
	})
}

func TestAnalyzeHandler_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutSec = 1
	slow := &slowAnalyzer{Analyzer: newTestAnalyzer(t), delay: 1500 * time.Millisecond}
	_, ts := newTestServer(t, cfg, slow)

	resp := postImage(t, ts.URL, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, decodeAnalyze(t, resp).Error, "timed out")
}

func TestAnalyzeHandler_Degraded(t *testing.T) {
	a := newTestAnalyzer(t, func(r *testutil.Restricted) {
		r.NoLayerGradients, r.NoInputGradients = true, true
	})
	_, ts := newTestServer(t, DefaultConfig(), a)

	resp := postImage(t, ts.URL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeAnalyze(t, resp)
	require.True(t, out.Success)
	ex := out.Result.Explanations[0]
	assert.True(t, ex.Degraded)
	assert.Equal(t, "degraded", ex.Status)
	assert.NotEmpty(t, ex.Error)
	assert.NotEmpty(t, out.Overlay)
}

func TestAnalyzeHandler_ShapeMismatch(t *testing.T) {
	b := pipeline.NewBuilder().
		WithModelsDir(testutil.ModelsDir(t)).
		WithClassifier(testutil.ReferenceClassifier(t))
	cfg := b.Config()
	cfg.Preprocess = preprocess.Config{Width: 48, Height: 48, Filter: "lanczos"}
	a, err := b.WithConfig(cfg).Build()
	require.NoError(t, err)
	_, ts := newTestServer(t, DefaultConfig(), a)

	resp := postImage(t, ts.URL, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, decodeAnalyze(t, resp).Error, "shape")
}

func analyzeID(t *testing.T, url string) string {
	t.Helper()
	out := decodeAnalyze(t, postImage(t, url, map[string][]string{"overlay": {"0"}}))
	require.True(t, out.Success)
	return out.Result.ID
}

func TestExplainHandler(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))
	id := analyzeID(t, ts.URL)

	t.Run("json body", func(t *testing.T) {
		body := strings.NewReader(`{"class": "cardiomegaly", "lang": "es"}`)
		resp, err := http.Post(ts.URL+"/analyses/"+id+"/explain", "application/json", body)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out ExplainResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.True(t, out.Success)
		assert.Equal(t, id, out.AnalysisID)
		assert.Equal(t, "Cardiomegaly", out.Explanation.Class)
		assert.Equal(t, "Cardiomegalia", out.Explanation.DisplayName)
		assert.Equal(t, "gradcam", out.Explanation.Status)
		assert.NotEmpty(t, out.Overlay)
	})

	t.Run("form png", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+"/analyses/"+id+"/explain", map[string][]string{
			"class": {"Mass"}, "format": {"png"},
		})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	})

	t.Run("missing class", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+"/analyses/"+id+"/explain", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown class", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+"/analyses/"+id+"/explain", map[string][]string{"class": {"Fracture"}})
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown analysis", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+"/analyses/nope/explain", map[string][]string{"class": {"Mass"}})
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad json", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/analyses/"+id+"/explain", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAnalysisHandler_GetDelete(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))
	id := analyzeID(t, ts.URL)

	resp, err := http.Get(ts.URL + "/analyses/" + id)
	require.NoError(t, err)
	out := decodeAnalyze(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, id, out.Result.ID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/analyses/"+id, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/analyses/" + id)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportHandler(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))
	id := analyzeID(t, ts.URL)

	resp, err := http.Get(ts.URL + "/analyses/" + id + "/report?class=Mass&class=Effusion&lang=es")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), id)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	n, err := report.PageCount(data)
	require.NoError(t, err)
	// summary, original, top overlay and two requested classes
	assert.Equal(t, 5, n)
}

func TestSessionExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	s, ts := newTestServer(t, cfg, newTestAnalyzer(t))

	first := analyzeID(t, ts.URL)
	second := analyzeID(t, ts.URL)
	assert.Equal(t, 1, s.sessions.Len())

	resp, err := http.Get(ts.URL + "/analyses/" + first)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/analyses/" + second)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), newTestAnalyzer(t))
	_ = analyzeID(t, ts.URL)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "toraxia_analyses_total")
	assert.Contains(t, string(body), `toraxia_explanations_total{degraded="false",strategy="gradcam"}`)
	assert.Contains(t, string(body), "toraxia_http_requests_total")
}

func TestServerClose(t *testing.T) {
	s, err := NewServerWithAnalyzer(DefaultConfig(), newTestAnalyzer(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
