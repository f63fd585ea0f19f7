package server

import (
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/testutil"
)

// slowAnalyzer delays every analysis.
type slowAnalyzer struct {
	*pipeline.Analyzer
	delay time.Duration
}

func (s *slowAnalyzer) Analyze(img image.Image) (*pipeline.Analysis, error) {
	time.Sleep(s.delay)
	return s.Analyzer.Analyze(img)
}

func newTestAnalyzer(t *testing.T, mutate ...func(*testutil.Restricted)) *pipeline.Analyzer {
	t.Helper()
	clf := testutil.Restrict(testutil.ReferenceClassifier(t))
	for _, m := range mutate {
		m(clf)
	}
	a, err := pipeline.NewBuilder().
		WithModelsDir(testutil.ModelsDir(t)).
		WithClassifier(clf).
		Build()
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T, cfg Config, a analyzerInterface) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServerWithAnalyzer(cfg, a)
	require.NoError(t, err)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})
	return s, ts
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartUpload builds a multipart body with an image part and form fields.
func multipartUpload(t *testing.T, field, filename string, data []byte, values map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, vs := range values {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func postImage(t *testing.T, url string, values map[string][]string) *http.Response {
	t.Helper()
	body, ct := multipartUpload(t, "image", "chest.png", pngBytes(t, testutil.Xray(96, 96)), values)
	resp, err := http.Post(url+"/analyze", ct, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
