package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/toraxia/internal/pipeline"
	"github.com/MeKo-Tech/toraxia/internal/report"
	"github.com/MeKo-Tech/toraxia/internal/server"
)

// RegisterServerSteps registers steps against an in-process HTTP server.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the explanation server is running$`, testCtx.theExplanationServerIsRunning)
	sc.Step(`^I upload "([^"]*)" for analysis$`, testCtx.iUploadForAnalysis)
	sc.Step(`^I upload "([^"]*)" for analysis with class "([^"]*)"$`, testCtx.iUploadForAnalysisWithClass)
	sc.Step(`^I upload "([^"]*)" for analysis as "([^"]*)"$`, testCtx.iUploadForAnalysisAs)
	sc.Step(`^I request an explanation of "([^"]*)"$`, testCtx.iRequestAnExplanationOf)
	sc.Step(`^I request an explanation of "([^"]*)" for analysis "([^"]*)"$`, testCtx.iRequestAnExplanationFor)
	sc.Step(`^I request the report with class "([^"]*)"$`, testCtx.iRequestTheReportWithClass)
	sc.Step(`^I delete the analysis$`, testCtx.iDeleteTheAnalysis)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response content type should be "([^"]*)"$`, testCtx.theResponseContentTypeShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the explanation should be for "([^"]*)" shown as "([^"]*)"$`, testCtx.theExplanationShouldBeFor)
	sc.Step(`^the report should have (\d+) pages$`, testCtx.theResponseReportShouldHavePages)
}

func (testCtx *TestContext) theExplanationServerIsRunning() error {
	cfg := server.DefaultConfig()
	cfg.PipelineConfig.ModelsDir = testCtx.ModelsDir
	cfg.PipelineConfig.Model.Backend = pipeline.BackendReference

	s, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	testCtx.Server = s
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) baseURL() (string, error) {
	if testCtx.HTTPServer == nil {
		return "", errors.New("server is not running")
	}
	return testCtx.HTTPServer.URL, nil
}

func (testCtx *TestContext) upload(name string, values map[string]string) error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, base+"/analyze", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := testCtx.do(req); err != nil {
		return err
	}

	if id := testCtx.LastHTTPHeaders["X-Analysis-Id"]; id != "" {
		testCtx.LastAnalysisID = id
		return nil
	}
	var resp server.AnalyzeResponse
	if json.Unmarshal(testCtx.LastHTTPResponse, &resp) == nil && resp.Result != nil {
		testCtx.LastAnalysisID = resp.Result.ID
	}
	return nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iUploadForAnalysis(name string) error {
	return testCtx.upload(name, nil)
}

func (testCtx *TestContext) iUploadForAnalysisWithClass(name, class string) error {
	return testCtx.upload(name, map[string]string{"class": class})
}

func (testCtx *TestContext) iUploadForAnalysisAs(name, format string) error {
	return testCtx.upload(name, map[string]string{"format": format})
}

func (testCtx *TestContext) iRequestAnExplanationOf(class string) error {
	return testCtx.iRequestAnExplanationFor(class, testCtx.LastAnalysisID)
}

func (testCtx *TestContext) iRequestAnExplanationFor(class, id string) error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(server.ExplainRequest{Class: class})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, base+"/analyses/"+id+"/explain", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) iRequestTheReportWithClass(class string) error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, base+"/analyses/"+testCtx.LastAnalysisID+"/report?class="+class, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iDeleteTheAnalysis() error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodDelete, base+"/analyses/"+testCtx.LastAnalysisID, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iSendAGETRequestTo(path string) error {
	base, err := testCtx.baseURL()
	if err != nil {
		return err
	}
	path = strings.ReplaceAll(path, "{id}", testCtx.LastAnalysisID)
	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseContentTypeShouldBe(ct string) error {
	got := testCtx.LastHTTPHeaders["Content-Type"]
	if !strings.HasPrefix(got, ct) {
		return fmt.Errorf("expected content type %q, got %q", ct, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !bytes.Contains(testCtx.LastHTTPResponse, []byte(text)) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theExplanationShouldBeFor(class, display string) error {
	var resp server.ExplainResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &resp); err != nil {
		return fmt.Errorf("invalid explain response: %w", err)
	}
	if resp.Explanation == nil {
		return fmt.Errorf("no explanation in response: %s", testCtx.LastHTTPResponse)
	}
	if resp.Explanation.Class != class || resp.Explanation.DisplayName != display {
		return fmt.Errorf("expected %s (%s), got %s (%s)", class, display,
			resp.Explanation.Class, resp.Explanation.DisplayName)
	}
	return nil
}

func (testCtx *TestContext) theResponseReportShouldHavePages(n int) error {
	pages, err := report.PageCount(testCtx.LastHTTPResponse)
	if err != nil {
		return err
	}
	if pages != n {
		return fmt.Errorf("expected %d pages, got %d", n, pages)
	}
	return nil
}
